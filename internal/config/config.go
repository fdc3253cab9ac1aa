// Package config loads the TOML configuration, writing a commented default
// file on first launch.
package config

import (
	"errors"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	DefaultConfigFileName = "config.toml"
	DefaultDBName         = "daylist.db"
	DefaultChannel        = "daylist:events"
)

// Carrier names accepted in [bus].
const (
	CarrierInProcess = "inprocess"
	CarrierRedis     = "redis"
)

type Keymap struct {
	Quit           string `toml:"quit"`
	Add            string `toml:"add"`
	Up             string `toml:"up"`
	Down           string `toml:"down"`
	Toggle         string `toml:"toggle"`
	Delete         string `toml:"delete"`
	Confirm        string `toml:"confirm"`
	Cancel         string `toml:"cancel"`
	MoveUp         string `toml:"move_up"`
	MoveDown       string `toml:"move_down"`
	PrevDay        string `toml:"prev_day"`
	NextDay        string `toml:"next_day"`
	Postpone       string `toml:"postpone"`
	PullToToday    string `toml:"pull_to_today"`
	ClearCompleted string `toml:"clear_completed"`
}

type BusConfig struct {
	// Carrier selects the event transport: "inprocess" for a single
	// process, "redis" when several windows must see each other.
	Carrier   string `toml:"carrier"`
	RedisAddr string `toml:"redis_addr"`
	Channel   string `toml:"channel"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type Config struct {
	DBPath string    `toml:"db_path"`
	Bus    BusConfig `toml:"bus"`
	Log    LogConfig `toml:"log"`
	Keys   Keymap    `toml:"keys"`
}

// ResolveConfigPath returns the per-user config file location, falling back
// to the working directory when the user config dir is unavailable.
func ResolveConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return DefaultConfigFileName
	}
	return filepath.Join(base, "daylist", DefaultConfigFileName)
}

// LoadOrCreate reads the config at path, writing the defaults first when the
// file does not exist yet.
func LoadOrCreate(path string) (Config, error) {
	cfg := defaultConfig(path)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := write(path, cfg); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(filepath.Dir(path), DefaultDBName)
	}
	if cfg.Bus.Carrier == "" {
		cfg.Bus.Carrier = CarrierInProcess
	}
	if cfg.Bus.Channel == "" {
		cfg.Bus.Channel = DefaultChannel
	}
	return cfg, nil
}

func write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultConfig(path string) Config {
	return Config{
		DBPath: filepath.Join(filepath.Dir(path), DefaultDBName),
		Bus: BusConfig{
			Carrier:   CarrierInProcess,
			RedisAddr: "localhost:6379",
			Channel:   DefaultChannel,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Keys: Keymap{
			Quit:           "q",
			Add:            "a",
			Up:             "k",
			Down:           "j",
			Toggle:         " ",
			Delete:         "d",
			Confirm:        "enter",
			Cancel:         "esc",
			MoveUp:         "K",
			MoveDown:       "J",
			PrevDay:        "[",
			NextDay:        "]",
			Postpone:       "p",
			PullToToday:    "t",
			ClearCompleted: "C",
		},
	}
}
