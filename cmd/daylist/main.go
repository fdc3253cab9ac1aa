package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"daylist/internal/config"
	"daylist/internal/eventbus"
	"daylist/internal/logging"
	"daylist/internal/storage"
	"daylist/internal/ui"
	"daylist/internal/viewstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "daylist:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		compact    = flag.Bool("compact", false, "show the compact next-task view")
		date       = flag.String("date", "", "date scope to open (YYYY-MM-DD, defaults to today)")
		configPath = flag.String("config", config.ResolveConfigPath(), "path to the config file")
	)
	flag.Parse()

	cfg, err := config.LoadOrCreate(*configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", *configPath, err)
	}

	logger := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	carrier, err := buildCarrier(cfg, logger)
	if err != nil {
		return err
	}
	bus := eventbus.New(carrier, eventbus.WithLogger(logger))
	defer bus.Close()

	store, err := storage.Open(cfg.DBPath,
		storage.WithPublisher(bus),
		storage.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("open store %s: %w", cfg.DBPath, err)
	}
	defer store.Close()

	view := viewstore.New(store, viewstore.WithLogger(logger))
	if err := view.Watch(bus); err != nil {
		return fmt.Errorf("watch bus: %w", err)
	}
	defer view.Unwatch()

	if *compact {
		return ui.RunCompact(view, cfg)
	}
	return ui.Run(view, store, cfg, *date)
}

func buildCarrier(cfg config.Config, logger *slog.Logger) (eventbus.Carrier, error) {
	switch cfg.Bus.Carrier {
	case config.CarrierRedis:
		return eventbus.NewRedisCarrier(context.Background(), cfg.Bus.RedisAddr, cfg.Bus.Channel, logger)
	case config.CarrierInProcess, "":
		return eventbus.NewBroadcast(logger), nil
	default:
		return nil, fmt.Errorf("unknown bus carrier %q", cfg.Bus.Carrier)
	}
}
