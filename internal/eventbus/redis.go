package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisCarrier transports envelopes over a Redis Pub/Sub channel so windows
// in different OS processes observe each other's mutations. The carrier
// subscribes to its own channel, so the publishing process receives its own
// events the same way any other window does; view reloads are full replaces,
// which keeps that duplicate-safe.
type RedisCarrier struct {
	client  *redis.Client
	channel string
	sub     *redis.PubSub
	local   *Broadcast
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewRedisCarrier connects to Redis at addr and joins the named channel.
// The returned carrier is live immediately: the subscription is confirmed
// before this function returns.
func NewRedisCarrier(ctx context.Context, addr, channel string, logger *slog.Logger) (*RedisCarrier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	sub := client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("redis subscribe failed: %w", err)
	}

	c := &RedisCarrier{
		client:  client,
		channel: channel,
		sub:     sub,
		local:   NewBroadcast(logger),
		logger:  logger,
	}
	c.wg.Add(1)
	go c.receive()

	logger.Info("redis carrier connected", "addr", addr, "channel", channel)
	return c, nil
}

// Publish marshals the envelope onto the channel.
func (c *RedisCarrier) Publish(ctx context.Context, e Envelope) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, c.channel, data).Err()
}

// Subscribe registers a local handler; delivery happens when the envelope
// comes back off the channel.
func (c *RedisCarrier) Subscribe(name string, fn Handler) (func(), error) {
	return c.local.Subscribe(name, fn)
}

// receive dispatches incoming channel messages to local handlers until the
// subscription is closed.
func (c *RedisCarrier) receive() {
	defer c.wg.Done()
	for msg := range c.sub.Channel() {
		var e Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
			c.logger.Error("dropping malformed event", "channel", c.channel, "error", err)
			continue
		}
		_ = c.local.Publish(context.Background(), e)
	}
}

// Close tears down the subscription and the client.
func (c *RedisCarrier) Close() error {
	err := c.sub.Close()
	c.wg.Wait()
	if cerr := c.client.Close(); err == nil {
		err = cerr
	}
	return err
}
