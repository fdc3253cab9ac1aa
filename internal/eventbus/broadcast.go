package eventbus

import (
	"context"
	"log/slog"
	"sync"
)

// Broadcast is the same-process carrier: a volatile registry of handlers per
// event name with synchronous delivery. A panicking handler is recovered and
// logged so it can never block delivery to the others or crash the publisher.
type Broadcast struct {
	mu       sync.RWMutex
	handlers map[string]map[int64]Handler
	nextID   int64
	logger   *slog.Logger
}

// NewBroadcast creates an empty in-process carrier.
func NewBroadcast(logger *slog.Logger) *Broadcast {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcast{
		handlers: make(map[string]map[int64]Handler),
		logger:   logger,
	}
}

// Publish delivers e to every current subscriber of e.Name.
func (c *Broadcast) Publish(_ context.Context, e Envelope) error {
	c.mu.RLock()
	registered := c.handlers[e.Name]
	snapshot := make([]Handler, 0, len(registered))
	for _, fn := range registered {
		snapshot = append(snapshot, fn)
	}
	c.mu.RUnlock()

	for _, fn := range snapshot {
		c.deliver(e, fn)
	}
	return nil
}

func (c *Broadcast) deliver(e Envelope, fn Handler) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event handler panicked", "event", e.Name, "panic", r)
		}
	}()
	fn(e)
}

// Subscribe registers fn for name and returns its removal function.
func (c *Broadcast) Subscribe(name string, fn Handler) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers[name] == nil {
		c.handlers[name] = make(map[int64]Handler)
	}
	c.nextID++
	id := c.nextID
	c.handlers[name][id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[name], id)
	}, nil
}

// Close drops all subscriptions.
func (c *Broadcast) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = make(map[string]map[int64]Handler)
	return nil
}
