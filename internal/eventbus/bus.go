// Package eventbus delivers named, JSON-serializable change notifications to
// every subscriber, including ones in other OS processes. Delivery is
// best-effort and fire-and-forget: nothing is persisted, and a subscriber
// registered after emission never sees the event. Two interchangeable
// carriers exist: an in-process broadcast registry and a Redis Pub/Sub
// channel for cross-process windows; the choice is made once at startup.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"daylist/internal/task"
)

// DefaultDebounceWindow coalesces bursty publishes of the same event name
// into one delivery carrying the most recent payload.
const DefaultDebounceWindow = 80 * time.Millisecond

// Handler receives a delivered event. Handlers must tolerate duplicate and
// out-of-order deliveries.
type Handler func(e Envelope)

// Envelope is the wire form of an event.
type Envelope struct {
	ID         uuid.UUID       `json:"id"`
	Name       string          `json:"name"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// Carrier transports envelopes to subscribers. Implementations: Broadcast
// (same process) and RedisCarrier (cross-process).
type Carrier interface {
	Publish(ctx context.Context, e Envelope) error
	Subscribe(name string, fn Handler) (unsubscribe func(), err error)
	Close() error
}

// Bus wraps a Carrier and debounces the bursty event names; everything else
// is delivered immediately and individually.
type Bus struct {
	carrier   Carrier
	logger    *slog.Logger
	window    time.Duration
	debounced map[string]*debouncer
	mu        sync.Mutex
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithWindow overrides the debounce window, mainly for tests.
func WithWindow(d time.Duration) BusOption {
	return func(b *Bus) { b.window = d }
}

// WithLogger sets the bus logger.
func WithLogger(l *slog.Logger) BusOption {
	return func(b *Bus) { b.logger = l }
}

// New builds a Bus on the given carrier. tasks-reordered is debounced so a
// rapid drag sequence does not flood observers.
func New(carrier Carrier, opts ...BusOption) *Bus {
	b := &Bus{
		carrier:   carrier,
		logger:    slog.Default(),
		window:    DefaultDebounceWindow,
		debounced: make(map[string]*debouncer),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.debounced[task.EventReordered] = newDebouncer(b.window, b.flush)
	return b
}

// Publish marshals payload and delivers it under name. A payload that cannot
// be marshaled is a logic bug and reported as task.ErrUnserializable.
func (b *Bus) Publish(ctx context.Context, name string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: event %s: %v", task.ErrUnserializable, name, err)
	}
	e := Envelope{
		ID:         uuid.New(),
		Name:       name,
		OccurredAt: time.Now(),
		Payload:    raw,
	}
	b.mu.Lock()
	d := b.debounced[name]
	b.mu.Unlock()
	if d != nil {
		d.publish(e)
		return nil
	}
	return b.carrier.Publish(ctx, e)
}

// Subscribe registers fn for events named name. The returned function
// removes the subscription; multiple subscribers per name are allowed and
// their relative delivery order is unspecified.
func (b *Bus) Subscribe(name string, fn Handler) (func(), error) {
	return b.carrier.Subscribe(name, fn)
}

// Close flushes any pending debounced event and closes the carrier.
func (b *Bus) Close() error {
	b.mu.Lock()
	debounced := make([]*debouncer, 0, len(b.debounced))
	for _, d := range b.debounced {
		debounced = append(debounced, d)
	}
	b.mu.Unlock()
	for _, d := range debounced {
		d.stop()
	}
	return b.carrier.Close()
}

// flush hands a coalesced envelope to the carrier; by then the original
// publisher is long gone, so failures are logged, not returned.
func (b *Bus) flush(e Envelope) {
	if err := b.carrier.Publish(context.Background(), e); err != nil {
		b.logger.Error("debounced publish failed", "event", e.Name, "error", err)
	}
}
