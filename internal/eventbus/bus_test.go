package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daylist/internal/task"
)

type recorder struct {
	mu     sync.Mutex
	events []Envelope
}

func (r *recorder) handler() Handler {
	return func(e Envelope) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, e)
	}
}

func (r *recorder) all() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.events...)
}

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	b := New(NewBroadcast(nil), WithWindow(10*time.Millisecond))
	t.Cleanup(func() { b.Close() })
	return b
}

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	b := newTestBus(t)
	var first, second recorder

	_, err := b.Subscribe(task.EventAdded, first.handler())
	require.NoError(t, err)
	_, err = b.Subscribe(task.EventAdded, second.handler())
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), task.EventAdded, task.AddedPayload{
		Task: task.Task{ID: 1, Text: "x"},
	}))

	require.Len(t, first.all(), 1)
	require.Len(t, second.all(), 1)

	var payload task.AddedPayload
	require.NoError(t, json.Unmarshal(first.all()[0].Payload, &payload))
	assert.Equal(t, int64(1), payload.Task.ID)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := newTestBus(t)
	var rec recorder

	unsubscribe, err := b.Subscribe(task.EventDeleted, rec.handler())
	require.NoError(t, err)
	unsubscribe()

	require.NoError(t, b.Publish(context.Background(), task.EventDeleted, task.DeletedPayload{ID: 7}))
	assert.Empty(t, rec.all())
}

func TestSubscriberNotListeningAtEmissionNeverReceives(t *testing.T) {
	b := newTestBus(t)
	require.NoError(t, b.Publish(context.Background(), task.EventAdded, task.AddedPayload{}))

	var rec recorder
	_, err := b.Subscribe(task.EventAdded, rec.handler())
	require.NoError(t, err)
	assert.Empty(t, rec.all())
}

func TestPanickingHandlerDoesNotBlockOthers(t *testing.T) {
	b := newTestBus(t)
	var rec recorder

	_, err := b.Subscribe(task.EventUpdated, func(Envelope) { panic("boom") })
	require.NoError(t, err)
	_, err = b.Subscribe(task.EventUpdated, rec.handler())
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), task.EventUpdated, task.UpdatedPayload{Action: "toggled"}))
	assert.Len(t, rec.all(), 1)
}

func TestReorderedIsDebouncedToLatestPayload(t *testing.T) {
	b := newTestBus(t)
	var rec recorder

	_, err := b.Subscribe(task.EventReordered, rec.handler())
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(ctx, task.EventReordered, task.ReorderedPayload{IDs: []int64{int64(i)}}))
	}

	require.Eventually(t, func() bool { return len(rec.all()) == 1 },
		time.Second, 5*time.Millisecond)

	var payload task.ReorderedPayload
	require.NoError(t, json.Unmarshal(rec.all()[0].Payload, &payload))
	assert.Equal(t, []int64{4}, payload.IDs)
}

func TestOtherEventsDeliverImmediately(t *testing.T) {
	b := newTestBus(t)
	var rec recorder

	_, err := b.Subscribe(task.EventAdded, rec.handler())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, task.EventAdded, task.AddedPayload{Task: task.Task{ID: 1}}))
	require.NoError(t, b.Publish(ctx, task.EventAdded, task.AddedPayload{Task: task.Task{ID: 2}}))

	assert.Len(t, rec.all(), 2)
}

func TestCloseFlushesPendingDebounce(t *testing.T) {
	b := New(NewBroadcast(nil), WithWindow(time.Hour))
	var rec recorder

	_, err := b.Subscribe(task.EventReordered, rec.handler())
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), task.EventReordered, task.ReorderedPayload{IDs: []int64{9}}))
	require.NoError(t, b.Close())

	require.Len(t, rec.all(), 1)
}

func TestUnserializablePayload(t *testing.T) {
	b := newTestBus(t)
	err := b.Publish(context.Background(), task.EventAdded, make(chan int))
	assert.ErrorIs(t, err, task.ErrUnserializable)
}
