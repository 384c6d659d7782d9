// internal/bus/dispatcher_test.go
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// captureSink records publishes and lets tests invoke subscribed handlers
// directly, without delivery goroutines.
type captureSink struct {
	mu        sync.Mutex
	published map[string][]Envelope
	handlers  []Handler
}

func newCaptureSink() *captureSink {
	return &captureSink{published: make(map[string][]Envelope)}
}

func (c *captureSink) Publish(_ context.Context, topic string, env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published[topic] = append(c.published[topic], env)
	return nil
}

func (c *captureSink) Subscribe(_, _ string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

func (c *captureSink) Close() {}

func (c *captureSink) topic(topic string) []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Envelope(nil), c.published[topic]...)
}

func newTestDispatcher(sink EventSink, ledger Ledger) (*Dispatcher, *[]time.Duration) {
	d := NewDispatcher(sink, ledger, 3, time.Second, 4*time.Second, zap.NewNop())
	var sleeps []time.Duration
	d.sleep = func(_ context.Context, dur time.Duration) error {
		sleeps = append(sleeps, dur)
		return nil
	}
	return d, &sleeps
}

func TestDispatcher_DuplicateDeliverySkipsHandler(t *testing.T) {
	sink := newCaptureSink()
	d, _ := newTestDispatcher(sink, NewMemoryLedger())

	calls := 0
	d.Subscribe(TaskEventsPrefix, "test-consumer", func(_ context.Context, _ Envelope) error {
		calls++
		return nil
	})
	require.Len(t, sink.handlers, 1)
	wrapped := sink.handlers[0]

	env := testEnvelope(t, uuid.New(), EventTaskCreated)
	require.NoError(t, wrapped(context.Background(), env))
	require.NoError(t, wrapped(context.Background(), env))

	assert.Equal(t, 1, calls)
}

func TestDispatcher_DistinctConsumersEachProcess(t *testing.T) {
	sink := newCaptureSink()
	ledger := NewMemoryLedger()
	a, _ := newTestDispatcher(sink, ledger)

	var consumers []string
	a.Subscribe(TaskEventsPrefix, "consumer-a", func(_ context.Context, _ Envelope) error {
		consumers = append(consumers, "a")
		return nil
	})
	a.Subscribe(TaskEventsPrefix, "consumer-b", func(_ context.Context, _ Envelope) error {
		consumers = append(consumers, "b")
		return nil
	})

	env := testEnvelope(t, uuid.New(), EventTaskCreated)
	for _, h := range sink.handlers {
		require.NoError(t, h(context.Background(), env))
	}
	assert.ElementsMatch(t, []string{"a", "b"}, consumers)
}

func TestDispatcher_RetriesWithExponentialBackoff(t *testing.T) {
	sink := newCaptureSink()
	d, sleeps := newTestDispatcher(sink, NewMemoryLedger())

	attempts := 0
	d.Subscribe(TaskEventsPrefix, "flaky", func(_ context.Context, _ Envelope) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	env := testEnvelope(t, uuid.New(), EventTaskCreated)
	require.NoError(t, sink.handlers[0](context.Background(), env))

	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *sleeps)
	assert.Empty(t, sink.topic(DeadLetterTopic))
}

func TestDispatcher_BackoffIsCapped(t *testing.T) {
	sink := newCaptureSink()
	d := NewDispatcher(sink, NewMemoryLedger(), 6, time.Second, 4*time.Second, zap.NewNop())
	var sleeps []time.Duration
	d.sleep = func(_ context.Context, dur time.Duration) error {
		sleeps = append(sleeps, dur)
		return nil
	}

	d.Subscribe(TaskEventsPrefix, "always-failing", func(_ context.Context, _ Envelope) error {
		return errors.New("permanent")
	})

	env := testEnvelope(t, uuid.New(), EventTaskCreated)
	require.NoError(t, sink.handlers[0](context.Background(), env))

	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second, 4 * time.Second,
	}, sleeps)
}

func TestDispatcher_DeadLettersAfterRetryBudget(t *testing.T) {
	sink := newCaptureSink()
	d, _ := newTestDispatcher(sink, NewMemoryLedger())

	attempts := 0
	d.Subscribe(TaskEventsPrefix, "poison", func(_ context.Context, _ Envelope) error {
		attempts++
		return errors.New("cannot process")
	})

	env := testEnvelope(t, uuid.New(), EventTaskCreated)
	require.NoError(t, sink.handlers[0](context.Background(), env))
	assert.Equal(t, 3, attempts)

	dead := sink.topic(DeadLetterTopic)
	require.Len(t, dead, 1)

	var payload DeadLetterPayload
	require.NoError(t, json.Unmarshal(dead[0].Payload, &payload))
	assert.Equal(t, env.EventID, payload.Original.EventID)
	assert.Equal(t, "poison", payload.Consumer)
	assert.Equal(t, 3, payload.Attempts)
	assert.Equal(t, "cannot process", payload.LastError)
}

func TestMemoryLedger_Claim(t *testing.T) {
	ledger := NewMemoryLedger()
	eventID := uuid.New()

	first, err := ledger.Claim(context.Background(), eventID, "consumer-a")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := ledger.Claim(context.Background(), eventID, "consumer-a")
	require.NoError(t, err)
	assert.False(t, again)

	// A different consumer claims the same event independently.
	other, err := ledger.Claim(context.Background(), eventID, "consumer-b")
	require.NoError(t, err)
	assert.True(t, other)
}
