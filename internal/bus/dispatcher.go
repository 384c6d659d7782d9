// internal/bus/dispatcher.go
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"todocore/internal/metrics"
)

// Ledger is the idempotency coordination point shared by all consumers.
// Claim atomically records (event_id, consumer) and reports whether this
// call was the first to do so.
type Ledger interface {
	Claim(ctx context.Context, eventID uuid.UUID, consumer string) (firstSeen bool, err error)
}

// Dispatcher wraps consumer handlers with the shared consumption contract:
// duplicate suppression through the ledger, exponential backoff on failure
// and dead-lettering once the retry budget is exhausted.
type Dispatcher struct {
	sink        EventSink
	ledger      Ledger
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	logger      *zap.Logger

	// sleep is swappable in tests so backoff does not wall-clock wait.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a dispatcher with the given retry budget.
func NewDispatcher(sink EventSink, ledger Ledger, maxAttempts int, baseBackoff, maxBackoff time.Duration, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		sink:        sink,
		ledger:      ledger,
		maxAttempts: maxAttempts,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
		logger:      logger,
		sleep:       sleepCtx,
	}
}

// Subscribe registers the handler under the consumer name with the full
// consumption contract applied.
func (d *Dispatcher) Subscribe(topicPrefix, consumer string, h Handler) {
	d.sink.Subscribe(topicPrefix, consumer, d.wrap(consumer, h))
}

func (d *Dispatcher) wrap(consumer string, h Handler) Handler {
	return func(ctx context.Context, env Envelope) error {
		firstSeen, err := d.ledger.Claim(ctx, env.EventID, consumer)
		if err != nil {
			return fmt.Errorf("claim event %s for %s: %w", env.EventID, consumer, err)
		}
		if !firstSeen {
			metrics.EventsConsumed.WithLabelValues(env.Type, consumer, "duplicate").Inc()
			d.logger.Debug("duplicate event skipped",
				zap.String("event_id", env.EventID.String()),
				zap.String("consumer", consumer))
			return nil
		}

		var lastErr error
		backoff := d.baseBackoff
		for attempt := 1; attempt <= d.maxAttempts; attempt++ {
			lastErr = h(ctx, env)
			if lastErr == nil {
				metrics.EventsConsumed.WithLabelValues(env.Type, consumer, "ok").Inc()
				return nil
			}

			d.logger.Warn("event handler attempt failed",
				zap.String("event_id", env.EventID.String()),
				zap.String("consumer", consumer),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))

			if attempt == d.maxAttempts {
				break
			}
			if err := d.sleep(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
			if backoff > d.maxBackoff {
				backoff = d.maxBackoff
			}
		}

		metrics.EventsConsumed.WithLabelValues(env.Type, consumer, "dead_letter").Inc()
		return d.deadLetter(ctx, consumer, env, lastErr)
	}
}

func (d *Dispatcher) deadLetter(ctx context.Context, consumer string, env Envelope, cause error) error {
	dlq, err := NewEnvelope(env.TenantID, env.Type, time.Now().UTC(), DeadLetterPayload{
		Original:  env,
		Consumer:  consumer,
		Attempts:  d.maxAttempts,
		LastError: cause.Error(),
	})
	if err != nil {
		return err
	}
	if err := d.sink.Publish(ctx, DeadLetterTopic, dlq); err != nil {
		return fmt.Errorf("dead-letter event %s: %w", env.EventID, err)
	}
	metrics.DeadLetters.Inc()
	d.logger.Error("event dead-lettered",
		zap.String("event_id", env.EventID.String()),
		zap.String("consumer", consumer),
		zap.Error(cause))
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// MemoryLedger is an in-process Ledger for tests and single-binary runs
// without a database-backed ledger.
type MemoryLedger struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[string]struct{})}
}

func (l *MemoryLedger) Claim(_ context.Context, eventID uuid.UUID, consumer string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := eventID.String() + "/" + consumer
	if _, ok := l.seen[key]; ok {
		return false, nil
	}
	l.seen[key] = struct{}{}
	return true, nil
}
