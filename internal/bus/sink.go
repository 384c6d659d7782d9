// internal/bus/sink.go
package bus

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Handler processes a single event. Returning an error triggers the
// dispatcher's retry path.
type Handler func(ctx context.Context, env Envelope) error

// EventSink is the publish/subscribe abstraction of the bus. Subscriptions
// match by topic prefix so a single consumer can observe every tenant's
// topic. Delivery is at-least-once and FIFO per topic; distinct topics are
// delivered concurrently.
type EventSink interface {
	Publish(ctx context.Context, topic string, env Envelope) error
	Subscribe(topicPrefix, consumer string, h Handler)
	Close()
}

type subscription struct {
	prefix   string
	consumer string
	handler  Handler
}

// MemorySink is the in-process EventSink. Each topic owns one delivery
// goroutine, which gives per-topic (and therefore per-tenant) FIFO ordering
// while separate tenants proceed independently.
type MemorySink struct {
	mu     sync.Mutex
	subs   []subscription
	topics map[string]*topicQueue
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

type topicQueue struct {
	mu      sync.Mutex
	pending []Envelope
	wake    chan struct{}
}

// NewMemorySink creates a started in-memory sink.
func NewMemorySink(logger *zap.Logger) *MemorySink {
	ctx, cancel := context.WithCancel(context.Background())
	return &MemorySink{
		topics: make(map[string]*topicQueue),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Subscribe registers a handler for every topic matching the prefix.
// Subscriptions must be registered before the first Publish on a topic that
// should reach them; late subscribers only see later events.
func (s *MemorySink) Subscribe(topicPrefix, consumer string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, subscription{prefix: topicPrefix, consumer: consumer, handler: h})
}

// Publish enqueues the envelope on the topic and returns immediately.
func (s *MemorySink) Publish(ctx context.Context, topic string, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	q, ok := s.topics[topic]
	if !ok {
		q = &topicQueue{wake: make(chan struct{}, 1)}
		s.topics[topic] = q
		s.wg.Add(1)
		go s.deliverLoop(topic, q)
	}
	s.mu.Unlock()

	q.mu.Lock()
	q.pending = append(q.pending, env)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close stops delivery. Events still pending are dropped; durable replay is
// the outbox relay's job.
func (s *MemorySink) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *MemorySink) deliverLoop(topic string, q *topicQueue) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-q.wake:
		}

		for {
			q.mu.Lock()
			if len(q.pending) == 0 {
				q.mu.Unlock()
				break
			}
			env := q.pending[0]
			q.pending = q.pending[1:]
			q.mu.Unlock()

			s.mu.Lock()
			subs := make([]subscription, 0, len(s.subs))
			for _, sub := range s.subs {
				if strings.HasPrefix(topic, sub.prefix) {
					subs = append(subs, sub)
				}
			}
			s.mu.Unlock()

			for _, sub := range subs {
				if err := sub.handler(s.ctx, env); err != nil {
					// Handlers wrapped by the dispatcher only return an
					// error once the event has been dead-lettered.
					s.logger.Error("event handler failed",
						zap.String("topic", topic),
						zap.String("consumer", sub.consumer),
						zap.String("event_id", env.EventID.String()),
						zap.Error(err))
				}
			}

			if s.ctx.Err() != nil {
				return
			}
		}
	}
}
