// internal/repository/outbox_repository.go
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"todocore/internal/bus"
	"todocore/internal/metrics"
)

// OutboxRepository stores events in the same transaction as the domain
// write that produced them. A relay drains committed rows to the bus, which
// yields at-least-once publication without dual writes.
type OutboxRepository struct {
	db *sqlx.DB
}

func NewOutboxRepository(db *sqlx.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Enqueue writes one outbox row per event inside the caller's transaction.
// Each envelope is duplicated onto the tenant's update topic so the sync
// fan-out sees the same stream as the domain consumers.
func (r *OutboxRepository) Enqueue(ctx context.Context, tx *sqlx.Tx, events ...bus.Envelope) error {
	for _, env := range events {
		raw, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("marshal envelope %s: %w", env.EventID, err)
		}
		for _, topic := range []string{bus.TaskEventsTopic(env.TenantID), bus.TaskUpdatesTopic(env.TenantID)} {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO outbox_events (topic, envelope, occurred_at) VALUES ($1, $2, $3)`,
				topic, raw, env.OccurredAt); err != nil {
				return fmt.Errorf("enqueue outbox event %s: %w", env.EventID, err)
			}
		}
	}
	return nil
}

type outboxRow struct {
	ID       int64           `db:"id"`
	Topic    string          `db:"topic"`
	Envelope json.RawMessage `db:"envelope"`
}

// Relay polls the outbox and publishes committed events to the sink in
// insertion order. SKIP LOCKED lets multiple replicas drain concurrently
// without publishing the same row twice.
type Relay struct {
	db       *sqlx.DB
	sink     bus.EventSink
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

func NewRelay(db *sqlx.DB, sink bus.EventSink, interval, publishTimeout time.Duration, logger *zap.Logger) *Relay {
	return &Relay{db: db, sink: sink, interval: interval, timeout: publishTimeout, logger: logger}
}

// Run drains the outbox until the context is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.drainOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("outbox drain failed", zap.Error(err))
			}
		}
	}
}

func (r *Relay) drainOnce(ctx context.Context) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin outbox tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var rows []outboxRow
	if err := tx.SelectContext(ctx, &rows, `
		SELECT id, topic, envelope FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT 100
		FOR UPDATE SKIP LOCKED`); err != nil {
		return fmt.Errorf("select outbox rows: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	published := make([]int64, 0, len(rows))
	for _, row := range rows {
		var env bus.Envelope
		if err := json.Unmarshal(row.Envelope, &env); err != nil {
			// A row that cannot be decoded would wedge the relay forever;
			// mark it published and log loudly instead.
			r.logger.Error("undecodable outbox row", zap.Int64("id", row.ID), zap.Error(err))
			published = append(published, row.ID)
			continue
		}

		pubCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := r.sink.Publish(pubCtx, row.Topic, env)
		cancel()
		if err != nil {
			// Stop at the first failure to preserve per-topic ordering.
			break
		}
		metrics.EventsPublished.WithLabelValues(env.Type).Inc()
		published = append(published, row.ID)
	}

	if len(published) == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE outbox_events SET published_at = now() WHERE id = ANY($1)`,
		pq.Int64Array(published)); err != nil {
		return fmt.Errorf("mark outbox rows published: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	var backlog int
	if err := r.db.GetContext(ctx, &backlog,
		`SELECT count(*) FROM outbox_events WHERE published_at IS NULL`); err == nil {
		metrics.OutboxBacklog.Set(float64(backlog))
	}
	return nil
}
