// internal/repository/processed_event_repository.go
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ProcessedEventRepository is the database-backed idempotency ledger. The
// primary-key insert is the serialization point between competing consumer
// replicas.
type ProcessedEventRepository struct {
	db *sqlx.DB
}

func NewProcessedEventRepository(db *sqlx.DB) *ProcessedEventRepository {
	return &ProcessedEventRepository{db: db}
}

// Claim atomically records (event_id, consumer). It returns true only for
// the single caller that inserted the row.
func (r *ProcessedEventRepository) Claim(ctx context.Context, eventID uuid.UUID, consumer string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO processed_events (event_id, consumer, first_seen_at)
		VALUES ($1, $2, now())
		ON CONFLICT (event_id, consumer) DO NOTHING`,
		eventID, consumer)
	if err != nil {
		return false, fmt.Errorf("claim event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim event rows: %w", err)
	}
	return n == 1, nil
}

// Reap deletes ledger rows older than the TTL and returns the count.
func (r *ProcessedEventRepository) Reap(ctx context.Context, ttl time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM processed_events WHERE first_seen_at < $1`,
		time.Now().UTC().Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("reap processed events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}
