// internal/repository/reminder_repository.go
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"todocore/internal/models"
)

// ReminderRepository persists reminder jobs. The table is a projection of
// tasks with a due date and a reminder offset; rows are recomputed whenever
// their task changes.
type ReminderRepository struct {
	db *sqlx.DB
}

func NewReminderRepository(db *sqlx.DB) *ReminderRepository {
	return &ReminderRepository{db: db}
}

// Upsert creates or refreshes the job for a task, resetting it to pending.
func (r *ReminderRepository) Upsert(ctx context.Context, job models.ReminderJob) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reminder_jobs (task_id, tenant_id, fire_at, state, title, updated_at)
		VALUES ($1, $2, $3, 'pending', $4, now())
		ON CONFLICT (task_id) DO UPDATE
		SET tenant_id = EXCLUDED.tenant_id,
		    fire_at = EXCLUDED.fire_at,
		    state = 'pending',
		    title = EXCLUDED.title,
		    updated_at = now()`,
		job.TaskID, job.TenantID, job.FireAt, job.Title)
	if err != nil {
		return fmt.Errorf("upsert reminder job: %w", err)
	}
	return nil
}

// Cancel marks a pending job cancelled. Cancelling a fired or missing job
// is a no-op.
func (r *ReminderRepository) Cancel(ctx context.Context, taskID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE reminder_jobs SET state = 'cancelled', updated_at = now()
		WHERE task_id = $1 AND state = 'pending'`,
		taskID)
	if err != nil {
		return fmt.Errorf("cancel reminder job: %w", err)
	}
	return nil
}

// DuePending returns pending jobs ripe at the given instant.
func (r *ReminderRepository) DuePending(ctx context.Context, now time.Time, limit int) ([]models.ReminderJob, error) {
	var jobs []models.ReminderJob
	err := r.db.SelectContext(ctx, &jobs, `
		SELECT task_id, tenant_id, fire_at, state, title, updated_at
		FROM reminder_jobs
		WHERE state = 'pending' AND fire_at <= $1
		ORDER BY fire_at
		LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due reminder jobs: %w", err)
	}
	return jobs, nil
}

// MarkFired transitions pending to fired. The compare-and-swap on state
// ensures exactly one scheduler replica wins the transition.
func (r *ReminderRepository) MarkFired(ctx context.Context, taskID uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE reminder_jobs SET state = 'fired', updated_at = now()
		WHERE task_id = $1 AND state = 'pending'`,
		taskID)
	if err != nil {
		return false, fmt.Errorf("mark reminder fired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
