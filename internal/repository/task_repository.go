// internal/repository/task_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"todocore/internal/bus"
	"todocore/internal/models"
)

const taskColumns = `id, tenant_id, title, description, status, priority, tags,
	due_date, recurrence, reminder_offset, created_at, updated_at, completed_at`

// TaskRepository persists tasks in Postgres. Mutations write their outbox
// rows inside the same transaction, so an event is durably enqueued iff the
// state change commits.
type TaskRepository struct {
	db     *sqlx.DB
	outbox *OutboxRepository
}

func NewTaskRepository(db *sqlx.DB, outbox *OutboxRepository) *TaskRepository {
	return &TaskRepository{db: db, outbox: outbox}
}

// Create inserts the task and enqueues its events atomically.
func (r *TaskRepository) Create(ctx context.Context, task *models.Task, events ...bus.Envelope) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, tenant_id, title, description, status, priority, tags,
				due_date, recurrence, reminder_offset, search_index, created_at, updated_at, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
				to_tsvector('english', unaccent(coalesce($3, '') || ' ' || coalesce($4, ''))),
				$11, $12, $13)`,
			task.ID, task.TenantID, task.Title, task.Description, task.Status,
			task.Priority, task.Tags, task.DueDate, task.Recurrence,
			task.ReminderOffset, task.CreatedAt, task.UpdatedAt, task.CompletedAt)
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		return r.outbox.Enqueue(ctx, tx, events...)
	})
}

// Get returns the task if it exists and belongs to the tenant. A foreign
// tenant's task yields ErrNotFound, never a permission error.
func (r *TaskRepository) Get(ctx context.Context, tenantID, id uuid.UUID) (*models.Task, error) {
	var task models.Task
	err := r.db.GetContext(ctx, &task,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &task, nil
}

// Mutate loads the task under a row lock, applies fn, writes the result
// back and enqueues fn's events, all in one transaction. fn returning
// (nil, nil, nil) leaves the row untouched, which makes idempotent
// operations cheap.
func (r *TaskRepository) Mutate(
	ctx context.Context,
	tenantID, id uuid.UUID,
	fn func(current *models.Task) (*models.Task, []bus.Envelope, error),
) (*models.Task, error) {
	var result *models.Task
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		var current models.Task
		err := tx.GetContext(ctx, &current,
			`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND tenant_id = $2 FOR UPDATE`,
			id, tenantID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock task: %w", err)
		}

		next, events, err := fn(&current)
		if err != nil {
			return err
		}
		if next == nil {
			result = &current
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE tasks SET
				title = $3, description = $4, status = $5, priority = $6, tags = $7,
				due_date = $8, recurrence = $9, reminder_offset = $10,
				search_index = to_tsvector('english', unaccent(coalesce($3, '') || ' ' || coalesce($4, ''))),
				updated_at = $11, completed_at = $12
			WHERE id = $1 AND tenant_id = $2`,
			next.ID, next.TenantID, next.Title, next.Description, next.Status,
			next.Priority, next.Tags, next.DueDate, next.Recurrence,
			next.ReminderOffset, next.UpdatedAt, next.CompletedAt)
		if err != nil {
			return fmt.Errorf("update task: %w", err)
		}

		result = next
		return r.outbox.Enqueue(ctx, tx, events...)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes the task and enqueues the events built from the deleted
// row. Deleting a missing or foreign task yields ErrNotFound.
func (r *TaskRepository) Delete(
	ctx context.Context,
	tenantID, id uuid.UUID,
	buildEvents func(deleted *models.Task) ([]bus.Envelope, error),
) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		var task models.Task
		err := tx.GetContext(ctx, &task,
			`DELETE FROM tasks WHERE id = $1 AND tenant_id = $2 RETURNING `+taskColumns,
			id, tenantID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("delete task: %w", err)
		}

		events, err := buildEvents(&task)
		if err != nil {
			return err
		}
		return r.outbox.Enqueue(ctx, tx, events...)
	})
}

// List executes the query built from the list parameters and returns the
// page plus the total match count.
func (r *TaskRepository) List(ctx context.Context, tenantID uuid.UUID, q ListQuery) ([]models.Task, int, error) {
	querySQL, args := BuildListQuery(tenantID, q)

	var tasks []models.Task
	if err := r.db.SelectContext(ctx, &tasks, querySQL, args...); err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}

	countSQL, countArgs := BuildCountQuery(tenantID, q)
	var total int
	if err := r.db.GetContext(ctx, &total, countSQL, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	if tasks == nil {
		tasks = []models.Task{}
	}
	return tasks, total, nil
}

func (r *TaskRepository) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
