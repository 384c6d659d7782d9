// internal/service/task_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"todocore/internal/bus"
	"todocore/internal/clock"
	"todocore/internal/metrics"
	"todocore/internal/models"
	"todocore/internal/repository"
	"todocore/pkg/apierrors"
)

// TaskStore is the persistence surface the task service depends on. The
// Postgres repository implements it; tests substitute an in-memory fake.
type TaskStore interface {
	Create(ctx context.Context, task *models.Task, events ...bus.Envelope) error
	Get(ctx context.Context, tenantID, id uuid.UUID) (*models.Task, error)
	Mutate(ctx context.Context, tenantID, id uuid.UUID,
		fn func(current *models.Task) (*models.Task, []bus.Envelope, error)) (*models.Task, error)
	Delete(ctx context.Context, tenantID, id uuid.UUID,
		buildEvents func(deleted *models.Task) ([]bus.Envelope, error)) error
	List(ctx context.Context, tenantID uuid.UUID, q repository.ListQuery) ([]models.Task, int, error)
}

// TaskService implements the tenant-scoped task operations. Every mutation
// emits its domain event through the store's transactional outbox.
type TaskService struct {
	store  TaskStore
	clock  clock.Clock
	logger *zap.Logger
}

func NewTaskService(store TaskStore, clk clock.Clock, logger *zap.Logger) *TaskService {
	return &TaskService{store: store, clock: clk, logger: logger}
}

// Create validates the input, assigns server-side fields and inserts the
// task, emitting task.created.
func (s *TaskService) Create(ctx context.Context, tenantID uuid.UUID, in models.TaskCreate) (*models.Task, error) {
	defer s.observe("create")()

	if err := in.Validate(); err != nil {
		metrics.TaskOps.WithLabelValues("create", "invalid").Inc()
		return nil, err
	}

	now := s.clock.Now()
	task := &models.Task{
		ID:             uuid.New(),
		TenantID:       tenantID,
		Title:          in.Title,
		Description:    in.Description,
		Status:         models.TaskStatusIncomplete,
		Priority:       in.Priority,
		Tags:           in.Tags,
		DueDate:        in.DueDate,
		Recurrence:     in.Recurrence,
		ReminderOffset: in.ReminderOffset,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if task.Tags == nil {
		task.Tags = []string{}
	}

	env, err := bus.NewEnvelope(tenantID, bus.EventTaskCreated, now, bus.TaskPayload{Task: task})
	if err != nil {
		return nil, s.internal("create", err)
	}
	if err := s.store.Create(ctx, task, env); err != nil {
		return nil, s.internal("create", err)
	}

	metrics.TaskOps.WithLabelValues("create", "ok").Inc()
	s.logger.Info("task created",
		zap.String("task_id", task.ID.String()),
		zap.String("tenant_id", tenantID.String()))
	return task, nil
}

// Get returns the tenant's task or NotFound.
func (s *TaskService) Get(ctx context.Context, tenantID, id uuid.UUID) (*models.Task, error) {
	defer s.observe("get")()

	task, err := s.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, s.mapError("get", err)
	}
	metrics.TaskOps.WithLabelValues("get", "ok").Inc()
	return task, nil
}

// List runs the query engine over the tenant's tasks.
func (s *TaskService) List(ctx context.Context, tenantID uuid.UUID, q repository.ListQuery) ([]models.Task, int, error) {
	op := "list"
	if q.Search != "" {
		start := time.Now()
		defer func() { metrics.SearchDuration.Observe(time.Since(start).Seconds()) }()
	}
	defer s.observe(op)()

	tasks, total, err := s.store.List(ctx, tenantID, q)
	if err != nil {
		return nil, 0, s.mapError(op, err)
	}
	metrics.TaskOps.WithLabelValues(op, "ok").Inc()
	return tasks, total, nil
}

// Update applies a partial patch and emits task.updated with before and
// after snapshots.
func (s *TaskService) Update(ctx context.Context, tenantID, id uuid.UUID, patch models.TaskPatch) (*models.Task, error) {
	defer s.observe("update")()

	if err := patch.Validate(); err != nil {
		metrics.TaskOps.WithLabelValues("update", "invalid").Inc()
		return nil, err
	}

	now := s.clock.Now()
	task, err := s.store.Mutate(ctx, tenantID, id, func(current *models.Task) (*models.Task, []bus.Envelope, error) {
		next, err := patch.Apply(current, now)
		if err != nil {
			return nil, nil, err
		}
		env, err := bus.NewEnvelope(tenantID, bus.EventTaskUpdated, now, bus.TaskUpdatedPayload{
			Before: current,
			After:  next,
		})
		if err != nil {
			return nil, nil, err
		}
		return next, []bus.Envelope{env}, nil
	})
	if err != nil {
		return nil, s.mapError("update", err)
	}

	metrics.TaskOps.WithLabelValues("update", "ok").Inc()
	return task, nil
}

// Complete marks the task complete and emits task.completed. Completing a
// completed task is a no-op: it returns the current state without touching
// the row or emitting a second event.
func (s *TaskService) Complete(ctx context.Context, tenantID, id uuid.UUID) (*models.Task, error) {
	defer s.observe("complete")()

	now := s.clock.Now()
	task, err := s.store.Mutate(ctx, tenantID, id, func(current *models.Task) (*models.Task, []bus.Envelope, error) {
		if current.Status == models.TaskStatusComplete {
			return nil, nil, nil
		}
		next := current.Clone()
		next.Status = models.TaskStatusComplete
		completed := now
		next.CompletedAt = &completed
		next.UpdatedAt = now

		env, err := bus.NewEnvelope(tenantID, bus.EventTaskCompleted, now, bus.TaskPayload{Task: next})
		if err != nil {
			return nil, nil, err
		}
		return next, []bus.Envelope{env}, nil
	})
	if err != nil {
		return nil, s.mapError("complete", err)
	}

	metrics.TaskOps.WithLabelValues("complete", "ok").Inc()
	return task, nil
}

// Delete removes the task and emits task.deleted.
func (s *TaskService) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	defer s.observe("delete")()

	now := s.clock.Now()
	err := s.store.Delete(ctx, tenantID, id, func(deleted *models.Task) ([]bus.Envelope, error) {
		env, err := bus.NewEnvelope(tenantID, bus.EventTaskDeleted, now, bus.TaskPayload{Task: deleted})
		if err != nil {
			return nil, err
		}
		return []bus.Envelope{env}, nil
	})
	if err != nil {
		return s.mapError("delete", err)
	}

	metrics.TaskOps.WithLabelValues("delete", "ok").Inc()
	return nil
}

func (s *TaskService) observe(op string) func() {
	start := time.Now()
	return func() {
		metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func (s *TaskService) mapError(op string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		metrics.TaskOps.WithLabelValues(op, "not_found").Inc()
		return apierrors.Wrap(apierrors.NotFound, "task not found", err)
	}
	var apiErr *apierrors.Error
	if errors.As(err, &apiErr) {
		metrics.TaskOps.WithLabelValues(op, "invalid").Inc()
		return err
	}
	return s.internal(op, err)
}

func (s *TaskService) internal(op string, err error) error {
	metrics.TaskOps.WithLabelValues(op, "error").Inc()
	s.logger.Error("task operation failed", zap.String("op", op), zap.Error(err))
	return apierrors.Wrap(apierrors.Internal, fmt.Sprintf("failed to %s task", op), err)
}
