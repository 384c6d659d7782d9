// internal/service/reminder_service.go
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"todocore/internal/bus"
	"todocore/internal/clock"
	"todocore/internal/metrics"
	"todocore/internal/models"
)

// ConsumerReminder is the stable consumer name of the reminder scheduler
// in the idempotency ledger.
const ConsumerReminder = "reminder-scheduler"

// sweepBatchSize bounds how many due jobs a single sweep claims.
const sweepBatchSize = 100

// ReminderStore is the persistence surface the reminder scheduler needs.
type ReminderStore interface {
	Upsert(ctx context.Context, job models.ReminderJob) error
	Cancel(ctx context.Context, taskID uuid.UUID) error
	DuePending(ctx context.Context, now time.Time, limit int) ([]models.ReminderJob, error)
	MarkFired(ctx context.Context, taskID uuid.UUID) (bool, error)
}

// ReminderService maintains one reminder job per task, recomputed from the
// task's due date and reminder offset on every task write, and sweeps due
// jobs on a timer. The fired-state transition is a compare-and-set, so
// concurrent sweeps deliver each reminder at most once.
type ReminderService struct {
	store  ReminderStore
	sink   bus.EventSink
	clock  clock.Clock
	logger *zap.Logger
}

func NewReminderService(store ReminderStore, sink bus.EventSink, clk clock.Clock, logger *zap.Logger) *ReminderService {
	return &ReminderService{store: store, sink: sink, clock: clk, logger: logger}
}

// Register subscribes the scheduler to the domain event stream.
func (s *ReminderService) Register(d *bus.Dispatcher) {
	d.Subscribe(bus.TaskEventsPrefix, ConsumerReminder, s.Handle)
}

// Handle keeps the reminder job in sync with the task it was derived from.
func (s *ReminderService) Handle(ctx context.Context, env bus.Envelope) error {
	switch env.Type {
	case bus.EventTaskCreated:
		var payload bus.TaskPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		return s.reconcile(ctx, env.TenantID, payload.Task)

	case bus.EventTaskUpdated:
		var payload bus.TaskUpdatedPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		return s.reconcile(ctx, env.TenantID, payload.After)

	case bus.EventTaskCompleted, bus.EventTaskDeleted:
		var payload bus.TaskPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		if payload.Task == nil {
			return nil
		}
		return s.store.Cancel(ctx, payload.Task.ID)
	}
	return nil
}

// reconcile upserts a pending job when the task has both a due date and a
// reminder offset, and cancels any pending job otherwise.
func (s *ReminderService) reconcile(ctx context.Context, tenantID uuid.UUID, task *models.Task) error {
	if task == nil {
		return nil
	}
	if task.DueDate == nil || task.ReminderOffset == nil || task.Status == models.TaskStatusComplete {
		return s.store.Cancel(ctx, task.ID)
	}

	offset, err := models.ParseReminderOffset(*task.ReminderOffset)
	if err != nil {
		// Offsets are validated on write; a bad stored value is cancelled
		// rather than retried forever.
		s.logger.Warn("cancelling reminder with unparseable offset",
			zap.String("task_id", task.ID.String()),
			zap.String("offset", *task.ReminderOffset))
		return s.store.Cancel(ctx, task.ID)
	}

	fireAt := task.DueDate.Add(-offset)
	job := models.ReminderJob{
		TaskID:    task.ID,
		TenantID:  tenantID,
		FireAt:    fireAt,
		State:     models.ReminderPending,
		Title:     task.Title,
		UpdatedAt: s.clock.Now(),
	}
	if err := s.store.Upsert(ctx, job); err != nil {
		return fmt.Errorf("upsert reminder job for task %s: %w", task.ID, err)
	}
	metrics.RemindersScheduled.Inc()

	env, err := bus.NewEnvelope(tenantID, bus.EventReminderScheduled, s.clock.Now(),
		bus.ReminderScheduledPayload{TaskID: task.ID, FireAt: fireAt})
	if err != nil {
		return err
	}
	if err := s.sink.Publish(ctx, bus.TaskEventsTopic(tenantID), env); err != nil {
		return err
	}

	// An already-ripe job fires now instead of waiting out a sweep tick.
	if now := s.clock.Now(); !fireAt.After(now) {
		won, err := s.store.MarkFired(ctx, task.ID)
		if err != nil {
			return fmt.Errorf("mark reminder fired for task %s: %w", task.ID, err)
		}
		if won {
			return s.fire(ctx, job, now)
		}
	}
	return nil
}

// Sweep claims and fires all due pending jobs. Safe to call concurrently;
// the MarkFired compare-and-set decides the single winner per job.
func (s *ReminderService) Sweep(ctx context.Context) error {
	now := s.clock.Now()
	jobs, err := s.store.DuePending(ctx, now, sweepBatchSize)
	if err != nil {
		return fmt.Errorf("list due reminders: %w", err)
	}

	for _, job := range jobs {
		won, err := s.store.MarkFired(ctx, job.TaskID)
		if err != nil {
			return fmt.Errorf("mark reminder fired for task %s: %w", job.TaskID, err)
		}
		if !won {
			continue
		}
		if err := s.fire(ctx, job, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *ReminderService) fire(ctx context.Context, job models.ReminderJob, now time.Time) error {
	payload := bus.ReminderTriggeredPayload{
		TaskID:  job.TaskID,
		Title:   job.Title,
		FireAt:  job.FireAt,
		Message: fmt.Sprintf("Reminder: %s", job.Title),
	}
	env, err := bus.NewEnvelope(job.TenantID, bus.EventReminderTriggered, now, payload)
	if err != nil {
		return err
	}
	if err := s.sink.Publish(ctx, bus.TaskEventsTopic(job.TenantID), env); err != nil {
		return fmt.Errorf("publish reminder.triggered: %w", err)
	}
	if err := s.sink.Publish(ctx, bus.TaskUpdatesTopic(job.TenantID), env); err != nil {
		return fmt.Errorf("publish reminder.triggered update: %w", err)
	}

	metrics.RemindersTriggered.Inc()
	metrics.ReminderLatency.Observe(now.Sub(job.FireAt).Seconds())
	s.logger.Info("reminder fired",
		zap.String("task_id", job.TaskID.String()),
		zap.Time("fire_at", job.FireAt),
		zap.Duration("latency", now.Sub(job.FireAt)))
	return nil
}
