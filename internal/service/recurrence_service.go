// internal/service/recurrence_service.go
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"todocore/internal/bus"
	"todocore/internal/clock"
	"todocore/internal/models"
)

// ConsumerRecurrence is the stable consumer name of the recurrence
// generator in the idempotency ledger.
const ConsumerRecurrence = "recurrence-generator"

// RecurrenceService consumes task.completed events and materializes the
// next instance of recurring tasks. Duplicate deliveries are suppressed by
// the dispatcher's claim on the source event id, so at most one instance is
// ever created per completion.
type RecurrenceService struct {
	tasks  *TaskService
	sink   bus.EventSink
	clock  clock.Clock
	logger *zap.Logger
}

func NewRecurrenceService(tasks *TaskService, sink bus.EventSink, clk clock.Clock, logger *zap.Logger) *RecurrenceService {
	return &RecurrenceService{tasks: tasks, sink: sink, clock: clk, logger: logger}
}

// Register subscribes the generator to the domain event stream.
func (s *RecurrenceService) Register(d *bus.Dispatcher) {
	d.Subscribe(bus.TaskEventsPrefix, ConsumerRecurrence, s.Handle)
}

// Handle processes a single event. Non-completion events and completed
// tasks without recurrence or due date are no-ops.
func (s *RecurrenceService) Handle(ctx context.Context, env bus.Envelope) error {
	if env.Type != bus.EventTaskCompleted {
		return nil
	}

	var payload bus.TaskPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("decode task.completed payload: %w", err)
	}
	task := payload.Task
	if task == nil || task.Recurrence == models.RecurrenceNone || task.DueDate == nil {
		return nil
	}

	nextDue := NextOccurrence(*task.DueDate, task.Recurrence, s.clock.Now())

	created, err := s.tasks.Create(ctx, env.TenantID, models.TaskCreate{
		Title:          task.Title,
		Description:    task.Description,
		Priority:       task.Priority,
		Tags:           task.Tags,
		DueDate:        &nextDue,
		Recurrence:     task.Recurrence,
		ReminderOffset: task.ReminderOffset,
	})
	if err != nil {
		return fmt.Errorf("create next instance for task %s: %w", task.ID, err)
	}

	genEnv, err := bus.NewEnvelope(env.TenantID, bus.EventRecurrenceGenerated, s.clock.Now(),
		bus.RecurrenceGeneratedPayload{
			SourceTaskID: task.ID,
			NewTaskID:    created.ID,
		})
	if err != nil {
		return err
	}
	if err := s.sink.Publish(ctx, bus.TaskEventsTopic(env.TenantID), genEnv); err != nil {
		return fmt.Errorf("publish recurrence.generated: %w", err)
	}

	s.logger.Info("recurring task instance generated",
		zap.String("source_task_id", task.ID.String()),
		zap.String("new_task_id", created.ID.String()),
		zap.Time("due_date", nextDue))
	return nil
}

// NextOccurrence advances the due date by the recurrence interval. A due
// date already in the past is advanced by successive intervals until it is
// strictly after now, so a long-neglected task does not spawn a backlog of
// stale instances.
func NextOccurrence(due time.Time, recurrence string, now time.Time) time.Time {
	next := advance(due, recurrence)
	for !next.After(now) {
		next = advance(next, recurrence)
	}
	return next
}

func advance(t time.Time, recurrence string) time.Time {
	switch recurrence {
	case models.RecurrenceDaily:
		return t.AddDate(0, 0, 1)
	case models.RecurrenceWeekly:
		return t.AddDate(0, 0, 7)
	case models.RecurrenceMonthly:
		return addMonthClamped(t)
	default:
		return t
	}
}

// addMonthClamped adds one calendar month, clamping day 29-31 to the last
// day of a shorter target month instead of letting the date normalize into
// the month after.
func addMonthClamped(t time.Time) time.Time {
	year, month, day := t.Date()
	// Day 0 of month+2 is the last day of month+1.
	lastDay := time.Date(year, month+2, 0, 0, 0, 0, 0, t.Location()).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month+1, day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
