// internal/bus/envelope.go
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"todocore/internal/models"
)

// SchemaVersion is the current envelope schema version.
const SchemaVersion = 1

// Domain event types.
const (
	EventTaskCreated         = "task.created"
	EventTaskUpdated         = "task.updated"
	EventTaskCompleted       = "task.completed"
	EventTaskDeleted         = "task.deleted"
	EventReminderScheduled   = "reminder.scheduled"
	EventReminderTriggered   = "reminder.triggered"
	EventRecurrenceGenerated = "recurrence.generated"
)

// Topic prefixes. A tenant's events land on "<prefix><tenant_id>".
const (
	TaskEventsPrefix  = "task-events."
	TaskUpdatesPrefix = "task-updates."

	// DeadLetterTopic sits outside the consumer prefixes so exhausted
	// envelopes are never redelivered to the consumers that failed them.
	DeadLetterTopic = "dlq.task-events"
)

func TaskEventsTopic(tenantID uuid.UUID) string  { return TaskEventsPrefix + tenantID.String() }
func TaskUpdatesTopic(tenantID uuid.UUID) string { return TaskUpdatesPrefix + tenantID.String() }

// Envelope is the wire format for every event on the bus.
type Envelope struct {
	EventID       uuid.UUID       `json:"event_id"`
	TenantID      uuid.UUID       `json:"tenant_id"`
	Type          string          `json:"type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps a payload into a versioned envelope with a fresh event id.
func NewEnvelope(tenantID uuid.UUID, eventType string, occurredAt time.Time, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.New(),
		TenantID:      tenantID,
		Type:          eventType,
		OccurredAt:    occurredAt,
		SchemaVersion: SchemaVersion,
		Payload:       raw,
	}, nil
}

// TaskPayload is the payload of task.created, task.completed and
// task.deleted: a snapshot of the task at the time of the operation.
type TaskPayload struct {
	Task *models.Task `json:"task"`
}

// TaskUpdatedPayload carries before and after snapshots.
type TaskUpdatedPayload struct {
	Before *models.Task `json:"before"`
	After  *models.Task `json:"after"`
}

// ReminderScheduledPayload announces a recomputed reminder job.
type ReminderScheduledPayload struct {
	TaskID uuid.UUID `json:"task_id"`
	FireAt time.Time `json:"fire_at"`
}

// ReminderTriggeredPayload is the notification payload for a ripe reminder.
type ReminderTriggeredPayload struct {
	TaskID  uuid.UUID `json:"task_id"`
	Title   string    `json:"title"`
	FireAt  time.Time `json:"fire_at"`
	Message string    `json:"message"`
}

// RecurrenceGeneratedPayload links a completed recurring task to its next
// instance.
type RecurrenceGeneratedPayload struct {
	SourceTaskID uuid.UUID `json:"source_task_id"`
	NewTaskID    uuid.UUID `json:"new_task_id"`
}

// DeadLetterPayload wraps an event that exhausted its retry budget.
type DeadLetterPayload struct {
	Original  Envelope `json:"original"`
	Consumer  string   `json:"consumer"`
	Attempts  int      `json:"attempts"`
	LastError string   `json:"last_error"`
}
