package models

import (
	"time"

	"github.com/google/uuid"
)

// Reminder job states.
const (
	ReminderPending   = "pending"
	ReminderFired     = "fired"
	ReminderCancelled = "cancelled"
)

// ReminderJob is a projection derived from a task's due date and reminder
// offset: one row per task, recomputed on every task write. Tasks hold no
// back-pointer to their job.
type ReminderJob struct {
	TaskID    uuid.UUID `db:"task_id" json:"task_id"`
	TenantID  uuid.UUID `db:"tenant_id" json:"tenant_id"`
	FireAt    time.Time `db:"fire_at" json:"fire_at"`
	State     string    `db:"state" json:"state"`
	Title     string    `db:"title" json:"title"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ProcessedEvent is a row in the idempotency ledger. (event_id, consumer) is
// unique; rows are reaped after a TTL.
type ProcessedEvent struct {
	EventID     uuid.UUID `db:"event_id"`
	Consumer    string    `db:"consumer"`
	FirstSeenAt time.Time `db:"first_seen_at"`
}
