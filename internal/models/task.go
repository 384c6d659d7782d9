package models

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Task status constants
const (
	TaskStatusIncomplete = "incomplete"
	TaskStatusComplete   = "complete"
)

// Priority constants
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Recurrence constants
const (
	RecurrenceNone    = "none"
	RecurrenceDaily   = "daily"
	RecurrenceWeekly  = "weekly"
	RecurrenceMonthly = "monthly"
)

// PriorityRank orders priorities for sorting: urgent > high > medium > low.
var PriorityRank = map[string]int{
	PriorityUrgent: 4,
	PriorityHigh:   3,
	PriorityMedium: 2,
	PriorityLow:    1,
}

// Task is the primary entity, owned by exactly one tenant. The search index
// column is derived from title and description and maintained by the
// repository on every write; it is never read back into the struct.
type Task struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	TenantID       uuid.UUID      `db:"tenant_id" json:"tenant_id"`
	Title          string         `db:"title" json:"title"`
	Description    *string        `db:"description" json:"description,omitempty"`
	Status         string         `db:"status" json:"status"`
	Priority       string         `db:"priority" json:"priority"`
	Tags           pq.StringArray `db:"tags" json:"tags"`
	DueDate        *time.Time     `db:"due_date" json:"due_date,omitempty"`
	Recurrence     string         `db:"recurrence" json:"recurrence"`
	ReminderOffset *string        `db:"reminder_offset" json:"reminder_offset,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
	CompletedAt    *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
}

// Clone returns a deep copy, detaching pointer and slice fields.
func (t *Task) Clone() *Task {
	c := *t
	if t.Description != nil {
		v := *t.Description
		c.Description = &v
	}
	if t.DueDate != nil {
		v := *t.DueDate
		c.DueDate = &v
	}
	if t.ReminderOffset != nil {
		v := *t.ReminderOffset
		c.ReminderOffset = &v
	}
	if t.Tags != nil {
		c.Tags = append(pq.StringArray(nil), t.Tags...)
	}
	return &c
}

func ValidStatus(s string) bool {
	return s == TaskStatusIncomplete || s == TaskStatusComplete
}

func ValidPriority(p string) bool {
	_, ok := PriorityRank[p]
	return ok
}

func ValidRecurrence(r string) bool {
	switch r {
	case RecurrenceNone, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
		return true
	}
	return false
}

var reminderOffsetRe = regexp.MustCompile(`^(\d+)([hdw])$`)

// ParseReminderOffset parses a reminder offset expression like "1h", "2d" or
// "1w" into a duration.
func ParseReminderOffset(offset string) (time.Duration, error) {
	m := reminderOffsetRe.FindStringSubmatch(offset)
	if m == nil {
		return 0, fmt.Errorf("invalid reminder offset %q: expected <n>{h|d|w}", offset)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid reminder offset %q: %w", offset, err)
	}
	switch m[2] {
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	}
}
