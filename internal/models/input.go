// internal/models/input.go
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"todocore/pkg/apierrors"
)

const (
	maxTitleLen       = 200
	maxDescriptionLen = 2000
	maxTags           = 20
	maxTagLen         = 50
)

// TaskCreate is the validated input for creating a task.
type TaskCreate struct {
	Title          string     `json:"title"`
	Description    *string    `json:"description"`
	Priority       string     `json:"priority"`
	Tags           []string   `json:"tags"`
	DueDate        *time.Time `json:"due_date"`
	Recurrence     string     `json:"recurrence"`
	ReminderOffset *string    `json:"reminder_offset"`
}

// Validate checks all field constraints and returns the full violation list
// rather than stopping at the first failure.
func (in *TaskCreate) Validate() error {
	var violations []apierrors.FieldViolation

	in.Title = strings.TrimSpace(in.Title)
	violations = append(violations, validateTitle(in.Title)...)
	violations = append(violations, validateDescription(in.Description)...)

	if in.Priority == "" {
		in.Priority = PriorityMedium
	} else if !ValidPriority(in.Priority) {
		violations = append(violations, apierrors.FieldViolation{
			Field: "priority", Message: fmt.Sprintf("invalid priority %q", in.Priority),
		})
	}

	if in.Recurrence == "" {
		in.Recurrence = RecurrenceNone
	} else if !ValidRecurrence(in.Recurrence) {
		violations = append(violations, apierrors.FieldViolation{
			Field: "recurrence", Message: fmt.Sprintf("invalid recurrence %q", in.Recurrence),
		})
	}

	violations = append(violations, validateTags(in.Tags)...)
	violations = append(violations, validateReminderOffset(in.ReminderOffset, in.DueDate)...)

	if len(violations) > 0 {
		return apierrors.Validation(violations)
	}
	return nil
}

// TaskPatch is a partial update. Nil fields are left unchanged. Tags, when
// present, replace the existing set. DueDateSet and DescriptionSet
// distinguish "clear the field" from "leave it alone".
type TaskPatch struct {
	Title          *string    `json:"title"`
	Description    *string    `json:"description"`
	DescriptionSet bool       `json:"-"`
	Status         *string    `json:"status"`
	Priority       *string    `json:"priority"`
	Tags           []string   `json:"tags"`
	TagsSet        bool       `json:"-"`
	DueDate        *time.Time `json:"due_date"`
	DueDateSet     bool       `json:"-"`
	Recurrence     *string    `json:"recurrence"`
	ReminderOffset *string    `json:"reminder_offset"`
	OffsetSet      bool       `json:"-"`
}

// UnmarshalJSON records key presence for the fields where an absent key and
// an explicit null mean different things.
func (p *TaskPatch) UnmarshalJSON(data []byte) error {
	type alias TaskPatch
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	*p = TaskPatch(a)
	_, p.DescriptionSet = keys["description"]
	_, p.TagsSet = keys["tags"]
	_, p.DueDateSet = keys["due_date"]
	_, p.OffsetSet = keys["reminder_offset"]
	return nil
}

// Validate checks the patch fields in isolation. Cross-field constraints
// against the stored task (reminder offset without a due date) are enforced
// by Apply.
func (p *TaskPatch) Validate() error {
	var violations []apierrors.FieldViolation

	if p.Title != nil {
		*p.Title = strings.TrimSpace(*p.Title)
		violations = append(violations, validateTitle(*p.Title)...)
	}
	if p.DescriptionSet && p.Description != nil {
		violations = append(violations, validateDescription(p.Description)...)
	}
	if p.Status != nil && !ValidStatus(*p.Status) {
		violations = append(violations, apierrors.FieldViolation{
			Field: "status", Message: fmt.Sprintf("invalid status %q", *p.Status),
		})
	}
	if p.Priority != nil && !ValidPriority(*p.Priority) {
		violations = append(violations, apierrors.FieldViolation{
			Field: "priority", Message: fmt.Sprintf("invalid priority %q", *p.Priority),
		})
	}
	if p.Recurrence != nil && !ValidRecurrence(*p.Recurrence) {
		violations = append(violations, apierrors.FieldViolation{
			Field: "recurrence", Message: fmt.Sprintf("invalid recurrence %q", *p.Recurrence),
		})
	}
	if p.TagsSet {
		violations = append(violations, validateTags(p.Tags)...)
	}
	if p.OffsetSet && p.ReminderOffset != nil {
		if _, err := ParseReminderOffset(*p.ReminderOffset); err != nil {
			violations = append(violations, apierrors.FieldViolation{
				Field: "reminder_offset", Message: err.Error(),
			})
		}
	}

	if len(violations) > 0 {
		return apierrors.Validation(violations)
	}
	return nil
}

// Apply merges the patch into a copy of the task and re-validates the
// combined state. The completed_at invariant is maintained when the patch
// flips status.
func (p *TaskPatch) Apply(task *Task, now time.Time) (*Task, error) {
	next := task.Clone()

	if p.Title != nil {
		next.Title = *p.Title
	}
	if p.DescriptionSet {
		next.Description = p.Description
	}
	if p.Priority != nil {
		next.Priority = *p.Priority
	}
	if p.TagsSet {
		next.Tags = append([]string(nil), p.Tags...)
	}
	if p.DueDateSet {
		next.DueDate = p.DueDate
	}
	if p.Recurrence != nil {
		next.Recurrence = *p.Recurrence
	}
	if p.OffsetSet {
		next.ReminderOffset = p.ReminderOffset
	}
	if p.Status != nil && *p.Status != next.Status {
		next.Status = *p.Status
		if next.Status == TaskStatusComplete {
			completed := now
			next.CompletedAt = &completed
		} else {
			next.CompletedAt = nil
		}
	}

	if violations := validateReminderOffset(next.ReminderOffset, next.DueDate); len(violations) > 0 {
		return nil, apierrors.Validation(violations)
	}

	next.UpdatedAt = now
	return next, nil
}

func validateTitle(title string) []apierrors.FieldViolation {
	n := utf8.RuneCountInString(title)
	if n == 0 {
		return []apierrors.FieldViolation{{Field: "title", Message: "title is required"}}
	}
	if n > maxTitleLen {
		return []apierrors.FieldViolation{{
			Field: "title", Message: fmt.Sprintf("title must be at most %d characters", maxTitleLen),
		}}
	}
	return nil
}

func validateDescription(description *string) []apierrors.FieldViolation {
	if description == nil {
		return nil
	}
	if utf8.RuneCountInString(*description) > maxDescriptionLen {
		return []apierrors.FieldViolation{{
			Field: "description", Message: fmt.Sprintf("description must be at most %d characters", maxDescriptionLen),
		}}
	}
	return nil
}

func validateTags(tags []string) []apierrors.FieldViolation {
	var violations []apierrors.FieldViolation
	if len(tags) > maxTags {
		violations = append(violations, apierrors.FieldViolation{
			Field: "tags", Message: fmt.Sprintf("at most %d tags allowed", maxTags),
		})
	}
	for _, tag := range tags {
		if utf8.RuneCountInString(tag) > maxTagLen {
			violations = append(violations, apierrors.FieldViolation{
				Field: "tags", Message: fmt.Sprintf("tag %q exceeds %d characters", tag, maxTagLen),
			})
			break
		}
	}
	return violations
}

func validateReminderOffset(offset *string, dueDate *time.Time) []apierrors.FieldViolation {
	if offset == nil {
		return nil
	}
	if _, err := ParseReminderOffset(*offset); err != nil {
		return []apierrors.FieldViolation{{Field: "reminder_offset", Message: err.Error()}}
	}
	if dueDate == nil {
		return []apierrors.FieldViolation{{
			Field: "reminder_offset", Message: "reminder_offset requires due_date to be set",
		}}
	}
	return nil
}
