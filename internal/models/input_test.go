// internal/models/input_test.go
package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todocore/pkg/apierrors"
)

func strPtr(s string) *string { return &s }

func violationFields(t *testing.T, err error) []string {
	t.Helper()
	var apiErr *apierrors.Error
	require.True(t, errors.As(err, &apiErr))
	fields := make([]string, 0, len(apiErr.Violations))
	for _, v := range apiErr.Violations {
		fields = append(fields, v.Field)
	}
	return fields
}

func TestTaskCreate_Validate(t *testing.T) {
	due := time.Now().Add(24 * time.Hour)

	tests := []struct {
		name       string
		in         TaskCreate
		wantFields []string
	}{
		{
			name: "minimal valid",
			in:   TaskCreate{Title: "buy milk"},
		},
		{
			name: "title at limit",
			in:   TaskCreate{Title: strings.Repeat("x", 200)},
		},
		{
			name:       "empty title",
			in:         TaskCreate{Title: "   "},
			wantFields: []string{"title"},
		},
		{
			name:       "title over limit",
			in:         TaskCreate{Title: strings.Repeat("x", 201)},
			wantFields: []string{"title"},
		},
		{
			name: "multibyte title counts code points",
			in:   TaskCreate{Title: strings.Repeat("日", 200)},
		},
		{
			name:       "description over limit",
			in:         TaskCreate{Title: "t", Description: strPtr(strings.Repeat("x", 2001))},
			wantFields: []string{"description"},
		},
		{
			name:       "invalid priority",
			in:         TaskCreate{Title: "t", Priority: "critical"},
			wantFields: []string{"priority"},
		},
		{
			name:       "invalid recurrence",
			in:         TaskCreate{Title: "t", Recurrence: "yearly"},
			wantFields: []string{"recurrence"},
		},
		{
			name: "tags at limit",
			in:   TaskCreate{Title: "t", Tags: makeTags(20)},
		},
		{
			name:       "too many tags",
			in:         TaskCreate{Title: "t", Tags: makeTags(21)},
			wantFields: []string{"tags"},
		},
		{
			name:       "tag too long",
			in:         TaskCreate{Title: "t", Tags: []string{strings.Repeat("x", 51)}},
			wantFields: []string{"tags"},
		},
		{
			name: "offset with due date",
			in:   TaskCreate{Title: "t", DueDate: &due, ReminderOffset: strPtr("2h")},
		},
		{
			name:       "offset without due date",
			in:         TaskCreate{Title: "t", ReminderOffset: strPtr("2h")},
			wantFields: []string{"reminder_offset"},
		},
		{
			name:       "invalid offset expression",
			in:         TaskCreate{Title: "t", DueDate: &due, ReminderOffset: strPtr("2x")},
			wantFields: []string{"reminder_offset"},
		},
		{
			name:       "multiple violations reported together",
			in:         TaskCreate{Title: "", Priority: "nope", Tags: makeTags(21)},
			wantFields: []string{"title", "priority", "tags"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.Validate()
			if len(tt.wantFields) == 0 {
				assert.NoError(t, err)
				return
			}
			assert.ElementsMatch(t, tt.wantFields, violationFields(t, err))
		})
	}
}

func TestTaskCreate_Validate_AppliesDefaults(t *testing.T) {
	in := TaskCreate{Title: "  trimmed  "}
	require.NoError(t, in.Validate())

	assert.Equal(t, "trimmed", in.Title)
	assert.Equal(t, PriorityMedium, in.Priority)
	assert.Equal(t, RecurrenceNone, in.Recurrence)
}

func TestTaskPatch_UnmarshalJSON_TracksPresence(t *testing.T) {
	var p TaskPatch
	require.NoError(t, json.Unmarshal([]byte(`{"title":"new","description":null,"tags":[]}`), &p))

	require.NotNil(t, p.Title)
	assert.Equal(t, "new", *p.Title)
	assert.True(t, p.DescriptionSet)
	assert.Nil(t, p.Description)
	assert.True(t, p.TagsSet)
	assert.False(t, p.DueDateSet)
	assert.False(t, p.OffsetSet)
}

func TestTaskPatch_Apply(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	due := now.Add(48 * time.Hour)
	desc := "desc"

	base := func() *Task {
		return &Task{
			Title:       "old",
			Description: &desc,
			Status:      TaskStatusIncomplete,
			Priority:    PriorityMedium,
			Tags:        []string{"a"},
			Recurrence:  RecurrenceNone,
			DueDate:     &due,
		}
	}

	t.Run("merges only present fields", func(t *testing.T) {
		p := TaskPatch{Title: strPtr("new"), Priority: strPtr(PriorityHigh)}
		next, err := p.Apply(base(), now)
		require.NoError(t, err)

		assert.Equal(t, "new", next.Title)
		assert.Equal(t, PriorityHigh, next.Priority)
		assert.Equal(t, "desc", *next.Description)
		assert.Equal(t, []string{"a"}, []string(next.Tags))
		assert.Equal(t, now, next.UpdatedAt)
	})

	t.Run("explicit null clears description", func(t *testing.T) {
		p := TaskPatch{DescriptionSet: true, Description: nil}
		next, err := p.Apply(base(), now)
		require.NoError(t, err)
		assert.Nil(t, next.Description)
	})

	t.Run("tags replace the existing set", func(t *testing.T) {
		p := TaskPatch{TagsSet: true, Tags: []string{"x", "y"}}
		next, err := p.Apply(base(), now)
		require.NoError(t, err)
		assert.Equal(t, []string{"x", "y"}, []string(next.Tags))
	})

	t.Run("status flip maintains completed_at", func(t *testing.T) {
		p := TaskPatch{Status: strPtr(TaskStatusComplete)}
		next, err := p.Apply(base(), now)
		require.NoError(t, err)
		require.NotNil(t, next.CompletedAt)
		assert.Equal(t, now, *next.CompletedAt)

		back := TaskPatch{Status: strPtr(TaskStatusIncomplete)}
		reopened, err := back.Apply(next, now.Add(time.Minute))
		require.NoError(t, err)
		assert.Nil(t, reopened.CompletedAt)
	})

	t.Run("clearing due date with offset present fails", func(t *testing.T) {
		task := base()
		task.ReminderOffset = strPtr("2h")

		p := TaskPatch{DueDateSet: true, DueDate: nil}
		_, err := p.Apply(task, now)
		require.Error(t, err)
		assert.Contains(t, violationFields(t, err), "reminder_offset")
	})

	t.Run("clearing both due date and offset succeeds", func(t *testing.T) {
		task := base()
		task.ReminderOffset = strPtr("2h")

		p := TaskPatch{DueDateSet: true, DueDate: nil, OffsetSet: true, ReminderOffset: nil}
		next, err := p.Apply(task, now)
		require.NoError(t, err)
		assert.Nil(t, next.DueDate)
		assert.Nil(t, next.ReminderOffset)
	})
}

func makeTags(n int) []string {
	tags := make([]string, n)
	for i := range tags {
		tags[i] = strings.Repeat("t", 3) + string(rune('a'+i%26))
	}
	return tags
}
