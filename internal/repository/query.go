// internal/repository/query.go
package repository

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"todocore/internal/models"
	"todocore/pkg/apierrors"
)

// Due date buckets.
const (
	DueOverdue   = "overdue"
	DueToday     = "today"
	DueThisWeek  = "this_week"
	DueThisMonth = "this_month"
)

const (
	defaultLimit = 50
	maxLimit     = 100
)

// ListQuery is the validated input of the query engine.
type ListQuery struct {
	Status    string
	Priority  string
	Tags      []string
	DueBucket string
	Search    string
	SortBy    string
	SortOrder string
	Limit     int
	Offset    int

	// Now anchors the due-date buckets. Zero means time.Now, in UTC; set
	// explicitly in tests. Buckets are computed in UTC until tenants carry
	// a timezone.
	Now time.Time
}

// ParseListQuery validates raw query parameters and applies defaults.
func ParseListQuery(raw map[string]string, tags []string) (ListQuery, error) {
	q := ListQuery{
		Status:    raw["status"],
		Priority:  raw["priority"],
		Tags:      tags,
		DueBucket: raw["due_date_filter"],
		Search:    strings.TrimSpace(raw["search"]),
		SortBy:    raw["sort_by"],
		SortOrder: raw["sort_order"],
		Limit:     defaultLimit,
	}

	var violations []apierrors.FieldViolation

	if q.Status != "" && !models.ValidStatus(q.Status) {
		violations = append(violations, apierrors.FieldViolation{
			Field: "status", Message: fmt.Sprintf("invalid status %q", q.Status),
		})
	}
	if q.Priority != "" && !models.ValidPriority(q.Priority) {
		violations = append(violations, apierrors.FieldViolation{
			Field: "priority", Message: fmt.Sprintf("invalid priority %q", q.Priority),
		})
	}
	switch q.DueBucket {
	case "", DueOverdue, DueToday, DueThisWeek, DueThisMonth:
	default:
		violations = append(violations, apierrors.FieldViolation{
			Field: "due_date_filter", Message: fmt.Sprintf("invalid due date filter %q", q.DueBucket),
		})
	}

	switch q.SortBy {
	case "":
		q.SortBy = "created_at"
	case "created_at", "due_date", "priority", "status":
	default:
		violations = append(violations, apierrors.FieldViolation{
			Field: "sort_by", Message: fmt.Sprintf("invalid sort field %q", q.SortBy),
		})
	}
	switch q.SortOrder {
	case "":
		q.SortOrder = "desc"
	case "asc", "desc":
	default:
		violations = append(violations, apierrors.FieldViolation{
			Field: "sort_order", Message: fmt.Sprintf("invalid sort order %q", q.SortOrder),
		})
	}

	if s := raw["limit"]; s != "" {
		n, err := parsePositiveInt(s)
		if err != nil || n < 1 || n > maxLimit {
			violations = append(violations, apierrors.FieldViolation{
				Field: "limit", Message: fmt.Sprintf("limit must be between 1 and %d", maxLimit),
			})
		} else {
			q.Limit = n
		}
	}
	if s := raw["offset"]; s != "" {
		n, err := parsePositiveInt(s)
		if err != nil || n < 0 {
			violations = append(violations, apierrors.FieldViolation{
				Field: "offset", Message: "offset must be non-negative",
			})
		} else {
			q.Offset = n
		}
	}

	if len(violations) > 0 {
		return ListQuery{}, apierrors.Validation(violations)
	}
	return q, nil
}

func parsePositiveInt(s string) (int, error) {
	return strconv.Atoi(s)
}

// BuildListQuery renders the query to SQL. Relevance ordering takes over
// when a search term is present; otherwise the requested sort applies.
// Tie-breakers created_at DESC, id ASC keep pagination stable within a
// snapshot.
func BuildListQuery(tenantID uuid.UUID, q ListQuery) (string, []any) {
	where, args := buildPredicates(tenantID, q)

	var b strings.Builder
	b.WriteString(`SELECT ` + taskColumns + ` FROM tasks WHERE `)
	b.WriteString(strings.Join(where, " AND "))
	b.WriteString(" ORDER BY ")
	b.WriteString(orderClause(q, &args))
	args = append(args, q.Limit, q.Offset)
	fmt.Fprintf(&b, " LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	return b.String(), args
}

// BuildCountQuery renders the matching total count for the same predicates.
func BuildCountQuery(tenantID uuid.UUID, q ListQuery) (string, []any) {
	where, args := buildPredicates(tenantID, q)
	return `SELECT count(*) FROM tasks WHERE ` + strings.Join(where, " AND "), args
}

func buildPredicates(tenantID uuid.UUID, q ListQuery) ([]string, []any) {
	now := q.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	args := []any{tenantID}
	where := []string{"tenant_id = $1"}

	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.Status != "" {
		where = append(where, "status = "+next(q.Status))
	}
	if q.Priority != "" {
		where = append(where, "priority = "+next(q.Priority))
	}
	if len(q.Tags) > 0 {
		// Conjunctive containment: the task must carry every listed tag.
		where = append(where, "tags @> "+next(pq.StringArray(q.Tags)))
	}

	switch q.DueBucket {
	case DueOverdue:
		where = append(where,
			"due_date IS NOT NULL",
			"due_date < "+next(now),
			"status = "+next(models.TaskStatusIncomplete))
	case DueToday:
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		where = append(where, "due_date >= "+next(start), "due_date < "+next(start.AddDate(0, 0, 1)))
	case DueThisWeek:
		start := startOfWeek(now)
		where = append(where, "due_date >= "+next(start), "due_date < "+next(start.AddDate(0, 0, 7)))
	case DueThisMonth:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		where = append(where, "due_date >= "+next(start), "due_date < "+next(start.AddDate(0, 1, 0)))
	}

	if q.Search != "" {
		where = append(where,
			"search_index @@ plainto_tsquery('english', unaccent("+next(q.Search)+"))")
	}

	return where, args
}

func orderClause(q ListQuery, args *[]any) string {
	var terms []string

	if q.Search != "" {
		*args = append(*args, q.Search)
		terms = append(terms, fmt.Sprintf(
			"ts_rank(search_index, plainto_tsquery('english', unaccent($%d))) DESC", len(*args)))
	} else {
		dir := strings.ToUpper(q.SortOrder)
		switch q.SortBy {
		case "priority":
			terms = append(terms,
				"CASE priority WHEN 'urgent' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END "+dir)
		case "due_date":
			terms = append(terms, "due_date "+dir+" NULLS LAST")
		default:
			terms = append(terms, q.SortBy+" "+dir)
		}
	}

	terms = append(terms, "created_at DESC", "id ASC")
	return strings.Join(terms, ", ")
}

// startOfWeek returns the Monday midnight opening the calendar week of t.
func startOfWeek(t time.Time) time.Time {
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -(weekday - 1))
}
