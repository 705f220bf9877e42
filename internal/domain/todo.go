package domain

import (
	"strings"
	"time"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// DefaultPriority is assigned when a todo is created without one.
const DefaultPriority = PriorityMedium

// ParsePriority normalizes s and reports whether it names a known priority.
func ParsePriority(s string) (Priority, bool) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	return p, p.Valid()
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Rank orders priorities for sorting; unknown values sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

// Todo is a task owned by exactly one user.
type Todo struct {
	ID          int64
	UserID      int64
	Title       string
	Description string
	Completed   bool
	Priority    Priority
	DueDate     *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// SetCompleted changes the completion flag and keeps CompletedAt in step with it.
func (t *Todo) SetCompleted(completed bool, now time.Time) {
	t.CompletedAt = CompletionTransition(t.Completed, completed, t.CompletedAt, now)
	t.Completed = completed
}

// Overdue reports whether the todo is still open past its due date.
func (t *Todo) Overdue(now time.Time) bool {
	return !t.Completed && t.DueDate != nil && t.DueDate.Before(now)
}

// CompletionTransition returns the CompletedAt value that follows a change of
// the completed flag from wasCompleted to completed.
func CompletionTransition(wasCompleted, completed bool, completedAt *time.Time, now time.Time) *time.Time {
	switch {
	case completed && !wasCompleted:
		t := now
		return &t
	case !completed && wasCompleted:
		return nil
	default:
		return completedAt
	}
}

// TodoStats summarizes a user's todos by completion state.
type TodoStats struct {
	Total     int64
	Completed int64
	Pending   int64
}

func NewTodoStats(completed, pending int64) TodoStats {
	return TodoStats{
		Total:     completed + pending,
		Completed: completed,
		Pending:   pending,
	}
}

// Optional distinguishes a field that was not provided from one explicitly set,
// possibly to its zero value.
type Optional[T any] struct {
	Set   bool
	Value T
}

func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: v}
}
