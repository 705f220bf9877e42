package repository

import (
	"context"
	"time"

	"todo-api/internal/domain"
)

// TodoOrder selects the ordering of a todo listing.
type TodoOrder int

const (
	// OrderByCreatedDesc lists newest first.
	OrderByCreatedDesc TodoOrder = iota
	// OrderByPriority lists high, medium, low, then newest first within a bucket.
	OrderByPriority
)

// TodoFilter narrows a listing of one user's todos.
type TodoFilter struct {
	Completed *bool
	Order     TodoOrder
}

// TodoRepository exposes owner-scoped persistence for Todo aggregates. Every
// lookup takes the owner id; a todo owned by someone else reads as ErrNotFound.
type TodoRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, todo *domain.Todo) (int64, error)
	Get(ctx context.Context, id, userID int64) (*domain.Todo, error)
	// GetForUpdate is Get with a row lock where the engine supports one.
	GetForUpdate(ctx context.Context, id, userID int64) (*domain.Todo, error)
	List(ctx context.Context, userID int64, filter TodoFilter) ([]domain.Todo, error)
	ListOverdue(ctx context.Context, userID int64, now time.Time) ([]domain.Todo, error)
	Update(ctx context.Context, todo *domain.Todo) error
	Delete(ctx context.Context, id, userID int64) error
	CountByCompleted(ctx context.Context, userID int64) (completed, pending int64, err error)
	// InTx runs fn against a repository bound to a single transaction, committing
	// when fn returns nil and rolling back otherwise.
	InTx(ctx context.Context, fn func(TodoRepository) error) error
}
