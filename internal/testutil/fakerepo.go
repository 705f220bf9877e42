// Package testutil provides in-memory fakes for service and handler tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"todo-api/internal/domain"
	"todo-api/internal/repository"
)

// FakeUserRepository is an in-memory repository.UserRepository.
type FakeUserRepository struct {
	mu     sync.RWMutex
	nextID int64
	users  map[int64]domain.User

	// Error injection
	CreateErr error
	GetErr    error
}

func NewFakeUserRepository() *FakeUserRepository {
	return &FakeUserRepository{users: make(map[int64]domain.User)}
}

func (f *FakeUserRepository) Init(context.Context) error { return nil }

// Create implements repository.UserRepository.
func (f *FakeUserRepository) Create(_ context.Context, user *domain.User) (int64, error) {
	if f.CreateErr != nil {
		return 0, f.CreateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == user.Email {
			return 0, repository.ErrDuplicate
		}
	}
	f.nextID++
	user.ID = f.nextID
	f.users[user.ID] = *user
	return user.ID, nil
}

// GetByEmail implements repository.UserRepository.
func (f *FakeUserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, u := range f.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

// GetByID implements repository.UserRepository.
func (f *FakeUserRepository) GetByID(_ context.Context, id int64) (*domain.User, error) {
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

// ExistsByEmail implements repository.UserRepository.
func (f *FakeUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := f.GetByEmail(ctx, email)
	if err == repository.ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

// Remove deletes a user, for tests of tokens that outlive their owner.
func (f *FakeUserRepository) Remove(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, id)
}

// FakeTodoRepository is an in-memory repository.TodoRepository. Transactions
// are serialized and roll back by restoring a snapshot.
type FakeTodoRepository struct {
	txMu   sync.Mutex
	mu     sync.RWMutex
	nextID int64
	todos  map[int64]domain.Todo

	listCalls int

	// Error injection
	ListErr   error
	UpdateErr error
	CountErr  error
}

func NewFakeTodoRepository() *FakeTodoRepository {
	return &FakeTodoRepository{todos: make(map[int64]domain.Todo)}
}

func (f *FakeTodoRepository) Init(context.Context) error { return nil }

// ListCalls reports how many times List reached the store.
func (f *FakeTodoRepository) ListCalls() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.listCalls
}

// Create implements repository.TodoRepository.
func (f *FakeTodoRepository) Create(_ context.Context, todo *domain.Todo) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	todo.ID = f.nextID
	f.todos[todo.ID] = *todo
	return todo.ID, nil
}

// Get implements repository.TodoRepository.
func (f *FakeTodoRepository) Get(_ context.Context, id, userID int64) (*domain.Todo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.todos[id]
	if !ok || t.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

// GetForUpdate implements repository.TodoRepository.
func (f *FakeTodoRepository) GetForUpdate(ctx context.Context, id, userID int64) (*domain.Todo, error) {
	return f.Get(ctx, id, userID)
}

// List implements repository.TodoRepository.
func (f *FakeTodoRepository) List(_ context.Context, userID int64, filter repository.TodoFilter) ([]domain.Todo, error) {
	f.mu.Lock()
	f.listCalls++
	f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}

	list := f.collect(func(t domain.Todo) bool {
		return t.UserID == userID && (filter.Completed == nil || t.Completed == *filter.Completed)
	})
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if filter.Order == repository.OrderByPriority && a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() < b.Priority.Rank()
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	return list, nil
}

// ListOverdue implements repository.TodoRepository.
func (f *FakeTodoRepository) ListOverdue(_ context.Context, userID int64, now time.Time) ([]domain.Todo, error) {
	list := f.collect(func(t domain.Todo) bool {
		return t.UserID == userID && t.Overdue(now)
	})
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].DueDate.Equal(*list[j].DueDate) {
			return list[i].DueDate.Before(*list[j].DueDate)
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

// Update implements repository.TodoRepository.
func (f *FakeTodoRepository) Update(_ context.Context, todo *domain.Todo) error {
	if f.UpdateErr != nil {
		return f.UpdateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.todos[todo.ID]
	if !ok || existing.UserID != todo.UserID {
		return repository.ErrNotFound
	}
	f.todos[todo.ID] = *todo
	return nil
}

// Delete implements repository.TodoRepository.
func (f *FakeTodoRepository) Delete(_ context.Context, id, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.todos[id]
	if !ok || t.UserID != userID {
		return repository.ErrNotFound
	}
	delete(f.todos, id)
	return nil
}

// CountByCompleted implements repository.TodoRepository.
func (f *FakeTodoRepository) CountByCompleted(_ context.Context, userID int64) (int64, int64, error) {
	if f.CountErr != nil {
		return 0, 0, f.CountErr
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	var completed, pending int64
	for _, t := range f.todos {
		if t.UserID != userID {
			continue
		}
		if t.Completed {
			completed++
		} else {
			pending++
		}
	}
	return completed, pending, nil
}

// InTx implements repository.TodoRepository.
func (f *FakeTodoRepository) InTx(_ context.Context, fn func(repository.TodoRepository) error) error {
	f.txMu.Lock()
	defer f.txMu.Unlock()

	f.mu.RLock()
	snapshot := make(map[int64]domain.Todo, len(f.todos))
	for id, t := range f.todos {
		snapshot[id] = t
	}
	nextID := f.nextID
	f.mu.RUnlock()

	if err := fn(f); err != nil {
		f.mu.Lock()
		f.todos = snapshot
		f.nextID = nextID
		f.mu.Unlock()
		return err
	}
	return nil
}

func (f *FakeTodoRepository) collect(keep func(domain.Todo) bool) []domain.Todo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	list := []domain.Todo{}
	for _, t := range f.todos {
		if keep(t) {
			list = append(list, t)
		}
	}
	return list
}

var (
	_ repository.UserRepository = (*FakeUserRepository)(nil)
	_ repository.TodoRepository = (*FakeTodoRepository)(nil)
)
