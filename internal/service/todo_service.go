package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"todo-api/internal/domain"
	"todo-api/internal/events"
	"todo-api/internal/repository"
)

// MaxTitleLength is the longest accepted title, counted in characters.
const MaxTitleLength = 255

// Cached list views.
const (
	viewAll       = "all"
	viewPriority  = "priority"
	viewCompleted = "completed"
	viewOpen      = "open"
)

// sharedLoadTimeout bounds a store load shared by concurrent readers.
const sharedLoadTimeout = 10 * time.Second

// TodoCache caches per-user listings and stats. Invalidate drops everything
// cached for a user and advances its Version; a Set carrying an older version
// is ignored.
type TodoCache interface {
	GetList(ctx context.Context, userID int64, view string) ([]domain.Todo, bool, error)
	SetList(ctx context.Context, userID int64, view string, version int64, list []domain.Todo) error
	GetStats(ctx context.Context, userID int64) (domain.TodoStats, bool, error)
	SetStats(ctx context.Context, userID int64, version int64, stats domain.TodoStats) error
	Version(ctx context.Context, userID int64) (int64, error)
	Invalidate(ctx context.Context, userID int64) error
}

// CreateTodoInput carries the fields accepted when creating a todo. An empty
// Priority means the default.
type CreateTodoInput struct {
	Title       string
	Description string
	Priority    string
	DueDate     *time.Time
}

// UpdateTodoInput is a partial update. Nil pointers leave a field alone;
// Description and DueDate distinguish "absent" from "cleared".
type UpdateTodoInput struct {
	Title       *string
	Description domain.Optional[string]
	Completed   *bool
	Priority    *string
	DueDate     domain.Optional[*time.Time]
}

// TodoService manages the todos of a single owner per call.
type TodoService interface {
	ListAll(ctx context.Context, userID int64) ([]domain.Todo, error)
	ListByStatus(ctx context.Context, userID int64, completed bool) ([]domain.Todo, error)
	ListByPriority(ctx context.Context, userID int64) ([]domain.Todo, error)
	ListOverdue(ctx context.Context, userID int64) ([]domain.Todo, error)
	GetByID(ctx context.Context, id, userID int64) (*domain.Todo, error)
	Create(ctx context.Context, userID int64, in CreateTodoInput) (*domain.Todo, error)
	Update(ctx context.Context, id, userID int64, in UpdateTodoInput) (*domain.Todo, error)
	Toggle(ctx context.Context, id, userID int64) (*domain.Todo, error)
	Delete(ctx context.Context, id, userID int64) error
	Stats(ctx context.Context, userID int64) (domain.TodoStats, error)
}

// TodoOption customizes a TodoService.
type TodoOption func(*todoService)

// WithCache enables the read cache.
func WithCache(cache TodoCache) TodoOption {
	return func(s *todoService) { s.cache = cache }
}

// WithPublisher sets the event publisher.
func WithPublisher(p events.Publisher) TodoOption {
	return func(s *todoService) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) TodoOption {
	return func(s *todoService) { s.now = now }
}

type todoService struct {
	todos     repository.TodoRepository
	cache     TodoCache
	publisher events.Publisher
	logger    *logrus.Logger
	now       func() time.Time
	group     singleflight.Group
}

func NewTodoService(todos repository.TodoRepository, logger *logrus.Logger, opts ...TodoOption) TodoService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &todoService{
		todos:     todos,
		publisher: events.Nop{},
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *todoService) ListAll(ctx context.Context, userID int64) ([]domain.Todo, error) {
	return s.cachedList(ctx, userID, viewAll, repository.TodoFilter{Order: repository.OrderByCreatedDesc})
}

func (s *todoService) ListByStatus(ctx context.Context, userID int64, completed bool) ([]domain.Todo, error) {
	view := viewOpen
	if completed {
		view = viewCompleted
	}
	return s.cachedList(ctx, userID, view, repository.TodoFilter{Completed: &completed, Order: repository.OrderByCreatedDesc})
}

func (s *todoService) ListByPriority(ctx context.Context, userID int64) ([]domain.Todo, error) {
	return s.cachedList(ctx, userID, viewPriority, repository.TodoFilter{Order: repository.OrderByPriority})
}

// ListOverdue depends on the current time, so it is never cached.
func (s *todoService) ListOverdue(ctx context.Context, userID int64) ([]domain.Todo, error) {
	return s.todos.ListOverdue(ctx, userID, s.now().UTC())
}

func (s *todoService) GetByID(ctx context.Context, id, userID int64) (*domain.Todo, error) {
	todo, err := s.todos.Get(ctx, id, userID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return todo, nil
}

func (s *todoService) Create(ctx context.Context, userID int64, in CreateTodoInput) (*domain.Todo, error) {
	title, err := validateTitle(in.Title)
	if err != nil {
		return nil, err
	}
	priority := domain.DefaultPriority
	if strings.TrimSpace(in.Priority) != "" {
		if priority, err = validatePriority(in.Priority); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	todo := &domain.Todo{
		UserID:      userID,
		Title:       title,
		Description: in.Description,
		Priority:    priority,
		DueDate:     utcPtr(in.DueDate),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.todos.InTx(ctx, func(tx repository.TodoRepository) error {
		_, err := tx.Create(ctx, todo)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterWrite(ctx, events.TodoCreated, todo)
	return todo, nil
}

func (s *todoService) Update(ctx context.Context, id, userID int64, in UpdateTodoInput) (*domain.Todo, error) {
	var (
		title    string
		priority domain.Priority
		err      error
	)
	if in.Title != nil {
		if title, err = validateTitle(*in.Title); err != nil {
			return nil, err
		}
	}
	if in.Priority != nil {
		if priority, err = validatePriority(*in.Priority); err != nil {
			return nil, err
		}
	}

	var updated *domain.Todo
	err = s.todos.InTx(ctx, func(tx repository.TodoRepository) error {
		todo, err := tx.GetForUpdate(ctx, id, userID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		if in.Title != nil {
			todo.Title = title
		}
		if in.Description.Set {
			todo.Description = in.Description.Value
		}
		if in.Priority != nil {
			todo.Priority = priority
		}
		if in.DueDate.Set {
			todo.DueDate = utcPtr(in.DueDate.Value)
		}
		if in.Completed != nil {
			todo.SetCompleted(*in.Completed, now)
		}
		todo.UpdatedAt = now

		if err := tx.Update(ctx, todo); err != nil {
			return err
		}
		updated = todo
		return nil
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}

	s.afterWrite(ctx, events.TodoUpdated, updated)
	return updated, nil
}

func (s *todoService) Toggle(ctx context.Context, id, userID int64) (*domain.Todo, error) {
	var toggled *domain.Todo
	err := s.todos.InTx(ctx, func(tx repository.TodoRepository) error {
		todo, err := tx.GetForUpdate(ctx, id, userID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		todo.SetCompleted(!todo.Completed, now)
		todo.UpdatedAt = now
		if err := tx.Update(ctx, todo); err != nil {
			return err
		}
		toggled = todo
		return nil
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}

	s.afterWrite(ctx, events.TodoToggled, toggled)
	return toggled, nil
}

func (s *todoService) Delete(ctx context.Context, id, userID int64) error {
	err := s.todos.InTx(ctx, func(tx repository.TodoRepository) error {
		return tx.Delete(ctx, id, userID)
	})
	if err != nil {
		return mapStoreErr(err)
	}

	s.afterWrite(ctx, events.TodoDeleted, &domain.Todo{ID: id, UserID: userID})
	return nil
}

func (s *todoService) Stats(ctx context.Context, userID int64) (domain.TodoStats, error) {
	load := func(ctx context.Context) (domain.TodoStats, error) {
		completed, pending, err := s.todos.CountByCompleted(ctx, userID)
		if err != nil {
			return domain.TodoStats{}, err
		}
		return domain.NewTodoStats(completed, pending), nil
	}
	if s.cache == nil {
		return load(ctx)
	}

	v, err := s.shared(ctx, statsKey(userID), func(ctx context.Context) (interface{}, error) {
		log := s.logger.WithField("user_id", userID)
		if stats, ok, err := s.cache.GetStats(ctx, userID); err != nil {
			log.WithError(err).Warn("read stats cache")
		} else if ok {
			return stats, nil
		}
		version, verErr := s.cache.Version(ctx, userID)
		if verErr != nil {
			log.WithError(verErr).Warn("read cache version")
		}
		stats, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if verErr == nil {
			if err := s.cache.SetStats(ctx, userID, version, stats); err != nil {
				log.WithError(err).Warn("write stats cache")
			}
		}
		return stats, nil
	})
	if err != nil {
		return domain.TodoStats{}, err
	}
	return v.(domain.TodoStats), nil
}

// cachedList serves a listing from the cache when one is configured, collapsing
// concurrent misses for the same user and view into one store query.
func (s *todoService) cachedList(ctx context.Context, userID int64, view string, filter repository.TodoFilter) ([]domain.Todo, error) {
	if s.cache == nil {
		return s.todos.List(ctx, userID, filter)
	}

	v, err := s.shared(ctx, listKey(userID, view), func(ctx context.Context) (interface{}, error) {
		log := s.logger.WithFields(logrus.Fields{"user_id": userID, "view": view})
		if list, ok, err := s.cache.GetList(ctx, userID, view); err != nil {
			log.WithError(err).Warn("read list cache")
		} else if ok {
			return list, nil
		}
		version, verErr := s.cache.Version(ctx, userID)
		if verErr != nil {
			log.WithError(verErr).Warn("read cache version")
		}
		list, err := s.todos.List(ctx, userID, filter)
		if err != nil {
			return nil, err
		}
		if verErr == nil {
			if err := s.cache.SetList(ctx, userID, view, version, list); err != nil {
				log.WithError(err).Warn("write list cache")
			}
		}
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Todo), nil
}

// shared runs load once per key among concurrent callers. The load is detached
// from any single caller's cancellation; each caller still stops waiting when
// its own ctx is done.
func (s *todoService) shared(ctx context.Context, key string, load func(context.Context) (interface{}, error)) (interface{}, error) {
	ch := s.group.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLoadTimeout)
		defer cancel()
		return load(loadCtx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

// forget detaches in-flight loads for the user so later readers start a fresh
// one instead of joining a load that began before the write.
func (s *todoService) forget(userID int64) {
	for _, view := range []string{viewAll, viewPriority, viewCompleted, viewOpen} {
		s.group.Forget(listKey(userID, view))
	}
	s.group.Forget(statsKey(userID))
}

func listKey(userID int64, view string) string {
	return fmt.Sprintf("list:%d:%s", userID, view)
}

func statsKey(userID int64) string {
	return fmt.Sprintf("stats:%d", userID)
}

// afterWrite runs the post-commit side effects. Failures are logged only; the
// write itself already succeeded.
func (s *todoService) afterWrite(ctx context.Context, typ events.Type, todo *domain.Todo) {
	entry := s.logger.WithFields(logrus.Fields{"user_id": todo.UserID, "todo_id": todo.ID, "event": typ})

	if s.cache != nil {
		s.forget(todo.UserID)
		if err := s.cache.Invalidate(ctx, todo.UserID); err != nil {
			entry.WithError(err).Warn("invalidate todo cache")
		}
	}

	event := events.Event{Type: typ, UserID: todo.UserID, TodoID: todo.ID}
	if typ != events.TodoDeleted {
		completed := todo.Completed
		event.Completed = &completed
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		entry.WithError(err).Warn("publish todo event")
	}
}

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", invalid("title", "title is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", invalid("title", "title must be at most %d characters", MaxTitleLength)
	}
	return title, nil
}

func validatePriority(value string) (domain.Priority, error) {
	p, ok := domain.ParsePriority(value)
	if !ok {
		return "", invalid("priority", "priority must be one of high, medium, low")
	}
	return p, nil
}

func mapStoreErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
