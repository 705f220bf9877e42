package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"todo-api/internal/domain"
	"todo-api/internal/storage"
)

// ExportConfig locates exports in object storage.
type ExportConfig struct {
	Bucket    string
	KeyPrefix string
	URLExpiry time.Duration
}

// Export describes one uploaded snapshot of a user's todos.
type Export struct {
	Key       string
	Location  string
	URL       string
	Count     int
	CreatedAt time.Time
}

// ExportService writes JSON snapshots of a user's todos to object storage.
type ExportService interface {
	Export(ctx context.Context, userID int64) (*Export, error)
	ListExports(ctx context.Context, userID int64) ([]storage.ObjectInfo, error)
	DeleteExports(ctx context.Context, userID int64) (int, error)
}

type exportService struct {
	todos  TodoService
	store  storage.Service
	cfg    ExportConfig
	logger *logrus.Logger
	now    func() time.Time
}

// NewExportService returns a service whose methods fail with
// ErrStorageDisabled when store is nil or no bucket is configured.
func NewExportService(todos TodoService, store storage.Service, cfg ExportConfig, logger *logrus.Logger) ExportService {
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = 15 * time.Minute
	}
	cfg.KeyPrefix = strings.Trim(cfg.KeyPrefix, "/")
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &exportService{
		todos:  todos,
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

type exportDocument struct {
	UserID     int64        `json:"userId"`
	ExportedAt time.Time    `json:"exportedAt"`
	Stats      exportStats  `json:"stats"`
	Todos      []exportTodo `json:"todos"`
}

type exportStats struct {
	Total     int64 `json:"total"`
	Completed int64 `json:"completed"`
	Pending   int64 `json:"pending"`
}

type exportTodo struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Completed   bool       `json:"completed"`
	Priority    string     `json:"priority"`
	DueDate     *time.Time `json:"dueDate"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt"`
}

func (s *exportService) enabled() bool {
	return s.store != nil && s.cfg.Bucket != ""
}

func (s *exportService) Export(ctx context.Context, userID int64) (*Export, error) {
	if !s.enabled() {
		return nil, ErrStorageDisabled
	}

	todos, err := s.todos.ListAll(ctx, userID)
	if err != nil {
		return nil, err
	}
	stats, err := s.todos.Stats(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	doc := exportDocument{
		UserID:     userID,
		ExportedAt: now,
		Stats:      exportStats{Total: stats.Total, Completed: stats.Completed, Pending: stats.Pending},
		Todos:      make([]exportTodo, 0, len(todos)),
	}
	for _, t := range todos {
		doc.Todos = append(doc.Todos, toExportTodo(t))
	}

	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode export: %w", err)
	}

	key := path.Join(s.userPrefix(userID), fmt.Sprintf("todos-%s-%s.json", now.Format("20060102T150405Z"), uuid.NewString()[:8]))
	location, err := s.store.PutObject(ctx, bytes.NewReader(body), storage.PutOptions{
		Bucket:      s.cfg.Bucket,
		Key:         key,
		ContentType: "application/json",
	})
	if err != nil {
		return nil, err
	}

	url, err := s.store.GetObjectURL(ctx, s.cfg.Bucket, key, s.cfg.URLExpiry)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{"user_id": userID, "key": key, "count": len(todos)}).Info("todos exported")

	return &Export{
		Key:       key,
		Location:  location,
		URL:       url,
		Count:     len(todos),
		CreatedAt: now,
	}, nil
}

func (s *exportService) ListExports(ctx context.Context, userID int64) ([]storage.ObjectInfo, error) {
	if !s.enabled() {
		return nil, ErrStorageDisabled
	}
	return s.store.ListObjects(ctx, s.cfg.Bucket, s.userPrefix(userID)+"/")
}

func (s *exportService) DeleteExports(ctx context.Context, userID int64) (int, error) {
	if !s.enabled() {
		return 0, ErrStorageDisabled
	}
	return s.store.DeletePrefix(ctx, s.cfg.Bucket, s.userPrefix(userID)+"/")
}

func (s *exportService) userPrefix(userID int64) string {
	return path.Join(s.cfg.KeyPrefix, fmt.Sprintf("user-%d", userID))
}

func toExportTodo(t domain.Todo) exportTodo {
	return exportTodo{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
		Priority:    string(t.Priority),
		DueDate:     t.DueDate,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		CompletedAt: t.CompletedAt,
	}
}
