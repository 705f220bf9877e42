package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"todo-api/internal/domain"
	"todo-api/internal/repository"
)

var createTodosTable = map[Dialect][]string{
	DialectSQLite: {`
CREATE TABLE IF NOT EXISTS todos (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	completed BOOLEAN NOT NULL DEFAULT 0,
	priority TEXT NOT NULL DEFAULT 'medium',
	due_date DATETIME NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	completed_at DATETIME NULL
);
`,
		`CREATE INDEX IF NOT EXISTS idx_todos_user_created ON todos (user_id, created_at DESC);`,
	},
	DialectPostgres: {`
CREATE TABLE IF NOT EXISTS todos (
	id BIGSERIAL PRIMARY KEY,
	user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	title VARCHAR(255) NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	completed BOOLEAN NOT NULL DEFAULT FALSE,
	priority VARCHAR(16) NOT NULL DEFAULT 'medium',
	due_date TIMESTAMPTZ NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ NULL
);
`,
		`CREATE INDEX IF NOT EXISTS idx_todos_user_created ON todos (user_id, created_at DESC);`,
	},
}

const todoColumns = `id, user_id, title, description, completed, priority, due_date, created_at, updated_at, completed_at`

const priorityRankExpr = `CASE priority WHEN 'high' THEN 1 WHEN 'medium' THEN 2 WHEN 'low' THEN 3 ELSE 4 END`

type TodoRepository struct {
	db   *DB
	q    querier
	inTx bool
}

func NewTodoRepository(db *DB) repository.TodoRepository {
	return &TodoRepository{db: db, q: db.DB}
}

func (r *TodoRepository) Init(ctx context.Context) error {
	if err := r.db.execAll(ctx, createTodosTable[r.db.dialect]...); err != nil {
		return fmt.Errorf("create todos table: %w", err)
	}
	return nil
}

func (r *TodoRepository) InTx(ctx context.Context, fn func(repository.TodoRepository) error) error {
	if r.inTx {
		return fn(r)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&TodoRepository{db: r.db, q: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *TodoRepository) Create(ctx context.Context, todo *domain.Todo) (int64, error) {
	if todo.CreatedAt.IsZero() {
		todo.CreatedAt = time.Now().UTC()
	}
	if todo.UpdatedAt.IsZero() {
		todo.UpdatedAt = todo.CreatedAt
	}

	var id int64
	err := r.q.QueryRowContext(ctx, r.db.rebind(`
INSERT INTO todos (user_id, title, description, completed, priority, due_date, created_at, updated_at, completed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id`),
		todo.UserID,
		todo.Title,
		todo.Description,
		todo.Completed,
		string(todo.Priority),
		nullTime(todo.DueDate),
		todo.CreatedAt.UTC(),
		todo.UpdatedAt.UTC(),
		nullTime(todo.CompletedAt),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert todo: %w", err)
	}

	todo.ID = id
	return id, nil
}

func (r *TodoRepository) Get(ctx context.Context, id, userID int64) (*domain.Todo, error) {
	return r.get(ctx, id, userID, false)
}

func (r *TodoRepository) GetForUpdate(ctx context.Context, id, userID int64) (*domain.Todo, error) {
	return r.get(ctx, id, userID, true)
}

func (r *TodoRepository) get(ctx context.Context, id, userID int64, lock bool) (*domain.Todo, error) {
	query := `
SELECT ` + todoColumns + `
FROM todos
WHERE id = ? AND user_id = ?`
	// sqlite has no row locks; its single connection already serializes the tx
	if lock && r.inTx && r.db.dialect == DialectPostgres {
		query += ` FOR UPDATE`
	}

	return scanTodo(r.q.QueryRowContext(ctx, r.db.rebind(query), id, userID))
}

func (r *TodoRepository) List(ctx context.Context, userID int64, filter repository.TodoFilter) ([]domain.Todo, error) {
	query := `
SELECT ` + todoColumns + `
FROM todos
WHERE user_id = ?`
	args := []any{userID}

	if filter.Completed != nil {
		query += ` AND completed = ?`
		args = append(args, *filter.Completed)
	}

	switch filter.Order {
	case repository.OrderByPriority:
		query += ` ORDER BY ` + priorityRankExpr + ` ASC, created_at DESC, id DESC`
	default:
		query += ` ORDER BY created_at DESC, id DESC`
	}

	return r.queryTodos(ctx, query, args...)
}

func (r *TodoRepository) ListOverdue(ctx context.Context, userID int64, now time.Time) ([]domain.Todo, error) {
	return r.queryTodos(ctx, `
SELECT `+todoColumns+`
FROM todos
WHERE user_id = ? AND completed = ? AND due_date IS NOT NULL AND due_date < ?
ORDER BY due_date ASC, id ASC`,
		userID,
		false,
		now.UTC(),
	)
}

func (r *TodoRepository) Update(ctx context.Context, todo *domain.Todo) error {
	res, err := r.q.ExecContext(ctx, r.db.rebind(`
UPDATE todos
SET title=?, description=?, completed=?, priority=?, due_date=?, updated_at=?, completed_at=?
WHERE id=? AND user_id=?`),
		todo.Title,
		todo.Description,
		todo.Completed,
		string(todo.Priority),
		nullTime(todo.DueDate),
		todo.UpdatedAt.UTC(),
		nullTime(todo.CompletedAt),
		todo.ID,
		todo.UserID,
	)
	if err != nil {
		return fmt.Errorf("update todo: %w", err)
	}
	return expectAffected(res, "update todo")
}

func (r *TodoRepository) Delete(ctx context.Context, id, userID int64) error {
	res, err := r.q.ExecContext(ctx, r.db.rebind(`DELETE FROM todos WHERE id=? AND user_id=?`), id, userID)
	if err != nil {
		return fmt.Errorf("delete todo: %w", err)
	}
	return expectAffected(res, "delete todo")
}

func (r *TodoRepository) CountByCompleted(ctx context.Context, userID int64) (int64, int64, error) {
	rows, err := r.q.QueryContext(ctx, r.db.rebind(`
SELECT completed, COUNT(1)
FROM todos
WHERE user_id = ?
GROUP BY completed`),
		userID,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("count todos: %w", err)
	}
	defer rows.Close()

	var completed, pending int64
	for rows.Next() {
		var (
			done  bool
			count int64
		)
		if err := rows.Scan(&done, &count); err != nil {
			return 0, 0, fmt.Errorf("scan todo count: %w", err)
		}
		if done {
			completed += count
		} else {
			pending += count
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, fmt.Errorf("iterate todo counts: %w", err)
	}
	return completed, pending, nil
}

func (r *TodoRepository) queryTodos(ctx context.Context, query string, args ...any) ([]domain.Todo, error) {
	rows, err := r.q.QueryContext(ctx, r.db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query todos: %w", err)
	}
	defer rows.Close()

	todos := []domain.Todo{}
	for rows.Next() {
		todo, err := scanTodo(rows)
		if err != nil {
			return nil, err
		}
		todos = append(todos, *todo)
	}

	return todos, rows.Err()
}

func expectAffected(res sql.Result, op string) error {
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if aff == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanTodo(scanner interface {
	Scan(dest ...any) error
}) (*domain.Todo, error) {
	var (
		todo        domain.Todo
		priority    string
		dueDate     sql.NullTime
		completedAt sql.NullTime
	)

	if err := scanner.Scan(
		&todo.ID,
		&todo.UserID,
		&todo.Title,
		&todo.Description,
		&todo.Completed,
		&priority,
		&dueDate,
		&todo.CreatedAt,
		&todo.UpdatedAt,
		&completedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan todo: %w", err)
	}

	todo.Priority = domain.Priority(priority)
	todo.CreatedAt = todo.CreatedAt.UTC()
	todo.UpdatedAt = todo.UpdatedAt.UTC()
	todo.DueDate = timePtr(dueDate)
	todo.CompletedAt = timePtr(completedAt)

	return &todo, nil
}
