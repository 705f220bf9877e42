package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"todo-api/internal/domain"
	"todo-api/internal/service"
	"todo-api/internal/storage"
)

type signupRequest struct {
	Name     string `json:"name" binding:"required,min=2,max=100"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=100"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type createTodoRequest struct {
	Title       string       `json:"title" binding:"required,max=255"`
	Description string       `json:"description"`
	Priority    string       `json:"priority"`
	DueDate     optionalTime `json:"dueDate"`
}

type updateTodoRequest struct {
	Title       *string        `json:"title" binding:"omitempty,max=255"`
	Description optionalString `json:"description"`
	Completed   *bool          `json:"completed"`
	Priority    *string        `json:"priority"`
	DueDate     optionalTime   `json:"dueDate"`
}

func (r updateTodoRequest) toInput() service.UpdateTodoInput {
	in := service.UpdateTodoInput{
		Title:     r.Title,
		Completed: r.Completed,
		Priority:  r.Priority,
	}
	if r.Description.Set {
		in.Description = domain.Some(r.Description.Value)
	}
	if r.DueDate.Set {
		in.DueDate = domain.Some(r.DueDate.Ptr())
	}
	return in
}

// optionalString records whether the key was present at all; null and ""
// both clear the value.
type optionalString struct {
	Set   bool
	Value string
}

func (o *optionalString) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(data, []byte("null")) {
		o.Value = ""
		return nil
	}
	return json.Unmarshal(data, &o.Value)
}

// dueDateLayouts are tried in order. Zone-less forms are read as UTC.
var dueDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// dateError is returned for a date string in none of the accepted layouts.
type dateError struct {
	Value string
}

func (e *dateError) Error() string {
	return fmt.Sprintf("invalid date %q: use YYYY-MM-DD or RFC3339", e.Value)
}

// optionalTime is a nullable date that also records whether the key was present.
type optionalTime struct {
	Set bool
	t   *time.Time
}

func (o *optionalTime) UnmarshalJSON(data []byte) error {
	o.Set = true
	o.t = nil
	var raw *string
	if err := json.Unmarshal(data, &raw); err != nil {
		return &dateError{Value: string(data)}
	}
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil
	}
	t, err := parseDueDate(*raw)
	if err != nil {
		return err
	}
	o.t = &t
	return nil
}

func (o optionalTime) Ptr() *time.Time { return o.t }

func parseDueDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dueDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &dateError{Value: s}
}

type userResponse struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type authResponse struct {
	Token     string       `json:"token"`
	Type      string       `json:"type"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      userResponse `json:"user"`
}

type todoResponse struct {
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

type statsResponse struct {
	Total     int64 `json:"total"`
	Completed int64 `json:"completed"`
	Pending   int64 `json:"pending"`
}

type exportResponse struct {
	Key       string    `json:"key"`
	Location  string    `json:"location"`
	URL       string    `json:"url"`
	Count     int       `json:"count"`
	CreatedAt time.Time `json:"createdAt"`
}

type storageObjectResponse struct {
	Key          string  `json:"key"`
	Size         int64   `json:"size"`
	LastModified *string `json:"lastModified,omitempty"`
}

func userToResponse(user *domain.User) userResponse {
	return userResponse{ID: user.ID, Name: user.Name, Email: user.Email}
}

func authToResponse(res *service.AuthResult) authResponse {
	return authResponse{
		Token:     res.Token,
		Type:      res.TokenType,
		ExpiresAt: res.ExpiresAt,
		User:      userToResponse(res.User),
	}
}

func todoToResponse(todo domain.Todo) todoResponse {
	return todoResponse{
		ID:          todo.ID,
		Title:       todo.Title,
		Description: todo.Description,
		Completed:   todo.Completed,
		Priority:    string(todo.Priority),
		DueDate:     todo.DueDate,
		CreatedAt:   todo.CreatedAt,
		UpdatedAt:   todo.UpdatedAt,
		CompletedAt: todo.CompletedAt,
	}
}

func todosToResponse(todos []domain.Todo) []todoResponse {
	resp := make([]todoResponse, len(todos))
	for i := range todos {
		resp[i] = todoToResponse(todos[i])
	}
	return resp
}

func objectToResponse(obj storage.ObjectInfo) storageObjectResponse {
	resp := storageObjectResponse{
		Key:  obj.Key,
		Size: obj.Size,
	}
	if obj.LastModified != nil && !obj.LastModified.IsZero() {
		v := obj.LastModified.Format(time.RFC3339)
		resp.LastModified = &v
	}
	return resp
}
