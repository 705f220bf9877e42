package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"todo-api/internal/auth"
	"todo-api/internal/service"
	"todo-api/internal/testutil"
)

type testServer struct {
	router *gin.Engine
	users  *testutil.FakeUserRepository
	tokens *auth.TokenManager
	db     *fakePinger
}

type fakePinger struct{ err error }

func (p *fakePinger) PingContext(context.Context) error { return p.err }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	tokens, err := auth.NewTokenManager("http-test-secret", time.Hour, "todo-api")
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	users := testutil.NewFakeUserRepository()
	userSvc := service.NewUserService(users, tokens, nil, logger)
	todoSvc := service.NewTodoService(testutil.NewFakeTodoRepository(), logger)
	exportSvc := service.NewExportService(todoSvc, testutil.NewFakeStorage(), service.ExportConfig{Bucket: "exports"}, logger)

	db := &fakePinger{}
	router := gin.New()
	NewHandler(userSvc, todoSvc, exportSvc, tokens, db, logger).RegisterRoutes(router)
	return &testServer{router: router, users: users, tokens: tokens, db: db}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) signup(t *testing.T, name, email string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"name": name, "email": email, "password": "secret123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("signup %s: %d %s", email, rec.Code, rec.Body.String())
	}
	var resp authResponse
	decode(t, rec, &resp)
	return resp.Token
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestSignupLoginMe(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"name": "Ada", "email": "Ada@Example.com", "password": "secret123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("signup: %d %s", rec.Code, rec.Body.String())
	}
	var signup authResponse
	decode(t, rec, &signup)
	if signup.Type != "Bearer" || signup.Token == "" || signup.User.Email != "ada@example.com" {
		t.Fatalf("signup response = %+v", signup)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("password")) {
		t.Fatalf("response leaks password: %s", rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "ada@example.com", "password": "secret123"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rec.Code, rec.Body.String())
	}
	var login authResponse
	decode(t, rec, &login)

	rec = s.do(t, http.MethodGet, "/api/auth/me", login.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: %d %s", rec.Code, rec.Body.String())
	}
	var me userResponse
	decode(t, rec, &me)
	if me.ID != signup.User.ID || me.Name != "Ada" {
		t.Fatalf("me = %+v", me)
	}
}

func TestAuthErrors(t *testing.T) {
	s := newTestServer(t)
	s.signup(t, "Ada", "ada@example.com")

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"duplicate email", "/api/auth/signup", map[string]string{"name": "Ada", "email": "ADA@example.com", "password": "secret123"}, http.StatusConflict},
		{"short password", "/api/auth/signup", map[string]string{"name": "Bob", "email": "bob@example.com", "password": "123"}, http.StatusBadRequest},
		{"short name", "/api/auth/signup", map[string]string{"name": "B", "email": "bob@example.com", "password": "secret123"}, http.StatusBadRequest},
		{"bad email", "/api/auth/signup", map[string]string{"name": "Bob", "email": "not-an-email", "password": "secret123"}, http.StatusBadRequest},
		{"malformed json", "/api/auth/signup", "{", http.StatusBadRequest},
		{"wrong password", "/api/auth/login", map[string]string{"email": "ada@example.com", "password": "wrong-one"}, http.StatusUnauthorized},
		{"unknown email", "/api/auth/login", map[string]string{"email": "nobody@example.com", "password": "secret123"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, tt.path, "", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
		})
	}
}

func TestSignupValidationReportsFields(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{"name": "B", "email": "x", "password": "1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	decode(t, rec, &resp)
	for _, field := range []string{"name", "email", "password"} {
		if resp.Fields[field] == "" {
			t.Fatalf("missing field %q in %+v", field, resp.Fields)
		}
	}
}

func TestUnauthorized(t *testing.T) {
	s := newTestServer(t)
	token := s.signup(t, "Ada", "ada@example.com")
	uid, err := s.tokens.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	other, err := auth.NewTokenManager("another-secret", time.Hour, "todo-api")
	if err != nil {
		t.Fatal(err)
	}
	forged, err := other.Issue(uid)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "not-a-jwt"},
		{"wrong signature", forged.Value},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, "/api/todos", tt.token, nil)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d", rec.Code)
			}
		})
	}

	t.Run("deleted user", func(t *testing.T) {
		s.users.Remove(uid)
		rec := s.do(t, http.MethodGet, "/api/auth/me", token, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
	})
}

func TestTodoLifecycle(t *testing.T) {
	s := newTestServer(t)
	token := s.signup(t, "Ada", "ada@example.com")

	rec := s.do(t, http.MethodPost, "/api/todos", token, map[string]any{
		"title": "Write report", "description": "quarterly", "priority": "HIGH", "dueDate": "2024-05-01",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var created todoResponse
	decode(t, rec, &created)
	if created.Priority != "high" || created.Completed || created.CompletedAt != nil {
		t.Fatalf("created = %+v", created)
	}
	if created.DueDate == nil || !created.DueDate.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("dueDate = %v", created.DueDate)
	}

	path := "/api/todos/" + itoa(created.ID)

	rec = s.do(t, http.MethodPatch, path+"/toggle", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle: %d %s", rec.Code, rec.Body.String())
	}
	var toggled todoResponse
	decode(t, rec, &toggled)
	if !toggled.Completed || toggled.CompletedAt == nil {
		t.Fatalf("toggled = %+v", toggled)
	}

	rec = s.do(t, http.MethodPut, path, token, `{"completed": false, "dueDate": null, "description": null}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: %d %s", rec.Code, rec.Body.String())
	}
	var updated todoResponse
	decode(t, rec, &updated)
	if updated.Completed || updated.CompletedAt != nil || updated.DueDate != nil || updated.Description != "" {
		t.Fatalf("updated = %+v", updated)
	}
	if updated.Title != "Write report" || updated.Priority != "high" {
		t.Fatalf("absent fields changed: %+v", updated)
	}

	rec = s.do(t, http.MethodGet, path, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d", rec.Code)
	}

	rec = s.do(t, http.MethodDelete, path, token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodGet, path, token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", rec.Code)
	}
}

func TestTodoValidation(t *testing.T) {
	s := newTestServer(t)
	token := s.signup(t, "Ada", "ada@example.com")

	tests := []struct {
		name  string
		body  any
		field string
	}{
		{"missing title", map[string]any{"description": "x"}, "title"},
		{"blank title", map[string]any{"title": "   "}, "title"},
		{"bad priority", map[string]any{"title": "x", "priority": "urgent"}, "priority"},
		{"bad due date", map[string]any{"title": "x", "dueDate": "next tuesday"}, "dueDate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/todos", token, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
			}
			var resp struct {
				Fields map[string]string `json:"fields"`
			}
			decode(t, rec, &resp)
			if resp.Fields[tt.field] == "" {
				t.Fatalf("fields = %+v, want %s", resp.Fields, tt.field)
			}
		})
	}

	if rec := s.do(t, http.MethodGet, "/api/todos/abc", token, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("non-numeric id: %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/api/todos?completed=maybe", token, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad completed flag: %d", rec.Code)
	}
}

func TestTodosAreIsolatedPerUser(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup(t, "Alice", "alice@example.com")
	bob := s.signup(t, "Bob", "bob@example.com")

	rec := s.do(t, http.MethodPost, "/api/todos", alice, map[string]any{"title": "secret plan"})
	var todo todoResponse
	decode(t, rec, &todo)
	path := "/api/todos/" + itoa(todo.ID)

	for _, req := range []struct{ method, path string }{
		{http.MethodGet, path},
		{http.MethodPut, path},
		{http.MethodPatch, path + "/toggle"},
		{http.MethodDelete, path},
	} {
		var body any
		if req.method == http.MethodPut {
			body = map[string]any{"title": "mine now"}
		}
		if rec := s.do(t, req.method, req.path, bob, body); rec.Code != http.StatusNotFound {
			t.Fatalf("%s %s as other user: %d", req.method, req.path, rec.Code)
		}
	}

	rec = s.do(t, http.MethodGet, "/api/todos", bob, nil)
	var list []todoResponse
	decode(t, rec, &list)
	if len(list) != 0 {
		t.Fatalf("bob sees %d todos", len(list))
	}
}

func TestListFiltersAndStats(t *testing.T) {
	s := newTestServer(t)
	token := s.signup(t, "Ada", "ada@example.com")

	var ids []int64
	for _, body := range []map[string]any{
		{"title": "low", "priority": "low"},
		{"title": "high", "priority": "high", "dueDate": "2000-01-01T10:00:00Z"},
		{"title": "medium"},
	} {
		rec := s.do(t, http.MethodPost, "/api/todos", token, body)
		var todo todoResponse
		decode(t, rec, &todo)
		ids = append(ids, todo.ID)
	}
	s.do(t, http.MethodPatch, "/api/todos/"+itoa(ids[0])+"/toggle", token, nil)

	titles := func(path string) []string {
		rec := s.do(t, http.MethodGet, path, token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: %d", path, rec.Code)
		}
		var list []todoResponse
		decode(t, rec, &list)
		out := make([]string, len(list))
		for i, td := range list {
			out[i] = td.Title
		}
		return out
	}

	if got := titles("/api/todos?sortBy=priority"); len(got) != 3 || got[0] != "high" || got[1] != "medium" || got[2] != "low" {
		t.Fatalf("priority order = %v", got)
	}
	if got := titles("/api/todos?completed=true&sortBy=priority"); len(got) != 1 || got[0] != "low" {
		t.Fatalf("completed = %v", got)
	}
	if got := titles("/api/todos?completed=false"); len(got) != 2 {
		t.Fatalf("open = %v", got)
	}
	if got := titles("/api/todos/overdue"); len(got) != 1 || got[0] != "high" {
		t.Fatalf("overdue = %v", got)
	}

	rec := s.do(t, http.MethodGet, "/api/todos/stats", token, nil)
	var stats statsResponse
	decode(t, rec, &stats)
	if stats != (statsResponse{Total: 3, Completed: 1, Pending: 2}) {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestExports(t *testing.T) {
	s := newTestServer(t)
	token := s.signup(t, "Ada", "ada@example.com")
	s.do(t, http.MethodPost, "/api/todos", token, map[string]any{"title": "a"})

	rec := s.do(t, http.MethodPost, "/api/todos/export", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: %d %s", rec.Code, rec.Body.String())
	}
	var exp exportResponse
	decode(t, rec, &exp)
	if exp.Count != 1 || exp.URL == "" || exp.Key == "" {
		t.Fatalf("export = %+v", exp)
	}

	rec = s.do(t, http.MethodGet, "/api/todos/exports", token, nil)
	var objects []storageObjectResponse
	decode(t, rec, &objects)
	if len(objects) != 1 || objects[0].Key != exp.Key {
		t.Fatalf("objects = %+v", objects)
	}

	rec = s.do(t, http.MethodDelete, "/api/todos/exports", token, nil)
	var deleted struct {
		Deleted int `json:"deleted"`
	}
	decode(t, rec, &deleted)
	if deleted.Deleted != 1 {
		t.Fatalf("deleted = %d", deleted.Deleted)
	}
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t)
	if rec := s.do(t, http.MethodGet, "/api/health", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("health: %d", rec.Code)
	}
	rec := s.do(t, http.MethodGet, "/api/ready", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ready: %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing request id header")
	}

	s.db.err = errors.New("connection refused")
	if rec := s.do(t, http.MethodGet, "/api/ready", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready with db down: %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodOptions, "/api/todos", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight: %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
