package service

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"todo-api/internal/auth"
	"todo-api/internal/events"
	"todo-api/internal/repository"
	"todo-api/internal/testutil"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestUserService(t *testing.T) (*userService, *testutil.FakeUserRepository, *auth.TokenManager, *testutil.RecordingPublisher) {
	t.Helper()
	tokens, err := auth.NewTokenManager("test-secret", time.Hour, "todo-api")
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	users := testutil.NewFakeUserRepository()
	pub := &testutil.RecordingPublisher{}
	return newUserService(users, tokens, pub, quietLogger(), bcrypt.MinCost), users, tokens, pub
}

func TestRegisterAndLogin(t *testing.T) {
	svc, users, tokens, _ := newTestUserService(t)
	ctx := context.Background()

	res, err := svc.Register(ctx, "  Ada Lovelace ", "  Ada@Example.COM ", "secret1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if res.TokenType != "Bearer" || res.Token == "" {
		t.Fatalf("unexpected auth result: %+v", res)
	}
	if res.User.Email != "ada@example.com" || res.User.Name != "Ada Lovelace" {
		t.Fatalf("user not normalized: %+v", res.User)
	}
	if res.User.PasswordHash != "" {
		t.Fatalf("password hash leaked in auth result")
	}

	uid, err := tokens.Verify(res.Token)
	if err != nil || uid != res.User.ID {
		t.Fatalf("verify token: uid=%d err=%v", uid, err)
	}

	stored, err := users.GetByID(ctx, res.User.ID)
	if err != nil {
		t.Fatalf("stored user: %v", err)
	}
	if stored.PasswordHash == "secret1" || bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("secret1")) != nil {
		t.Fatalf("password not stored as bcrypt hash")
	}

	login, err := svc.Login(ctx, "ADA@example.com", "secret1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if login.User.ID != res.User.ID {
		t.Fatalf("login returned user %d, want %d", login.User.ID, res.User.ID)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	svc, _, _, _ := newTestUserService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "Ada", "ada@example.com", "secret1"); err != nil {
		t.Fatalf("register: %v", err)
	}

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password", "ada@example.com", "nope"},
		{"unknown email", "bob@example.com", "secret1"},
		{"empty password", "ada@example.com", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(ctx, tt.email, tt.password)
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("got %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, users, _, _ := newTestUserService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "Ada", "ada@example.com", "secret1"); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.Register(ctx, "Other", "ADA@example.com", "secret2"); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("got %v, want ErrDuplicateEmail", err)
	}

	// a unique violation that slips past the pre-check maps the same way
	users.CreateErr = repository.ErrDuplicate
	if _, err := svc.Register(ctx, "Bob", "bob@example.com", "secret1"); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("got %v, want ErrDuplicateEmail", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _, _ := newTestUserService(t)

	tests := []struct {
		name, user, email, password, field string
	}{
		{"blank name", "  ", "a@example.com", "secret1", "name"},
		{"blank email", "Ada", " ", "secret1", "email"},
		{"blank password", "Ada", "a@example.com", "", "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.user, tt.email, tt.password)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("got %v, want ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Fatalf("field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestRegisterPublishesEvent(t *testing.T) {
	svc, _, _, pub := newTestUserService(t)
	res, err := svc.Register(context.Background(), "Ada", "ada@example.com", "secret1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	got := pub.Events()
	if len(got) != 1 || got[0].Type != events.UserRegistered || got[0].UserID != res.User.ID {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestRegisterSurvivesPublishFailure(t *testing.T) {
	svc, _, _, pub := newTestUserService(t)
	pub.PublishErr = errors.New("broker down")
	if _, err := svc.Register(context.Background(), "Ada", "ada@example.com", "secret1"); err != nil {
		t.Fatalf("register should not fail on publish error: %v", err)
	}
}

func TestGetByID(t *testing.T) {
	svc, _, _, _ := newTestUserService(t)
	ctx := context.Background()
	res, err := svc.Register(ctx, "Ada", "ada@example.com", "secret1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	user, err := svc.GetByID(ctx, res.User.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if user.PasswordHash != "" {
		t.Fatalf("password hash leaked")
	}
	if current := svc.CurrentUser(user); current.Email != "ada@example.com" {
		t.Fatalf("current user = %+v", current)
	}

	if _, err := svc.GetByID(ctx, 999); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("got %v, want ErrUserNotFound", err)
	}
}
