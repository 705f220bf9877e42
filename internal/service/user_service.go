package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"todo-api/internal/auth"
	"todo-api/internal/domain"
	"todo-api/internal/events"
	"todo-api/internal/repository"
)

// TokenIssuer mints the bearer token returned from signup and login.
type TokenIssuer interface {
	Issue(userID int64) (auth.Token, error)
}

// AuthResult is what a successful signup or login hands back to the caller.
type AuthResult struct {
	Token     string
	TokenType string
	ExpiresAt time.Time
	User      *domain.User
}

// UserService describes registration, login and identity lookup.
type UserService interface {
	Register(ctx context.Context, name, email, password string) (*AuthResult, error)
	Login(ctx context.Context, email, password string) (*AuthResult, error)
	CurrentUser(user *domain.User) *domain.User
	GetByID(ctx context.Context, id int64) (*domain.User, error)
}

type userService struct {
	users     repository.UserRepository
	tokens    TokenIssuer
	publisher events.Publisher
	logger    *logrus.Logger

	hashCost  int
	dummyHash []byte
	now       func() time.Time
}

func NewUserService(users repository.UserRepository, tokens TokenIssuer, publisher events.Publisher, logger *logrus.Logger) UserService {
	return newUserService(users, tokens, publisher, logger, bcrypt.DefaultCost)
}

func newUserService(users repository.UserRepository, tokens TokenIssuer, publisher events.Publisher, logger *logrus.Logger, hashCost int) *userService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	// compared against on unknown emails so both login failures cost the same
	dummy, _ := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), hashCost)
	return &userService{
		users:     users,
		tokens:    tokens,
		publisher: publisher,
		logger:    logger,
		hashCost:  hashCost,
		dummyHash: dummy,
		now:       time.Now,
	}
}

// NormalizeEmail is the canonical form emails are stored and looked up in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *userService) Register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	name = strings.TrimSpace(name)
	email = NormalizeEmail(email)

	if name == "" {
		return nil, invalid("name", "name is required")
	}
	if email == "" {
		return nil, invalid("email", "email is required")
	}
	if password == "" {
		return nil, invalid("password", "password is required")
	}

	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateEmail
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	user := &domain.User{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if _, err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}

	if err := s.publisher.Publish(ctx, events.Event{Type: events.UserRegistered, UserID: user.ID, OccurredAt: now}); err != nil {
		s.logger.WithError(err).WithField("user_id", user.ID).Warn("publish user event")
	}

	return s.issue(user)
}

func (s *userService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.issue(user)
}

func (s *userService) CurrentUser(user *domain.User) *domain.User {
	return sanitizeUser(user)
}

func (s *userService) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return sanitizeUser(user), nil
}

func (s *userService) issue(user *domain.User) (*AuthResult, error) {
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &AuthResult{
		Token:     token.Value,
		TokenType: auth.TokenType,
		ExpiresAt: token.ExpiresAt,
		User:      sanitizeUser(user),
	}, nil
}

func sanitizeUser(user *domain.User) *domain.User {
	if user == nil {
		return nil
	}
	return &domain.User{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}
