// internal/service/auth_service.go
package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"todocore/internal/clock"
	"todocore/internal/models"
	"todocore/internal/repository"
	"todocore/pkg/apierrors"
	"todocore/pkg/auth"
	"todocore/pkg/security"
)

// UserStore is the persistence surface of the auth service.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Get(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// AuthService registers principals and issues bearer tokens.
type AuthService struct {
	users           UserStore
	tokenManager    *auth.TokenManager
	passwordManager *auth.PasswordManager
	securityLogger  *SecurityLogger
	clock           clock.Clock
}

func NewAuthService(users UserStore, tm *auth.TokenManager, secLog *SecurityLogger, clk clock.Clock) *AuthService {
	return &AuthService{
		users:           users,
		tokenManager:    tm,
		passwordManager: auth.NewPasswordManager(),
		securityLogger:  secLog,
		clock:           clk,
	}
}

// AuthResult is the response of register and login.
type AuthResult struct {
	Token     string       `json:"token"`
	ExpiresIn int64        `json:"expires_in"`
	User      *models.User `json:"user"`
}

// Register creates a new principal. A duplicate email yields Conflict.
func (s *AuthService) Register(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := auth.ValidateEmail(email); err != nil {
		return nil, apierrors.Validation([]apierrors.FieldViolation{{Field: "email", Message: err.Error()}})
	}

	hash, err := s.passwordManager.HashPassword(password)
	if err != nil {
		if errors.Is(err, auth.ErrWeakPassword) {
			return nil, apierrors.Validation([]apierrors.FieldViolation{{Field: "password", Message: err.Error()}})
		}
		return nil, apierrors.Wrap(apierrors.Internal, "failed to register", err)
	}

	now := s.clock.Now()
	user := &models.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, apierrors.New(apierrors.Conflict, "user with this email already exists")
		}
		return nil, apierrors.Wrap(apierrors.Internal, "failed to register", err)
	}

	s.securityLogger.Log(ctx, security.EventTypeRegistration, security.SeverityLow,
		zap.String("tenant_id", user.ID.String()))

	return s.issue(user)
}

// Login verifies credentials and issues a token. Unknown email and wrong
// password are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.securityLogger.Log(ctx, security.EventTypeLoginFailed, security.SeverityMedium,
				zap.String("email", email), zap.String("reason", "unknown_email"))
			return nil, apierrors.New(apierrors.Unauthenticated, "invalid email or password")
		}
		return nil, apierrors.Wrap(apierrors.Internal, "failed to log in", err)
	}

	if err := s.passwordManager.ComparePassword(user.PasswordHash, password); err != nil {
		s.securityLogger.Log(ctx, security.EventTypeLoginFailed, security.SeverityMedium,
			zap.String("email", email), zap.String("reason", "bad_password"))
		return nil, apierrors.New(apierrors.Unauthenticated, "invalid email or password")
	}

	s.securityLogger.Log(ctx, security.EventTypeLoginSuccess, security.SeverityLow,
		zap.String("tenant_id", user.ID.String()))

	return s.issue(user)
}

// Refresh issues a fresh token for an already-authenticated principal.
func (s *AuthService) Refresh(ctx context.Context, userID uuid.UUID) (*AuthResult, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apierrors.New(apierrors.Unauthenticated, "unknown principal")
		}
		return nil, apierrors.Wrap(apierrors.Internal, "failed to refresh token", err)
	}
	return s.issue(user)
}

func (s *AuthService) issue(user *models.User) (*AuthResult, error) {
	token, expiresIn, err := s.tokenManager.Generate(user.ID, user.Email)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, "failed to issue token", err)
	}
	return &AuthResult{Token: token, ExpiresIn: expiresIn, User: user}, nil
}
