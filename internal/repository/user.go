package repository

import (
	"context"
	"errors"
	"time"

	"skilllink/internal/domain"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a unique column would be duplicated.
	ErrAlreadyExists = errors.New("already exists")
)

// UserRepository defines persistence operations for User entities.
type UserRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, user *domain.User) error
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id string) (*domain.User, error)
	UpdateName(ctx context.Context, id, name string) error
	UpdateAvatar(ctx context.Context, id, url, publicID string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// PasswordResetRepository stores hashed single-use reset tokens.
type PasswordResetRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, reset *domain.PasswordReset) error
	Get(ctx context.Context, tokenHash string) (*domain.PasswordReset, error)
	// Consume marks an unused token used and stores the new password hash of
	// its user in one transaction. It returns ErrNotFound when the token is
	// unknown or was already consumed; on any error the token stays usable.
	Consume(ctx context.Context, tokenHash string, usedAt time.Time, passwordHash string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
