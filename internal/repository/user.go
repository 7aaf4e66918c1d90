package repository

import (
	"context"
	"errors"

	"user-service/internal/domain"
)

var (
	// ErrNotFound is returned when no user row matches the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrUniqueViolation is returned when a write would duplicate a username.
	ErrUniqueViolation = errors.New("username already exists")
)

// UserRepository defines persistence operations for User entities.
type UserRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, user *domain.User) (int64, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	Update(ctx context.Context, user *domain.User) error
	Delete(ctx context.Context, id int64) error
	Ping(ctx context.Context) error
}
