package repository

import (
	"context"

	"photovault/internal/domain"
)

// UserRepository defines persistence operations for User entities.
type UserRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, user *domain.User) error
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// PrefixRepository persists the storage prefix assigned to an identity so
// the prefix survives restarts and is never re-derived from a degraded
// auth response.
type PrefixRepository interface {
	Init(ctx context.Context) error
	Get(ctx context.Context, identityID string) (*domain.StoredPrefix, error)
	Save(ctx context.Context, stored *domain.StoredPrefix) error
	Delete(ctx context.Context, identityID string) error
}
