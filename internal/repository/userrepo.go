package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/cross-messenger/internal/model"
)

// UserRepository provides access to hub user records.
type UserRepository interface {
	// Create inserts a new user row; errs.ErrAlreadyExists if the email is taken.
	Create(ctx context.Context, u *model.User) error

	// GetByID selects a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)

	// GetByEmail selects a user by email.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
}
