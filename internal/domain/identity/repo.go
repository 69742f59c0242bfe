package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrDoctorNotFound    = errors.New("user/doctor not found")
	ErrDuplicateUsername = errors.New("user already exists")
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	// Update writes username, name and role.
	Update(ctx context.Context, u *User) error
	SetPassword(ctx context.Context, id uuid.UUID, hash string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	// ListAccounts returns doctor and admin users other than the built-in
	// admin, newest first.
	ListAccounts(ctx context.Context) ([]*DoctorListing, error)
	// UpdateByUsername rewrites the profile owned by username. A missing
	// profile is not an error.
	UpdateByUsername(ctx context.Context, username string, d *Doctor) error
	DeleteByUsername(ctx context.Context, username string) error
}
