package records

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("Record not found")
	ErrMissingRequired = errors.New("patient_name and raw_text are required")
	ErrNoFields        = errors.New("No fields provided")
)

// Repository stores records. Every read and write except Create is scoped to
// the owning user.
type Repository interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, owner, id uuid.UUID) (*Record, error)
	Update(ctx context.Context, owner, id uuid.UUID, ch Changes) (*Record, error)
	Delete(ctx context.Context, owner, id uuid.UUID) error
	List(ctx context.Context, owner uuid.UUID, q Query) (*Page, error)
	Stats(ctx context.Context, owner uuid.UUID) (*Stats, error)
}
