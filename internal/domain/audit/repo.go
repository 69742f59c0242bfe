package audit

import (
	"context"
	"errors"
)

// MaxList bounds a single listing.
const MaxList = 500

var ErrMissingAction = errors.New("action is required")

type Repository interface {
	Insert(ctx context.Context, e *Entry) error
	// List returns entries newest first.
	List(ctx context.Context, q Query) ([]*Entry, error)
	Delete(ctx context.Context, id int64) error
}
