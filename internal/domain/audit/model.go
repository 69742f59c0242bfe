package audit

import (
	"time"

	"github.com/google/uuid"
)

// Entry is one audit_logs row, joined with the acting user when it still
// exists.
type Entry struct {
	ID        int64      `json:"id"`
	UserID    *uuid.UUID `json:"user_id"`
	Action    string     `json:"action"`
	Details   *string    `json:"details"`
	CreatedAt time.Time  `json:"created_at"`
	Profiles  Profile    `json:"profiles"`
}

// Profile carries the acting user's display fields. Both are null for
// anonymous actions and deleted accounts.
type Profile struct {
	DoctorName *string `json:"doctor_name"`
	Username   *string `json:"username"`
}

// Query filters a listing. Zero values match everything.
type Query struct {
	Action string
	UserID *uuid.UUID
	Limit  int
}

type CreateRequest struct {
	UserID  *uuid.UUID `json:"user_id"`
	Action  string     `json:"action"`
	Details *string    `json:"details"`
}
