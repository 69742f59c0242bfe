package identity

import (
	"time"

	"github.com/google/uuid"
)

// User is a sign-in account.
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Doctor is the profile row created alongside a doctor's user account. The
// two are linked by username.
type Doctor struct {
	ID             uuid.UUID `json:"id"`
	Username       string    `json:"username"`
	Name           string    `json:"doctor_name"`
	Specialization *string   `json:"specialization"`
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
}

// DoctorListing is a doctor or admin account joined with its profile, if it
// has one. ID is the user id.
type DoctorListing struct {
	ID             uuid.UUID `json:"id"`
	Username       string    `json:"username"`
	DoctorName     string    `json:"doctor_name"`
	Role           string    `json:"role"`
	Specialization *string   `json:"specialization"`
	CreatedAt      time.Time `json:"created_at"`
}

type SignupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Name     string `json:"name"`
}

type SigninRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type DoctorRequest struct {
	Username       string  `json:"username"`
	Name           string  `json:"name"`
	Specialization *string `json:"specialization"`
	Password       string  `json:"password"`
	Role           string  `json:"role"`
}

// userView is the public shape of a user in auth responses.
type userView struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Name     string    `json:"name"`
	Role     string    `json:"role"`
}

func viewOf(u *User) userView {
	return userView{ID: u.ID, Username: u.Username, Name: u.Name, Role: u.Role}
}
