package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meddigitize/meddigitize/internal/platform/auth"
)

var (
	ErrMissingCredentials = errors.New("username and password required")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrReservedUsername   = errors.New("Cannot create built-in admin user")
	ErrProtectedAdmin     = errors.New("Cannot delete main admin account")
	ErrAdminImmutable     = errors.New("Cannot modify main admin account")
	ErrMissingPasswords   = errors.New("current_password and new_password required")
	ErrWrongPassword      = errors.New("current password incorrect")
	ErrMissingDoctor      = errors.New("username and name are required")
	ErrMissingDoctorPass  = errors.New("password is required for new doctor accounts")
)

// Audit actions written by this package.
const (
	ActionLogin  = "LOGIN"
	ActionLogout = "LOGOUT"
	ActionCreate = "CREATE"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
)

const adminDisplayName = "Administrator"

type AuditLogger interface {
	Log(ctx context.Context, userID *uuid.UUID, action, details string) error
}

// TxRunner runs fn in a transaction carried by the context it passes on.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

type Options struct {
	// AdminPassword is set on the built-in admin at bootstrap and reset.
	AdminPassword string
	// Revocations, when set, receives logged-out tokens and deleted users.
	Revocations *auth.RevocationList
	TokenTTL    time.Duration
	// WithTx defaults to running fn without a transaction.
	WithTx TxRunner
}

type Service struct {
	users   UserRepository
	doctors DoctorRepository
	audit   AuditLogger
	tokens  *auth.TokenIssuer
	opts    Options
	logger  zerolog.Logger
}

func NewService(users UserRepository, doctors DoctorRepository, audit AuditLogger, tokens *auth.TokenIssuer, opts Options, logger zerolog.Logger) *Service {
	if opts.WithTx == nil {
		opts.WithTx = func(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	return &Service{users: users, doctors: doctors, audit: audit, tokens: tokens, opts: opts, logger: logger}
}

// normalizeRole lowercases role and falls back to doctor for anything that
// is not a known role.
func normalizeRole(role string) string {
	r := auth.NormalizeRole(role)
	if !auth.ValidRole(r) {
		return auth.RoleDoctor
	}
	return r
}

// -- Accounts --

func (s *Service) Signup(ctx context.Context, req SignupRequest) (*User, error) {
	if req.Username == "" || req.Password == "" {
		return nil, ErrMissingCredentials
	}
	if req.Username == auth.BuiltinAdmin {
		return nil, ErrReservedUsername
	}
	if _, err := s.users.GetByUsername(ctx, req.Username); err == nil {
		return nil, ErrDuplicateUsername
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	u := &User{Username: req.Username, Name: req.Name, PasswordHash: hash, Role: normalizeRole(req.Role)}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Signin checks credentials and issues an access token. The built-in admin
// always signs in as admin, repairing its role if the row was edited.
func (s *Service) Signin(ctx context.Context, username, password string) (string, *User, error) {
	if username == "" || password == "" {
		return "", nil, ErrMissingCredentials
	}
	u, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		s.logger.Info().Str("username", username).Msg("signin failed: unknown user")
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}
	if !auth.CheckPassword(password, u.PasswordHash) {
		s.logger.Info().Str("username", username).Msg("signin failed: wrong password")
		return "", nil, ErrInvalidCredentials
	}

	if u.Username == auth.BuiltinAdmin && u.Role != auth.RoleAdmin {
		u.Role = auth.RoleAdmin
		if err := s.users.Update(ctx, u); err != nil {
			s.logger.Warn().Err(err).Msg("could not restore admin role")
		}
	}
	if u.Role == "" {
		u.Role = auth.RoleDoctor
	}

	token, err := s.tokens.Issue(u.ID, u.Username, u.Role)
	if err != nil {
		return "", nil, err
	}
	s.record(ctx, &u.ID, ActionLogin, fmt.Sprintf("User %s logged in", u.Username))
	return token, u, nil
}

func (s *Service) Me(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

// DeleteAccount removes the caller's user row and doctor profile and ends
// all of the caller's sessions.
func (s *Service) DeleteAccount(ctx context.Context, id uuid.UUID, username string) error {
	if username == auth.BuiltinAdmin {
		return ErrProtectedAdmin
	}
	err := s.opts.WithTx(ctx, func(ctx context.Context) error {
		if err := s.doctors.DeleteByUsername(ctx, username); err != nil {
			return fmt.Errorf("delete doctor profile: %w", err)
		}
		if err := s.users.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		return s.audit.Log(ctx, &id, ActionDelete, fmt.Sprintf("Deleted account: %s", username))
	})
	if err != nil {
		return err
	}
	s.revokeUser(id)
	return nil
}

// Logout revokes the presented token.
func (s *Service) Logout(ctx context.Context, claims *auth.Claims) {
	if claims == nil {
		return
	}
	if s.opts.Revocations != nil {
		s.opts.Revocations.Revoke(claims)
	}
	if id, err := uuid.Parse(claims.Subject); err == nil {
		s.record(ctx, &id, ActionLogout, fmt.Sprintf("User %s logged out", claims.Username))
	}
}

func (s *Service) ChangePassword(ctx context.Context, id uuid.UUID, req ChangePasswordRequest) error {
	if req.CurrentPassword == "" || req.NewPassword == "" {
		return ErrMissingPasswords
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !auth.CheckPassword(req.CurrentPassword, u.PasswordHash) {
		return ErrWrongPassword
	}
	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}
	if err := s.users.SetPassword(ctx, id, hash); err != nil {
		return err
	}
	s.record(ctx, &id, ActionUpdate, fmt.Sprintf("User %s changed password", u.Username))
	return nil
}

// EnsureAdmin creates the built-in admin when it does not exist yet.
func (s *Service) EnsureAdmin(ctx context.Context) (bool, error) {
	_, err := s.users.GetByUsername(ctx, auth.BuiltinAdmin)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return false, err
	}
	hash, err := auth.HashPassword(s.opts.AdminPassword)
	if err != nil {
		return false, err
	}
	u := &User{Username: auth.BuiltinAdmin, Name: adminDisplayName, PasswordHash: hash, Role: auth.RoleAdmin}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicateUsername) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ResetAdmin restores the built-in admin's password, role and name,
// creating the account if it is missing.
func (s *Service) ResetAdmin(ctx context.Context) error {
	u, err := s.users.GetByUsername(ctx, auth.BuiltinAdmin)
	if errors.Is(err, ErrUserNotFound) {
		_, err = s.EnsureAdmin(ctx)
		return err
	}
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(s.opts.AdminPassword)
	if err != nil {
		return err
	}
	return s.opts.WithTx(ctx, func(ctx context.Context) error {
		u.Role = auth.RoleAdmin
		u.Name = adminDisplayName
		if err := s.users.Update(ctx, u); err != nil {
			return err
		}
		return s.users.SetPassword(ctx, u.ID, hash)
	})
}

// -- Doctors --

func (s *Service) ListDoctors(ctx context.Context) ([]*DoctorListing, error) {
	return s.doctors.ListAccounts(ctx)
}

// CreateDoctor creates a sign-in account and its doctor profile together.
func (s *Service) CreateDoctor(ctx context.Context, actor *uuid.UUID, req DoctorRequest) (*Doctor, error) {
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || strings.TrimSpace(req.Name) == "" {
		return nil, ErrMissingDoctor
	}
	if req.Password == "" {
		return nil, ErrMissingDoctorPass
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	role := normalizeRole(req.Role)

	d := &Doctor{Username: req.Username, Name: req.Name, Specialization: req.Specialization, Role: role}
	err = s.opts.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.users.GetByUsername(ctx, req.Username); err == nil {
			return ErrDuplicateUsername
		} else if !errors.Is(err, ErrUserNotFound) {
			return err
		}
		u := &User{Username: req.Username, Name: req.Name, PasswordHash: hash, Role: role}
		if err := s.users.Create(ctx, u); err != nil {
			return err
		}
		if err := s.doctors.Create(ctx, d); err != nil {
			return err
		}
		return s.audit.Log(ctx, actor, ActionCreate, fmt.Sprintf("Created doctor account: %s", req.Username))
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// UpdateDoctor renames or re-roles the account with user id userID and its
// profile.
func (s *Service) UpdateDoctor(ctx context.Context, actor *uuid.UUID, userID uuid.UUID, req DoctorRequest) error {
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || strings.TrimSpace(req.Name) == "" {
		return ErrMissingDoctor
	}
	role := normalizeRole(req.Role)

	return s.opts.WithTx(ctx, func(ctx context.Context) error {
		u, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if u.Username == auth.BuiltinAdmin && (req.Username != auth.BuiltinAdmin || role != auth.RoleAdmin) {
			return ErrAdminImmutable
		}
		current := u.Username
		u.Username, u.Name, u.Role = req.Username, req.Name, role
		if err := s.users.Update(ctx, u); err != nil {
			return err
		}
		if err := s.doctors.UpdateByUsername(ctx, current, &Doctor{
			Username: req.Username, Name: req.Name, Specialization: req.Specialization, Role: role,
		}); err != nil {
			return err
		}
		specialty := ""
		if req.Specialization != nil {
			specialty = *req.Specialization
		}
		return s.audit.Log(ctx, actor, ActionUpdate,
			fmt.Sprintf("Updated doctor: %s -> %s; role=%s; specialization=%s", current, req.Username, role, specialty))
	})
}

// DeleteDoctor accepts either a doctor profile id or a user id and removes
// both the profile and the account.
func (s *Service) DeleteDoctor(ctx context.Context, actor *uuid.UUID, id uuid.UUID) error {
	var deleted *User
	err := s.opts.WithTx(ctx, func(ctx context.Context) error {
		username, err := s.resolveDoctorUsername(ctx, id)
		if err != nil {
			return err
		}
		if username == auth.BuiltinAdmin {
			return ErrProtectedAdmin
		}
		if err := s.doctors.DeleteByUsername(ctx, username); err != nil {
			return err
		}
		u, err := s.users.GetByUsername(ctx, username)
		switch {
		case err == nil:
			if err := s.users.Delete(ctx, u.ID); err != nil {
				return err
			}
			deleted = u
		case !errors.Is(err, ErrUserNotFound):
			return err
		}
		return s.audit.Log(ctx, actor, ActionDelete, fmt.Sprintf("Deleted doctor account and profile: %s", username))
	})
	if err != nil {
		return err
	}
	if deleted != nil {
		s.revokeUser(deleted.ID)
	}
	return nil
}

func (s *Service) resolveDoctorUsername(ctx context.Context, id uuid.UUID) (string, error) {
	d, err := s.doctors.GetByID(ctx, id)
	if err == nil {
		return d.Username, nil
	}
	if !errors.Is(err, ErrDoctorNotFound) {
		return "", err
	}
	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		return "", ErrDoctorNotFound
	}
	if err != nil {
		return "", err
	}
	return u.Username, nil
}

func (s *Service) revokeUser(id uuid.UUID) {
	if s.opts.Revocations != nil {
		s.opts.Revocations.RevokeUser(id.String(), s.opts.TokenTTL)
	}
}

// record writes a best-effort audit row outside any transaction.
func (s *Service) record(ctx context.Context, userID *uuid.UUID, action, details string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, userID, action, details); err != nil {
		s.logger.Warn().Err(err).Str("action", action).Msg("audit log write failed")
	}
}
