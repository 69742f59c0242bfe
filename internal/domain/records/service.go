package records

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meddigitize/meddigitize/internal/platform/dedupe"
)

// AuditLogger writes rows to the audit trail.
type AuditLogger interface {
	Log(ctx context.Context, userID *uuid.UUID, action, details string) error
}

const (
	ActionRecordCreated = "record_created"
	ActionRecordUpdated = "record_updated"
	ActionRecordDeleted = "record_deleted"
)

type Service struct {
	repo   Repository
	audit  AuditLogger
	reads  *dedupe.Group
	logger zerolog.Logger
	now    func() time.Time
	intn   func(n int) int
}

// NewService wires the record service. reads may be nil to disable read
// de-duplication.
func NewService(repo Repository, audit AuditLogger, reads *dedupe.Group, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		audit:  audit,
		reads:  reads,
		logger: logger,
		now:    time.Now,
		intn:   rand.Intn,
	}
}

// Create validates a request body and stores a record owned by owner.
func (s *Service) Create(ctx context.Context, owner *uuid.UUID, body map[string]any) (*Record, error) {
	rec := recordFromChanges(ChangesFrom(body))
	rec.UserID = owner
	if err := s.CreateRecord(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// CreateRecord stores a prepared record. Uploads and the legacy import enter
// here directly.
func (s *Service) CreateRecord(ctx context.Context, rec *Record) error {
	rec.PatientName = strings.TrimSpace(rec.PatientName)
	if rec.PatientName == "" || strings.TrimSpace(rec.RawText) == "" {
		return ErrMissingRequired
	}
	if rec.PatientID == nil || strings.TrimSpace(*rec.PatientID) == "" {
		pid := s.newPatientID()
		rec.PatientID = &pid
	}

	if err := s.repo.Create(ctx, rec); err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	s.invalidate(rec.UserID)
	s.record(ctx, rec.UserID, ActionRecordCreated,
		fmt.Sprintf("Created medical record %s for patient %s", rec.ID, rec.PatientName))
	return nil
}

// newPatientID yields PID-<unix seconds>-<4 random digits>.
func (s *Service) newPatientID() string {
	return fmt.Sprintf("PID-%d-%d", s.now().Unix(), 1000+s.intn(9000))
}

func (s *Service) Get(ctx context.Context, owner, id uuid.UUID) (*Record, error) {
	return s.repo.GetByID(ctx, owner, id)
}

// Update applies the writable keys present in body.
func (s *Service) Update(ctx context.Context, owner, id uuid.UUID, body map[string]any) (*Record, error) {
	ch := ChangesFrom(body)
	if len(ch) == 0 {
		return nil, ErrNoFields
	}
	if v, ok := ch["patient_name"]; ok && v == "" {
		return nil, ErrMissingRequired
	}
	if v, ok := ch["raw_text"]; ok && v == "" {
		return nil, ErrMissingRequired
	}

	rec, err := s.repo.Update(ctx, owner, id, ch)
	if err != nil {
		return nil, err
	}
	s.invalidate(&owner)
	s.record(ctx, &owner, ActionRecordUpdated,
		fmt.Sprintf("Updated medical record %s (%s)", id, strings.Join(ch.Columns(), ", ")))
	return rec, nil
}

func (s *Service) Delete(ctx context.Context, owner, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, owner, id); err != nil {
		return err
	}
	s.invalidate(&owner)
	s.record(ctx, &owner, ActionRecordDeleted, fmt.Sprintf("Deleted medical record %s", id))
	return nil
}

// List returns a page of the owner's records, newest first. Identical
// requests within the de-duplication window share one query.
func (s *Service) List(ctx context.Context, owner uuid.UUID, q Query) (*Page, error) {
	key := fmt.Sprintf("list|%d|%d|%s", q.Limit, q.Offset, strings.TrimSpace(q.Search))
	v, err := s.read(ctx, owner, key, func(ctx context.Context) (any, error) {
		return s.repo.List(ctx, owner, q)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Page), nil
}

func (s *Service) Stats(ctx context.Context, owner uuid.UUID) (*Stats, error) {
	v, err := s.read(ctx, owner, "stats", func(ctx context.Context) (any, error) {
		return s.repo.Stats(ctx, owner)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Stats), nil
}

func (s *Service) read(ctx context.Context, owner uuid.UUID, key string, load func(context.Context) (any, error)) (any, error) {
	if s.reads == nil {
		return load(ctx)
	}
	return s.reads.Do(ctx, owner.String(), key, load)
}

func (s *Service) invalidate(owner *uuid.UUID) {
	if s.reads != nil && owner != nil {
		s.reads.Invalidate(owner.String())
	}
}

// record writes an audit row. Audit failures never fail the request.
func (s *Service) record(ctx context.Context, userID *uuid.UUID, action, details string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, userID, action, details); err != nil {
		s.logger.Warn().Err(err).Str("action", action).Msg("audit log write failed")
	}
}
