package audit

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meddigitize/meddigitize/internal/platform/middleware"
)

// ActionRecordViewed is written when a caller opens a single record.
const ActionRecordViewed = "record_viewed"

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Log writes one audit row. It satisfies the AuditLogger interfaces of the
// records and identity services.
func (s *Service) Log(ctx context.Context, userID *uuid.UUID, action, details string) error {
	e := &Entry{UserID: userID, Action: action}
	if details != "" {
		e.Details = &details
	}
	return s.repo.Insert(ctx, e)
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*Entry, error) {
	req.Action = strings.TrimSpace(req.Action)
	if req.Action == "" {
		return nil, ErrMissingAction
	}
	e := &Entry{UserID: req.UserID, Action: req.Action, Details: req.Details}
	if err := s.repo.Insert(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// List clamps the limit to MaxList.
func (s *Service) List(ctx context.Context, q Query) ([]*Entry, error) {
	if q.Limit <= 0 || q.Limit > MaxList {
		q.Limit = MaxList
	}
	return s.repo.List(ctx, q)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

// RecordAccess turns successful single-record reads seen by the access
// audit middleware into record_viewed rows. Other requests are only logged.
func (s *Service) RecordAccess(entry middleware.AccessEntry) error {
	if entry.Resource != "medical-records" || entry.RecordID == "" ||
		entry.Action != "read" || entry.StatusCode != http.StatusOK {
		return nil
	}
	var userID *uuid.UUID
	if id, err := uuid.Parse(entry.UserID); err == nil {
		userID = &id
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Log(ctx, userID, ActionRecordViewed,
		fmt.Sprintf("Viewed medical record %s from %s", entry.RecordID, entry.IPAddress))
}

var exportHeader = []string{"ID", "Created At", "User ID", "Username", "Name", "Action", "Details"}

// ExportCSV writes the entries matching q as CSV.
func (s *Service) ExportCSV(ctx context.Context, q Query, w io.Writer) error {
	entries, err := s.List(ctx, q)
	if err != nil {
		return fmt.Errorf("audit export csv: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return fmt.Errorf("audit export csv: write header: %w", err)
	}
	for _, e := range entries {
		userID := ""
		if e.UserID != nil {
			userID = e.UserID.String()
		}
		row := []string{
			strconv.FormatInt(e.ID, 10),
			e.CreatedAt.UTC().Format(time.RFC3339),
			userID,
			deref(e.Profiles.Username),
			deref(e.Profiles.DoctorName),
			e.Action,
			deref(e.Details),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("audit export csv: write record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
