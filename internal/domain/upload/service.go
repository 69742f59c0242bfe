// Package upload runs scanned records through storage, OCR and field
// extraction, and stores the result as a medical record.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meddigitize/meddigitize/internal/domain/records"
	"github.com/meddigitize/meddigitize/internal/extraction"
	"github.com/meddigitize/meddigitize/internal/platform/blobstore"
	"github.com/meddigitize/meddigitize/internal/platform/ocr"
)

var ErrMissingFields = errors.New("Missing required OCR fields")

// maxNameRunes matches the patient_name column.
const maxNameRunes = 255

type Recognizer interface {
	Recognize(ctx context.Context, name string, data []byte) (ocr.Result, error)
}

type RecordCreator interface {
	CreateRecord(ctx context.Context, rec *records.Record) error
}

// OCRError wraps a recognition failure. The upload itself succeeded, so
// callers report it as an unsuccessful result rather than a server error.
type OCRError struct {
	Err    error
	Detail map[string]any
	URL    string
}

func (e *OCRError) Error() string { return e.Err.Error() }
func (e *OCRError) Unwrap() error { return e.Err }

// MissingFieldsError reports what was extracted when the scan lacked a
// patient name or any text.
type MissingFieldsError struct {
	Fields Fields
}

func (e *MissingFieldsError) Error() string { return ErrMissingFields.Error() }
func (e *MissingFieldsError) Unwrap() error { return ErrMissingFields }

// Fields is what an upload extracted, in the shape the web client edits.
type Fields struct {
	PatientName   string `json:"patient_name"`
	PatientID     string `json:"patient_id"`
	RawText       string `json:"raw_text"`
	Diagnosis     string `json:"diagnosis"`
	Medications   string `json:"medications"`
	Age           *int   `json:"age"`
	Sex           string `json:"sex"`
	BloodPressure string `json:"blood_pressure"`
	Weight        string `json:"weight"`
	Height        string `json:"height"`
	Temperature   string `json:"temperature"`
	Date          string `json:"date"`
}

type Outcome struct {
	RecordID   uuid.UUID               `json:"record_id"`
	Fields     Fields                  `json:"fields"`
	Confidence float64                 `json:"confidence"`
	Engine     string                  `json:"engine"`
	URL        string                  `json:"url"`
	Blob       *blobstore.BlobMetadata `json:"-"`
}

type Service struct {
	store   blobstore.BlobStore
	ocr     Recognizer
	records RecordCreator
	maxSize int64
	logger  zerolog.Logger
}

func NewService(store blobstore.BlobStore, recognizer Recognizer, creator RecordCreator, maxSize int64, logger zerolog.Logger) *Service {
	if maxSize <= 0 {
		maxSize = blobstore.DefaultMaxFileSize
	}
	return &Service{store: store, ocr: recognizer, records: creator, maxSize: maxSize, logger: logger}
}

// ReadFile checks the name and reads at most the size limit.
func (s *Service) ReadFile(fileName string, r io.Reader) ([]byte, error) {
	if strings.TrimSpace(fileName) == "" {
		return nil, blobstore.ErrMissingFileName
	}
	if !blobstore.Allowed(fileName) {
		return nil, blobstore.ErrUnsupportedExtension
	}
	data, err := io.ReadAll(io.LimitReader(r, s.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.maxSize {
		return nil, blobstore.ErrFileTooLarge
	}
	return data, nil
}

// Upload stores the file, recognizes it and creates a record owned by owner,
// which is nil for anonymous uploads.
func (s *Service) Upload(ctx context.Context, owner *uuid.UUID, fileName string, r io.Reader) (*Outcome, error) {
	data, err := s.ReadFile(fileName, r)
	if err != nil {
		return nil, err
	}

	meta, err := s.store.Put(ctx, blobstore.BlobMetadata{OriginalName: fileName, CreatedBy: ownerString(owner)}, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	res, err := s.ocr.Recognize(ctx, fileName, data)
	if err != nil {
		s.logger.Warn().Err(err).Str("file", meta.Name).Msg("ocr failed")
		oe := &OCRError{Err: err, URL: meta.URL()}
		var se *ocr.ServiceError
		if errors.As(err, &se) {
			oe.Detail = se.Detail
		}
		return nil, oe
	}

	fields := BuildFields(res.Text)
	if fields.PatientName == "" || strings.TrimSpace(fields.RawText) == "" {
		return nil, &MissingFieldsError{Fields: fields}
	}

	rec := recordFrom(fields)
	rec.UserID = owner
	url := meta.URL()
	rec.ImageURL = &url
	if err := s.records.CreateRecord(ctx, rec); err != nil {
		return nil, err
	}
	if rec.PatientID != nil {
		fields.PatientID = *rec.PatientID
	}

	s.logger.Info().
		Str("record_id", rec.ID.String()).
		Str("file", meta.Name).
		Str("engine", res.Engine).
		Float64("confidence", res.Confidence).
		Msg("upload digitized")

	return &Outcome{
		RecordID:   rec.ID,
		Fields:     fields,
		Confidence: res.Confidence,
		Engine:     res.Engine,
		URL:        url,
		Blob:       meta,
	}, nil
}

// ExtractText runs OCR only.
func (s *Service) ExtractText(ctx context.Context, fileName string, r io.Reader) (ocr.Result, error) {
	data, err := s.ReadFile(fileName, r)
	if err != nil {
		return ocr.Result{}, err
	}
	return s.ocr.Recognize(ctx, fileName, data)
}

// BuildFields merges the primary fields and the vitals read from text. The
// patient name falls back to the first line of text.
func BuildFields(text string) Fields {
	f := extraction.ExtractFields(text)
	v := extraction.ExtractVitals(text)

	name := f.PatientName
	if name == "" {
		if lines := extraction.Lines(text); len(lines) > 0 {
			name = lines[0]
		}
	}
	if r := []rune(name); len(r) > maxNameRunes {
		name = string(r[:maxNameRunes])
	}

	meds := v.Medications
	if meds == "" {
		meds = f.Prescription
	}

	out := Fields{
		PatientName:   strings.TrimSpace(name),
		PatientID:     v.PatientID,
		RawText:       strings.TrimSpace(text),
		Diagnosis:     f.Diagnosis,
		Medications:   meds,
		Sex:           f.Gender,
		BloodPressure: v.BloodPressure,
		Weight:        v.Weight,
		Height:        v.Height,
		Temperature:   v.Temperature,
		Date:          f.Date,
	}
	if n, err := strconv.Atoi(f.Age); err == nil {
		out.Age = &n
	}
	return out
}

func recordFrom(f Fields) *records.Record {
	return &records.Record{
		PatientName:   f.PatientName,
		RawText:       f.RawText,
		PatientID:     optional(f.PatientID),
		Diagnosis:     optional(f.Diagnosis),
		Medications:   optional(f.Medications),
		Age:           f.Age,
		Sex:           optional(f.Sex),
		BloodPressure: optional(f.BloodPressure),
		Weight:        leadingNumber(f.Weight),
		Height:        leadingNumber(f.Height),
		Temperature:   leadingNumber(f.Temperature),
		RecordDate:    optional(f.Date),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// leadingNumber parses "69.85 kg" as 69.85.
func leadingNumber(s string) *float64 {
	num, _, _ := strings.Cut(strings.TrimSpace(s), " ")
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return nil
	}
	return &f
}

func ownerString(owner *uuid.UUID) string {
	if owner == nil {
		return ""
	}
	return owner.String()
}
