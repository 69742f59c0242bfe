package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/meddigitize/meddigitize/internal/domain/records"
	"github.com/meddigitize/meddigitize/internal/platform/auth"
	"github.com/meddigitize/meddigitize/internal/platform/blobstore"
	"github.com/meddigitize/meddigitize/internal/platform/ocr"
)

const sampleText = "Name: John Smith\n" +
	"Age: 45 years\n" +
	"Sex: M\n" +
	"BP: 120/80\n" +
	"Weight: 70 kg\n" +
	"Diagnosis: Acute bronchitis.\n" +
	"Rx: Amoxicillin 500mg TDS\n"

type stubRecognizer struct {
	result ocr.Result
	err    error
	calls  int
}

func (s *stubRecognizer) Recognize(_ context.Context, _ string, _ []byte) (ocr.Result, error) {
	s.calls++
	return s.result, s.err
}

type stubCreator struct {
	created []*records.Record
	err     error
}

func (s *stubCreator) CreateRecord(_ context.Context, rec *records.Record) error {
	if s.err != nil {
		return s.err
	}
	rec.ID = uuid.New()
	if rec.PatientID == nil {
		pid := "PID-1-1000"
		rec.PatientID = &pid
	}
	s.created = append(s.created, rec)
	return nil
}

func newTestService(text string, ocrErr error) (*Service, *stubRecognizer, *stubCreator, *blobstore.InMemoryBlobStore) {
	rec := &stubRecognizer{result: ocr.Result{Text: text, Confidence: 91.5, Engine: "stub", Pages: 1}, err: ocrErr}
	cr := &stubCreator{}
	store := blobstore.NewInMemoryBlobStore()
	return NewService(store, rec, cr, 1<<20, zerolog.Nop()), rec, cr, store
}

func TestBuildFields(t *testing.T) {
	f := BuildFields(sampleText)
	if f.PatientName != "John Smith" {
		t.Errorf("PatientName = %q", f.PatientName)
	}
	if f.Age == nil || *f.Age != 45 {
		t.Errorf("Age = %v, want 45", f.Age)
	}
	if f.Sex != "Male" {
		t.Errorf("Sex = %q", f.Sex)
	}
	if f.BloodPressure != "120/80" {
		t.Errorf("BloodPressure = %q", f.BloodPressure)
	}
	if f.Medications != "Amoxicillin 500mg TDS" {
		t.Errorf("Medications = %q", f.Medications)
	}
	if f.RawText != strings.TrimSpace(sampleText) {
		t.Errorf("RawText not preserved")
	}
}

func TestBuildFields_NameFallsBackToFirstLine(t *testing.T) {
	f := BuildFields("st. mary clinic\nsome notes")
	if f.PatientName != "st. mary clinic" {
		t.Errorf("PatientName = %q, want first line", f.PatientName)
	}
	if f.Age != nil {
		t.Errorf("Age should be nil, got %v", *f.Age)
	}
}

func TestLeadingNumber(t *testing.T) {
	if got := leadingNumber("69.85 kg"); got == nil || *got != 69.85 {
		t.Errorf("leadingNumber(69.85 kg) = %v", got)
	}
	if got := leadingNumber(""); got != nil {
		t.Errorf("expected nil for empty input, got %v", *got)
	}
	if got := leadingNumber("abc"); got != nil {
		t.Errorf("expected nil for non-numeric input, got %v", *got)
	}
}

func TestService_Upload(t *testing.T) {
	svc, _, cr, store := newTestService(sampleText, nil)
	owner := uuid.New()

	out, err := svc.Upload(context.Background(), &owner, "scan.png", strings.NewReader("png-bytes"))
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if len(cr.created) != 1 {
		t.Fatalf("expected one record, got %d", len(cr.created))
	}
	rec := cr.created[0]
	if rec.UserID == nil || *rec.UserID != owner {
		t.Error("record should belong to the uploader")
	}
	if rec.Weight == nil || *rec.Weight != 70 {
		t.Errorf("Weight = %v, want 70", rec.Weight)
	}
	if rec.ImageURL == nil || *rec.ImageURL != out.URL {
		t.Errorf("ImageURL = %v, want %s", rec.ImageURL, out.URL)
	}
	if out.Fields.PatientID != "PID-1-1000" {
		t.Errorf("PatientID = %q, want the assigned id", out.Fields.PatientID)
	}
	name := strings.TrimPrefix(out.URL, "/uploads/")
	if _, _, err := store.Open(context.Background(), name); err != nil {
		t.Errorf("blob should be stored: %v", err)
	}
}

func TestService_UploadRejectsBadFiles(t *testing.T) {
	svc, rec, _, _ := newTestService(sampleText, nil)
	svc.maxSize = 4

	tests := []struct {
		name, file, body string
		want             error
	}{
		{"no name", " ", "x", blobstore.ErrMissingFileName},
		{"bad extension", "notes.exe", "x", blobstore.ErrUnsupportedExtension},
		{"too large", "scan.png", "12345", blobstore.ErrFileTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Upload(context.Background(), nil, tt.file, strings.NewReader(tt.body))
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
	if rec.calls != 0 {
		t.Errorf("OCR should not run for rejected files, ran %d times", rec.calls)
	}
}

func TestService_UploadOCRFailure(t *testing.T) {
	svcErr := &ocr.ServiceError{Message: "engine down", Detail: map[string]any{"code": "E1"}}
	svc, _, cr, _ := newTestService("", svcErr)

	_, err := svc.Upload(context.Background(), nil, "scan.jpg", strings.NewReader("jpg"))
	var oe *OCRError
	if !errors.As(err, &oe) {
		t.Fatalf("expected OCRError, got %v", err)
	}
	if oe.Detail["code"] != "E1" {
		t.Errorf("Detail = %v", oe.Detail)
	}
	if oe.URL == "" {
		t.Error("failed OCR should still report where the file was stored")
	}
	if len(cr.created) != 0 {
		t.Error("no record should be created when OCR fails")
	}
}

func TestService_UploadMissingFields(t *testing.T) {
	svc, _, cr, _ := newTestService("   \n  ", nil)

	_, err := svc.Upload(context.Background(), nil, "scan.jpg", strings.NewReader("jpg"))
	if !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields, got %v", err)
	}
	if len(cr.created) != 0 {
		t.Error("no record should be created without a patient name")
	}
}

func multipartRequest(t *testing.T, target, file, body string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if file != "" {
		part, err := w.CreateFormFile(formField, file)
		if err != nil {
			t.Fatal(err)
		}
		part.Write([]byte(body))
	}
	w.Close()
	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func httpCode(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return 0
}

func TestHandler_UploadAnonymous(t *testing.T) {
	svc, _, cr, _ := newTestService(sampleText, nil)
	h := NewHandler(svc)
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(multipartRequest(t, "/api/upload", "scan.png", "data"), rec)
	if err := h.Upload(c); err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rec.Code)
	}
	var resp map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["success"] != true {
		t.Errorf("success = %v", resp["success"])
	}
	if cr.created[0].UserID != nil {
		t.Error("anonymous uploads have no owner")
	}
}

func TestHandler_UploadWithUser(t *testing.T) {
	svc, _, cr, _ := newTestService(sampleText, nil)
	h := NewHandler(svc)
	e := echo.New()

	uid := uuid.New()
	req := multipartRequest(t, "/api/upload", "scan.png", "data")
	req = req.WithContext(auth.ContextWithUser(req.Context(), uid, "dr.who", auth.RoleDoctor))
	c := e.NewContext(req, httptest.NewRecorder())
	if err := h.Upload(c); err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if got := cr.created[0].UserID; got == nil || *got != uid {
		t.Errorf("owner = %v, want %s", got, uid)
	}
}

func TestHandler_UploadNoFile(t *testing.T) {
	svc, _, _, _ := newTestService(sampleText, nil)
	h := NewHandler(svc)
	c := echo.New().NewContext(multipartRequest(t, "/api/upload", "", ""), httptest.NewRecorder())
	if code := httpCode(h.Upload(c)); code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
}

func TestHandler_UploadOCRFailureIsSoft(t *testing.T) {
	svc, _, _, _ := newTestService("", errors.New("tesseract missing"))
	h := NewHandler(svc)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(multipartRequest(t, "/api/upload", "scan.png", "data"), rec)
	if err := h.Upload(c); err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	var resp map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["success"] != false || resp["ocr_error"] != "tesseract missing" {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_UploadBadExtension(t *testing.T) {
	svc, _, _, _ := newTestService(sampleText, nil)
	h := NewHandler(svc)
	c := echo.New().NewContext(multipartRequest(t, "/api/upload", "virus.exe", "data"), httptest.NewRecorder())
	if code := httpCode(h.Upload(c)); code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
}

func TestHandler_ExtractText(t *testing.T) {
	svc, _, _, _ := newTestService(sampleText, nil)
	h := NewHandler(svc)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(multipartRequest(t, "/api/ocr/extract-text", "scan.png", "data"), rec)
	if err := h.ExtractText(c); err != nil {
		t.Fatalf("ExtractText() error: %v", err)
	}
	var resp map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["text"] != sampleText {
		t.Errorf("text = %v", resp["text"])
	}
}

func TestHandler_ExtractFieldsJSON(t *testing.T) {
	svc, rec, _, _ := newTestService("", nil)
	h := NewHandler(svc)

	body := `{"text":"Name: Jane Doe\nBP: 110/70"}`
	req := httptest.NewRequest(http.MethodPost, "/api/ocr/extract-fields", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	w := httptest.NewRecorder()
	c := echo.New().NewContext(req, w)
	if err := h.ExtractFields(c); err != nil {
		t.Fatalf("ExtractFields() error: %v", err)
	}
	var resp struct {
		Fields struct {
			PatientName string `json:"patientName"`
		} `json:"fields"`
		Vitals struct {
			BloodPressure string `json:"blood_pressure"`
		} `json:"vitals"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Fields.PatientName != "Jane Doe" || resp.Vitals.BloodPressure != "110/70" {
		t.Errorf("unexpected body %s", w.Body.String())
	}
	if rec.calls != 0 {
		t.Error("JSON input should not run OCR")
	}
}

func TestHandler_ExtractFieldsNoText(t *testing.T) {
	svc, _, _, _ := newTestService("", nil)
	h := NewHandler(svc)
	req := httptest.NewRequest(http.MethodPost, "/api/ocr/extract-fields", strings.NewReader(`{"text":"  "}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := echo.New().NewContext(req, httptest.NewRecorder())
	if code := httpCode(h.ExtractFields(c)); code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
}
