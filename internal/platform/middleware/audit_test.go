package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/meddigitize/meddigitize/internal/platform/auth"
)

type mockRecorder struct {
	mu      sync.Mutex
	entries []AccessEntry
	err     error
}

func (m *mockRecorder) RecordAccess(entry AccessEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func newAuditContext(method, path string, userID uuid.UUID) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	if userID != uuid.Nil {
		req = req.WithContext(auth.ContextWithUser(context.Background(), userID, "dr", "doctor"))
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestAccessAudit_RecordRead(t *testing.T) {
	rec := &mockRecorder{}
	userID := uuid.New()
	recordID := uuid.New()
	c, _ := newAuditContext(http.MethodGet, "/api/medical-records/"+recordID.String(), userID)
	c.Set(RequestIDContextKey, "req-9")

	err := AccessAudit(zerolog.Nop(), rec)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("expected 1 entry, got %d", rec.count())
	}
	got := rec.entries[0]
	if got.Resource != "medical-records" || got.RecordID != recordID.String() {
		t.Errorf("unexpected resource/id: %s %s", got.Resource, got.RecordID)
	}
	if got.UserID != userID.String() || got.Role != "doctor" {
		t.Errorf("unexpected user: %s %s", got.UserID, got.Role)
	}
	if got.Action != "read" || got.StatusCode != http.StatusOK || got.RequestID != "req-9" {
		t.Errorf("unexpected entry: %+v", got)
	}
}

func TestAccessAudit_SeesUserAttachedDownstream(t *testing.T) {
	rec := &mockRecorder{}
	userID := uuid.New()
	c, _ := newAuditContext(http.MethodGet, "/api/medical-records/"+uuid.NewString(), uuid.Nil)

	// the JWT middleware runs inside the group, after the global audit hook
	attachUser := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.ContextWithUser(c.Request().Context(), userID, "dr", "doctor")
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
	h := AccessAudit(zerolog.Nop(), rec)(attachUser(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}))
	if err := h(c); err != nil {
		t.Fatal(err)
	}
	if got := rec.entries[0].UserID; got != userID.String() {
		t.Errorf("UserID = %q, want %s", got, userID)
	}
}

func TestAccessAudit_CapturesErrorStatus(t *testing.T) {
	rec := &mockRecorder{}
	c, _ := newAuditContext(http.MethodDelete, "/api/medical-records/"+uuid.NewString(), uuid.New())

	err := AccessAudit(zerolog.Nop(), rec)(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "Record not found")
	})(c)
	if err == nil {
		t.Fatal("expected handler error to propagate")
	}
	if rec.entries[0].StatusCode != http.StatusNotFound || rec.entries[0].Action != "delete" {
		t.Errorf("unexpected entry: %+v", rec.entries[0])
	}
}

func TestAccessAudit_SkipsUnauditedPaths(t *testing.T) {
	rec := &mockRecorder{}
	for _, path := range []string{"/api/health", "/api/db-health", "/api/auth/signin", "/uploads/a.png"} {
		c, _ := newAuditContext(http.MethodGet, path, uuid.Nil)
		AccessAudit(zerolog.Nop(), rec)(func(c echo.Context) error { return nil })(c)
	}
	if rec.count() != 0 {
		t.Errorf("expected no entries, got %d", rec.count())
	}
}

func TestAccessAudit_RecorderErrorDoesNotBreakRequest(t *testing.T) {
	rec := &mockRecorder{err: errors.New("db down")}
	c, httpRec := newAuditContext(http.MethodGet, "/api/medical-records", uuid.New())

	err := AccessAudit(zerolog.Nop(), rec)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if httpRec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", httpRec.Code)
	}
}

func TestAccessAudit_NilRecorderLogsOnly(t *testing.T) {
	c, _ := newAuditContext(http.MethodPost, "/api/upload", uuid.Nil)
	err := AccessAudit(zerolog.Nop(), nil)(func(c echo.Context) error {
		return c.NoContent(http.StatusCreated)
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSplitResourcePath(t *testing.T) {
	id := uuid.NewString()
	tests := []struct {
		path     string
		resource string
		id       string
	}{
		{"/api/medical-records", "medical-records", ""},
		{"/api/medical-records/" + id, "medical-records", id},
		{"/api/medical-records/stats", "medical-records", ""},
		{"/api/doctors/" + id + "/", "doctors", id},
		{"/api/", "unknown", ""},
	}
	for _, tt := range tests {
		resource, gotID := splitResourcePath(tt.path)
		if resource != tt.resource || gotID != tt.id {
			t.Errorf("splitResourcePath(%q) = (%q, %q), want (%q, %q)", tt.path, resource, gotID, tt.resource, tt.id)
		}
	}
}

func TestHttpMethodToAction(t *testing.T) {
	tests := map[string]string{
		http.MethodGet:    "read",
		http.MethodHead:   "read",
		http.MethodPost:   "create",
		http.MethodPut:    "update",
		http.MethodPatch:  "update",
		http.MethodDelete: "delete",
	}
	for method, want := range tests {
		if got := httpMethodToAction(method); got != want {
			t.Errorf("httpMethodToAction(%s) = %s, want %s", method, got, want)
		}
	}
}

func TestAccessRecorderFunc(t *testing.T) {
	var called bool
	var r AccessRecorder = AccessRecorderFunc(func(AccessEntry) error {
		called = true
		return nil
	})
	r.RecordAccess(AccessEntry{})
	if !called {
		t.Error("expected func to be called")
	}
}
