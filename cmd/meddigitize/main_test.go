package main

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/meddigitize/meddigitize/internal/config"
	"github.com/meddigitize/meddigitize/internal/platform/auth"
	"github.com/meddigitize/meddigitize/internal/platform/blobstore"
	"github.com/meddigitize/meddigitize/internal/platform/ocr"
)

type stubRecognizer struct{}

func (stubRecognizer) Recognize(context.Context, string, []byte) (ocr.Result, error) {
	return ocr.Result{Text: "Name: Test Patient", Engine: "stub"}, nil
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func testConfig() *config.Config {
	return &config.Config{
		Env:              "test",
		JWTSecret:        "test-secret",
		JWTExpSeconds:    3600,
		AllowedOrigins:   []string{"*"},
		MaxContentLength: "1M",
		AdminPassword:    "pw",
		LocalResetSecret: "reset",
	}
}

func newTestRouter(t *testing.T, pinger stubPinger) (*echo.Echo, *services) {
	t.Helper()
	cfg := testConfig()
	svc := newServices(cfg, repositories{}, blobstore.NewInMemoryBlobStore(), stubRecognizer{}, zerolog.Nop())
	return newRouter(cfg, zerolog.Nop(), svc, pinger), svc
}

func serve(e *echo.Echo, method, target, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRootCmd_Subcommands(t *testing.T) {
	want := map[string]bool{"serve": false, "migrate": false, "import-legacy": false, "extract": false, "reset-admin": false}
	for _, c := range rootCmd().Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestMigrationsFS_Embedded(t *testing.T) {
	names, err := fs.Glob(migrationsFS(""), "*.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) == 0 || names[0] != "001_init.sql" {
		t.Errorf("embedded migrations = %v", names)
	}
}

func TestRateLimitConfig(t *testing.T) {
	cfg := testConfig()
	if rl := rateLimitConfig(cfg); rl.RequestsPerSecond != 50 || rl.BurstSize != 100 {
		t.Errorf("expected defaults, got %+v", rl)
	}
	cfg.RateLimitRPS, cfg.RateLimitBurst = 5, 10
	if rl := rateLimitConfig(cfg); rl.RequestsPerSecond != 5 || rl.BurstSize != 10 {
		t.Errorf("expected overrides, got %+v", rl)
	}
}

func TestNewOCREngine_Remote(t *testing.T) {
	cfg := testConfig()
	cfg.OCRServiceURL = "http://ocr.local"
	if got := newOCREngine(cfg).Name(); got != "remote" {
		t.Errorf("engine = %q, want remote", got)
	}
}

func TestRouter_Health(t *testing.T) {
	e, _ := newTestRouter(t, stubPinger{})
	rec := serve(e, http.MethodGet, "/api/health", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("health = %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers on every response")
	}
}

func TestRouter_DBHealthDown(t *testing.T) {
	e, _ := newTestRouter(t, stubPinger{err: errors.New("connection refused")})
	rec := serve(e, http.MethodGet, "/api/db-health", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("db-health = %d, want 503", rec.Code)
	}
}

func TestRouter_RecordsRequireToken(t *testing.T) {
	e, _ := newTestRouter(t, stubPinger{})
	rec := serve(e, http.MethodGet, "/api/medical-records", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
		t.Errorf("expected {error} body, got %s", rec.Body.String())
	}
}

func TestRouter_AuditLogsRequireAdmin(t *testing.T) {
	e, svc := newTestRouter(t, stubPinger{})
	tok, err := svc.issuer.Issue(uuid.New(), "dr.who", auth.RoleDoctor)
	if err != nil {
		t.Fatal(err)
	}
	rec := serve(e, http.MethodGet, "/api/audit-logs", "", tok)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestRouter_SignupReservedName(t *testing.T) {
	e, _ := newTestRouter(t, stubPinger{})
	rec := serve(e, http.MethodPost, "/api/auth/signup", `{"username":"admin","password":"x"}`, "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestRouter_MissingUpload(t *testing.T) {
	e, _ := newTestRouter(t, stubPinger{})
	rec := serve(e, http.MethodGet, "/uploads/missing.png", "", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestRouter_ExtractFieldsNeedsToken(t *testing.T) {
	e, svc := newTestRouter(t, stubPinger{})
	body := `{"text":"Name: Jane Doe"}`
	if rec := serve(e, http.MethodPost, "/api/ocr/extract-fields", body, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", rec.Code)
	}
	tok, _ := svc.issuer.Issue(uuid.New(), "dr.who", auth.RoleDoctor)
	rec := serve(e, http.MethodPost, "/api/ocr/extract-fields", body, tok)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Jane Doe") {
		t.Errorf("status = %d body %s", rec.Code, rec.Body.String())
	}
}

func TestRouter_RevokedTokenRejected(t *testing.T) {
	e, svc := newTestRouter(t, stubPinger{})
	tok, _ := svc.issuer.Issue(uuid.New(), "dr.who", auth.RoleDoctor)
	claims, err := svc.issuer.Parse(tok)
	if err != nil {
		t.Fatal(err)
	}
	svc.revocations.Revoke(claims)
	body := `{"text":"Name: Jane Doe"}`
	if rec := serve(e, http.MethodPost, "/api/ocr/extract-fields", body, tok); rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for a revoked token", rec.Code)
	}
}
