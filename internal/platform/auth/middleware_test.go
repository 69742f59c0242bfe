package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := NewTokenIssuer(testSigningKey, time.Hour)
	id := uuid.New()

	tok, err := issuer.Issue(id, "dr.who", " Doctor ")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	claims, err := issuer.Parse(tok)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if claims.Subject != id.String() {
		t.Errorf("expected sub %s, got %s", id, claims.Subject)
	}
	if claims.Username != "dr.who" {
		t.Errorf("expected username dr.who, got %s", claims.Username)
	}
	if claims.Role != "doctor" {
		t.Errorf("expected normalized role doctor, got %q", claims.Role)
	}
}

func TestTokenIssuer_Expired(t *testing.T) {
	issuer := NewTokenIssuer(testSigningKey, time.Minute)
	issuer.now = func() time.Time { return time.Now().Add(-time.Hour) }
	tok, err := issuer.Issue(uuid.New(), "u", "doctor")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	issuer.now = time.Now
	if _, err := issuer.Parse(tok); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestTokenIssuer_WrongKey(t *testing.T) {
	tok, _ := NewTokenIssuer([]byte("other-key"), time.Hour).Issue(uuid.New(), "u", "doctor")
	if _, err := NewTokenIssuer(testSigningKey, time.Hour).Parse(tok); err == nil {
		t.Fatal("expected token signed with another key to be rejected")
	}
}

func TestTokenIssuer_RejectsNonUUIDSubject(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: "doctor",
	}
	tok, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSigningKey)
	if _, err := NewTokenIssuer(testSigningKey, time.Hour).Parse(tok); err == nil {
		t.Fatal("expected numeric subject to be rejected")
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := JWTMiddleware(NewTokenIssuer(testSigningKey, time.Hour))(okHandler)(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", httpErr.Code)
	}
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"garbage token", "Bearer not.a.jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", tt.header)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := JWTMiddleware(NewTokenIssuer(testSigningKey, time.Hour))(okHandler)(c)
			httpErr, ok := err.(*echo.HTTPError)
			if !ok || httpErr.Code != http.StatusUnauthorized {
				t.Errorf("expected 401 HTTPError, got %v", err)
			}
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	issuer := NewTokenIssuer(testSigningKey, time.Hour)
	id := uuid.New()
	tok, _ := issuer.Issue(id, "alice", "ADMIN")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var gotID uuid.UUID
	var gotName, gotRole string
	h := JWTMiddleware(issuer)(func(c echo.Context) error {
		ctx := c.Request().Context()
		gotID, _ = UserUUIDFromContext(ctx)
		gotName = UsernameFromContext(ctx)
		gotRole = RoleFromContext(ctx)
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotID != id || gotName != "alice" || gotRole != "admin" {
		t.Errorf("unexpected identity: %s %s %s", gotID, gotName, gotRole)
	}
}

func TestOptionalJWTMiddleware(t *testing.T) {
	issuer := NewTokenIssuer(testSigningKey, time.Hour)
	tok, _ := issuer.Issue(uuid.New(), "bob", "doctor")

	tests := []struct {
		name      string
		header    string
		wantAuthn bool
	}{
		{"anonymous", "", false},
		{"bad token", "Bearer junk", false},
		{"valid token", "Bearer " + tok, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/api/upload", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			var authn bool
			h := OptionalJWTMiddleware(issuer)(func(c echo.Context) error {
				_, authn = UserUUIDFromContext(c.Request().Context())
				return c.NoContent(http.StatusOK)
			})
			if err := h(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if authn != tt.wantAuthn {
				t.Errorf("expected authenticated=%v, got %v", tt.wantAuthn, authn)
			}
		})
	}
}
