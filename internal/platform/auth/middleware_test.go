package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/ayushbridge/bridge/internal/platform/fhir"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, header string) (echo.Context, *httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	return c, rec, err
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, err error, want int) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != want {
		t.Fatalf("expected %d, got %d", want, rec.Code)
	}
	var outcome fhir.OperationOutcome
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if outcome.ResourceType != "OperationOutcome" || len(outcome.Issue) != 1 || outcome.Issue[0].Code != fhir.IssueTypeSecurity {
		t.Errorf("expected a security OperationOutcome, got %s", rec.Body.String())
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, rec, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "")
	assertStatus(t, rec, err, http.StatusUnauthorized)
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
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, rec, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), tt.header)
			assertStatus(t, rec, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	token := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops-1",
			Issuer:    "bridge",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: []string{RoleAdmin},
	}, testSigningKey)

	c, rec, err := runMiddleware(t, JWTMiddleware(JWTConfig{Issuer: "bridge", SigningKey: testSigningKey}), "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	ctx := c.Request().Context()
	if got := UserIDFromContext(ctx); got != "ops-1" {
		t.Errorf("expected subject ops-1, got %q", got)
	}
	if roles := RolesFromContext(ctx); len(roles) != 1 || roles[0] != RoleAdmin {
		t.Errorf("expected [admin], got %v", roles)
	}
}

func TestJWTMiddleware_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		key   []byte
		claim jwt.RegisteredClaims
	}{
		{"expired", testSigningKey, jwt.RegisteredClaims{Issuer: "bridge", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))}},
		{"wrong key", []byte("another-key"), jwt.RegisteredClaims{Issuer: "bridge"}},
		{"wrong issuer", testSigningKey, jwt.RegisteredClaims{Issuer: "elsewhere"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := createTestToken(t, Claims{RegisteredClaims: tt.claim, Roles: []string{RoleAdmin}}, tt.key)
			_, rec, err := runMiddleware(t, JWTMiddleware(JWTConfig{Issuer: "bridge", SigningKey: testSigningKey}), "Bearer "+token)
			assertStatus(t, rec, err, http.StatusUnauthorized)
		})
	}
}

func TestDevAuthMiddleware_NoToken(t *testing.T) {
	c, _, err := runMiddleware(t, DevAuthMiddleware(JWTConfig{SigningKey: testSigningKey}), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := c.Request().Context()
	if got := UserIDFromContext(ctx); got != "dev-user" {
		t.Errorf("expected dev-user, got %q", got)
	}
	if roles := RolesFromContext(ctx); len(roles) != 1 || roles[0] != RoleAdmin {
		t.Errorf("expected [admin], got %v", roles)
	}
}

func TestDevAuthMiddleware_ValidatesPresentToken(t *testing.T) {
	_, rec, err := runMiddleware(t, DevAuthMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer not-a-jwt")
	assertStatus(t, rec, err, http.StatusUnauthorized)
}
