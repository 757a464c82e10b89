package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
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

func validClaims() Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "nurse-1",
			Issuer:    "emcare",
			Audience:  jwt.ClaimStrings{"forms"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		FacilityID: "facility-7",
		Roles:      []string{"clinician"},
	}
}

func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, header string) (echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/forms/7/$prepare", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	var seen echo.Context
	err := mw(func(c echo.Context) error {
		seen = c
		return c.String(http.StatusOK, "ok")
	})(c)
	return seen, err
}

func expectUnauthorized(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "")
	expectUnauthorized(t, err)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	for _, header := range []string{"Token abc123", "Bearer", "Bearer ", "Basic dXNlcjpwYXNz"} {
		t.Run(header, func(t *testing.T) {
			_, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), header)
			expectUnauthorized(t, err)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey, Issuer: "emcare", Audience: "forms"}
	token := createTestToken(t, validClaims(), testSigningKey)

	c, err := runMiddleware(t, JWTMiddleware(cfg), "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := c.Request().Context()
	if UserIDFromContext(ctx) != "nurse-1" {
		t.Errorf("user = %q", UserIDFromContext(ctx))
	}
	if FacilityFromContext(ctx) != "facility-7" {
		t.Errorf("facility = %q", FacilityFromContext(ctx))
	}
	if roles := RolesFromContext(ctx); len(roles) != 1 || roles[0] != "clinician" {
		t.Errorf("roles = %v", roles)
	}
}

func TestJWTMiddleware_Rejects(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "someone-else"

	tests := []struct {
		name  string
		token string
	}{
		{"wrong key", createTestToken(t, validClaims(), []byte("other-key"))},
		{"expired", createTestToken(t, expired, testSigningKey)},
		{"wrong issuer", createTestToken(t, wrongIssuer, testSigningKey)},
		{"garbage", "not.a.token"},
	}
	cfg := JWTConfig{SigningKey: testSigningKey, Issuer: "emcare", Audience: "forms"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runMiddleware(t, JWTMiddleware(cfg), "Bearer "+tt.token)
			expectUnauthorized(t, err)
		})
	}
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey, Skipper: func(echo.Context) bool { return true }}
	if _, err := runMiddleware(t, JWTMiddleware(cfg), ""); err != nil {
		t.Fatalf("skipped request should pass, got %v", err)
	}
}

func TestDevAuthMiddleware_SetsDefaults(t *testing.T) {
	c, err := runMiddleware(t, DevAuthMiddleware(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if UserIDFromContext(c.Request().Context()) != "dev-user" {
		t.Errorf("user = %q", UserIDFromContext(c.Request().Context()))
	}
}

func TestContextHelpers_Empty(t *testing.T) {
	ctx := context.Background()
	if UserIDFromContext(ctx) != "" || RolesFromContext(ctx) != nil || FacilityFromContext(ctx) != "" {
		t.Error("expected zero values from empty context")
	}
}

func TestIsPublicPath(t *testing.T) {
	if !IsPublicPath("/health") {
		t.Error("/health should be public")
	}
	if IsPublicPath("/api/v1/forms/:topic/$extract") {
		t.Error("extract should require auth")
	}
}
