package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/roadaid/backend/internal/models"
)

func signed(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestVerify(t *testing.T) {
	v := NewVerifier("secret")
	token := signed(t, "secret", jwt.MapClaims{
		"sub":      "user-1",
		"email":    "user@example.com",
		"name":     "Test User",
		"is_admin": true,
		"exp":      time.Now().Add(time.Hour).Unix(),
	})
	id, err := v.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.SubjectID != "user-1" || !id.IsAdmin || id.Anonymous {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	v := NewVerifier("secret")
	cases := map[string]string{
		"wrong secret": signed(t, "other", jwt.MapClaims{"sub": "u", "exp": time.Now().Add(time.Hour).Unix()}),
		"expired":      signed(t, "secret", jwt.MapClaims{"sub": "u", "exp": time.Now().Add(-time.Hour).Unix()}),
		"no subject":   signed(t, "secret", jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}),
		"garbage":      "not.a.token",
	}
	for name, token := range cases {
		if _, err := v.Verify(token); err == nil {
			t.Fatalf("%s: verify should fail", name)
		}
	}
}

func identityEcho(v *Verifier) http.Handler {
	return v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := FromContext(r.Context())
		w.Header().Set("X-Subject", id.SubjectID)
		w.WriteHeader(http.StatusOK)
	}))
}

func TestMiddlewareResolvesIdentity(t *testing.T) {
	v := NewVerifier("secret")
	h := identityEcho(v)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed(t, "secret", jwt.MapClaims{
		"sub": "user-1", "exp": time.Now().Add(time.Hour).Unix(),
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Subject"); got != "user-1" {
		t.Fatalf("subject = %s, want user-1", got)
	}
}

func TestMiddlewareDegradesToAnonymous(t *testing.T) {
	v := NewVerifier("secret")
	h := identityEcho(v)

	for name, header := range map[string]string{
		"no header":     "",
		"invalid token": "Bearer garbage",
		"wrong scheme":  "Basic dXNlcjpwYXNz",
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: middleware must not reject, got %d", name, rec.Code)
		}
		if got := rec.Header().Get("X-Subject"); got != models.AnonymousUserID {
			t.Fatalf("%s: subject = %s, want anonymous", name, got)
		}
	}
}

func TestRequireAdmin(t *testing.T) {
	v := NewVerifier("secret")
	h := v.Middleware(RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("anonymous admin access = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed(t, "secret", jwt.MapClaims{
		"sub": "admin-1", "is_admin": true, "exp": time.Now().Add(time.Hour).Unix(),
	}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin access = %d, want 200", rec.Code)
	}
}
