package auth

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/roadaid/backend/internal/models"
)

type ctxKey string

const ctxKeyIdentity ctxKey = "roadaid.identity"

// Identity is the resolved caller for a request. Anonymous callers get the
// sentinel identity rather than a rejection: the system favors capturing
// the report over strict auth.
type Identity struct {
	SubjectID string
	Email     string
	Name      string
	IsAdmin   bool
	Anonymous bool
}

func AnonymousIdentity() Identity {
	return Identity{
		SubjectID: models.AnonymousUserID,
		Email:     models.AnonymousUserEmail,
		Name:      models.AnonymousUserName,
		Anonymous: true,
	}
}

// FromContext returns the request Identity, defaulting to anonymous.
func FromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(ctxKeyIdentity).(Identity); ok {
		return id
	}
	return AnonymousIdentity()
}

// Verifier validates HS256 bearer tokens issued by the auth provider.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

type claims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	IsAdmin bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

func (v *Verifier) Verify(token string) (Identity, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, err
	}
	if !parsed.Valid || c.Subject == "" {
		return Identity{}, fmt.Errorf("invalid token claims")
	}
	return Identity{
		SubjectID: c.Subject,
		Email:     c.Email,
		Name:      c.Name,
		IsAdmin:   c.IsAdmin,
	}, nil
}

// Middleware resolves the request identity from the Authorization header.
// A missing or invalid token degrades to the anonymous identity; it never
// rejects the request by itself.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := AnonymousIdentity()
		if authz := r.Header.Get("Authorization"); authz != "" {
			if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				token := strings.TrimSpace(authz[7:])
				resolved, err := v.Verify(token)
				if err != nil {
					log.Printf("[auth] bearer token rejected, continuing anonymous: %v", err)
				} else {
					identity = resolved
				}
			}
		}
		ctx := context.WithValue(r.Context(), ctxKeyIdentity, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin guards admin-only routes.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !FromContext(r.Context()).IsAdmin {
			http.Error(w, `{"error":"admin access required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
