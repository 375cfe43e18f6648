package signetapi

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// AdminClaims are the expected claims on an admin bearer token.
type AdminClaims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// AdminAuth validates bearer tokens against a single HMAC secret for
// the admin-only endpoints (e.g. reload-reserved). A nil AdminAuth
// fails closed: every protected request is rejected.
type AdminAuth struct {
	secret []byte
}

// NewAdminAuth builds an AdminAuth over secret. An empty secret yields
// a validator that rejects every token, which is the fail-closed
// default when no admin secret has been configured.
func NewAdminAuth(secret string) *AdminAuth {
	return &AdminAuth{secret: []byte(secret)}
}

func (a *AdminAuth) validate(tokenStr string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}

func (a *AdminAuth) hasAdminRole(claims *AdminClaims) bool {
	for _, r := range claims.Roles {
		if r == "admin" {
			return true
		}
	}
	return false
}

// Middleware enforces a valid, admin-scoped bearer token on next.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a == nil || len(a.secret) == 0 {
			writeUnauthorized(w, r, "admin authentication not configured")
			return
		}

		header := r.Header.Get("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeUnauthorized(w, r, "expected 'Bearer <token>' Authorization header")
			return
		}

		claims, err := a.validate(parts[1])
		if err != nil || !a.hasAdminRole(claims) {
			writeUnauthorized(w, r, "invalid or insufficiently privileged token")
			return
		}

		next.ServeHTTP(w, r)
	})
}
