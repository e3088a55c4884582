package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the bearer token payload. Issuance is out of scope for this
// service; only HS256 verification against the configured shared secret
// happens here. Different issuers name the subject differently, so ID and
// UserID are accepted as aliases for Subject.
type Claims struct {
	jwt.RegisteredClaims
	ID     string `json:"id,omitempty"`
	UserID string `json:"userId,omitempty"`
	Email  string `json:"email,omitempty"`
	OrgID  string `json:"orgId,omitempty"`
}

// Identity returns the caller's user id, preferring sub, then id, then
// userId.
func (c Claims) Identity() string {
	switch {
	case c.Subject != "":
		return c.Subject
	case c.ID != "":
		return c.ID
	default:
		return c.UserID
	}
}

type claimsCtxKey struct{}

// ClaimsFromContext returns the verified caller claims stashed by
// authMiddleware, if any.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsCtxKey{}).(Claims)
	return c, ok
}

// authMiddleware rejects requests missing a valid bearer token with 401 and
// stashes the verified claims in the request context for handlers.
func authMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			claims := &Claims{}
			parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrTokenSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !parsed.Valid {
				writeError(w, http.StatusUnauthorized, "invalid bearer token")
				return
			}
			if claims.Identity() == "" {
				writeError(w, http.StatusUnauthorized, "token carries no subject")
				return
			}

			ctx := context.WithValue(r.Context(), claimsCtxKey{}, *claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireOrgMatch returns 403 unless the caller's org matches orgID, or the
// resource has no org (pre-multitenancy rows, or the caller owns it
// directly).
func requireOrgMatch(w http.ResponseWriter, claims Claims, resourceOrgID, resourceOwnerID string) bool {
	if resourceOwnerID != "" && resourceOwnerID == claims.Identity() {
		return true
	}
	if resourceOrgID == "" || resourceOrgID == claims.OrgID {
		return true
	}
	writeError(w, http.StatusForbidden, "caller's organization does not match resource")
	return false
}
