package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/campuscare/counselling-booking/internal/auth"
	"github.com/campuscare/counselling-booking/internal/booking"
)

const identityKey contextKey = "identity"

// Identity is the resolved caller, threaded explicitly into every core call.
type Identity struct {
	UserID int64
	Email  string
	Role   booking.Role
}

// AuthMiddleware resolves the bearer token into an Identity. Handlers behind
// it can assume a validated caller.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				writeError(w, http.StatusUnauthorized, "missing_token", "Authorization: Bearer <token> required")
				return
			}

			claims, err := auth.ParseToken(raw, secret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid_token", "token is invalid or expired")
				return
			}

			ident := Identity{UserID: claims.UserID, Email: claims.Email, Role: claims.Role}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, ident)))
		})
	}
}

// RequireRole rejects callers whose role does not match.
func RequireRole(role booking.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident, ok := GetIdentity(r.Context())
			if !ok || ident.Role != role {
				writeError(w, http.StatusForbidden, "forbidden", "this endpoint requires role "+string(role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func GetIdentity(ctx context.Context) (Identity, bool) {
	ident, ok := ctx.Value(identityKey).(Identity)
	return ident, ok
}
