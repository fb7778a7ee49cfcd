package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/harborview/seo-reporter/internal/db"
)

type contextKey string

const userContextKey contextKey = "auth_user"

// SessionStore defines the lookups the middleware needs.
type SessionStore interface {
	GetSession(ctx context.Context, tokenHash string) (*db.Session, error)
	GetUser(ctx context.Context, userID string) (*db.User, error)
}

// UserFromContext retrieves the authenticated user, if any.
func UserFromContext(ctx context.Context) (*db.User, bool) {
	user, ok := ctx.Value(userContextKey).(*db.User)
	return user, ok
}

// WithUser returns a context carrying the authenticated user. Exposed
// for handler tests.
func WithUser(ctx context.Context, user *db.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// RequireSession wraps a handler with opaque-token session validation.
// The token is read from the Authorization bearer header or, failing
// that, the session cookie.
func RequireSession(store SessionStore, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			if cookie, err := r.Cookie("session"); err == nil {
				token = cookie.Value
			}
		}
		if token == "" {
			http.Error(w, `{"status":"error","message":"authentication required"}`, http.StatusUnauthorized)
			return
		}

		session, err := store.GetSession(r.Context(), HashToken(token))
		if err != nil {
			log.Debug().Err(err).Msg("Session lookup failed")
			http.Error(w, `{"status":"error","message":"invalid or expired session"}`, http.StatusUnauthorized)
			return
		}

		user, err := store.GetUser(r.Context(), session.UserID)
		if err != nil || !user.IsActive {
			http.Error(w, `{"status":"error","message":"invalid or expired session"}`, http.StatusUnauthorized)
			return
		}

		next(w, r.WithContext(WithUser(r.Context(), user)))
	}
}

// RequireAdmin is RequireSession plus an admin role check.
func RequireAdmin(store SessionStore, next http.HandlerFunc) http.HandlerFunc {
	return RequireSession(store, func(w http.ResponseWriter, r *http.Request) {
		user, _ := UserFromContext(r.Context())
		if user == nil || user.Role != db.RoleAdmin {
			http.Error(w, `{"status":"error","message":"admin access required"}`, http.StatusForbidden)
			return
		}
		next(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
