package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/nudge/internal/auth"
	"github.com/dukerupert/nudge/internal/model"
	"github.com/dukerupert/nudge/internal/store"
)

// UserHeader carries the id of the user an upstream proxy authenticated.
const UserHeader = "X-Nudge-User"

// UserLookup resolves a user id to its profile.
type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
}

// RequireUser trusts UserHeader, loads the user and populates AuthContext.
// Requests without a known user get 401; deactivated users get 403.
func RequireUser(users UserLookup, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := strconv.ParseInt(r.Header.Get(UserHeader), 10, 64)
			if err != nil || id <= 0 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			u, err := users.GetByID(r.Context(), id)
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if err != nil {
				logger.Error("resolve user", "user_id", id, "error", err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}
			if !u.IsActive {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			setRequestUser(r.Context(), u.ID)
			ctx := auth.WithAuth(r.Context(), auth.AuthContext{
				UserID:   u.ID,
				Username: u.Username,
				Language: u.Language,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserKey keys rate limiting by authenticated user, falling back to the
// client IP for anonymous requests.
func UserKey(r *http.Request) string {
	if id := auth.UserID(r.Context()); id != 0 {
		return "user:" + strconv.FormatInt(id, 10)
	}
	return "ip:" + RealIP(r)
}
