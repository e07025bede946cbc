package user

import (
	"context"
	"net/http"

	"github.com/blagoySimandov/arqrender/internal/auth"
	"github.com/blagoySimandov/arqrender/internal/logging"
	"github.com/blagoySimandov/arqrender/internal/models"
	"github.com/rs/zerolog/log"
)

type dbContextKey string

const (
	dbUserContextKey dbContextKey = "db_user"
)

func GetDBUserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(dbUserContextKey).(*models.User)
	return user, ok
}

func WithDBUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, dbUserContextKey, user)
}

func UserMiddleware(userService Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				http.Error(w, "Unauthorized: User not found in context", http.StatusUnauthorized)
				return
			}

			dbUser, err := userService.GetOrCreate(r.Context(), identity)
			if err != nil {
				log.Error().Err(err).Str("user_id", identity.ID).Msg("failed to get or create user")
				logging.EnrichError(r.Context(), err, "load_user")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			logging.EnrichUser(r.Context(), dbUser.ID, dbUser.Email, identity.Provider)

			next.ServeHTTP(w, r.WithContext(WithDBUser(r.Context(), dbUser)))
		})
	}
}

// RequireAdmin rejects requests whose account is not an admin. It must run
// after UserMiddleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dbUser, ok := GetDBUserFromContext(r.Context())
		if !ok || !dbUser.IsAdmin() {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
