package middleware

import (
	"context"
	"net/http"

	"chat-relay/auth"
	"chat-relay/core"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type contextKey string

const UserContextKey = contextKey("user")

// AuthJWT rejects requests without a valid bearer credential and stores the
// resolved user in the request context.
func AuthJWT(validator auth.Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, map[string]string{"error": "Authorization header is required"})
				return
			}

			token, ok := auth.BearerToken(authHeader)
			if !ok {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, map[string]string{"error": "Authorization header format must be Bearer {token}"})
				return
			}

			user, err := validator.Validate(r.Context(), token)
			if err != nil {
				logrus.WithField("error", err).Debug("Rejected API credential")
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, map[string]string{"error": "Invalid token"})
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext returns the user stored by AuthJWT.
func UserFromContext(ctx context.Context) (*core.User, bool) {
	user, ok := ctx.Value(UserContextKey).(*core.User)
	return user, ok && user != nil
}
