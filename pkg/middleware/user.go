package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gla-ilr/ilr-engine/pkg/models"
)

// UserHeader names the authenticated user. Authentication itself happens
// upstream of this service.
const UserHeader = "X-User"

type userKey struct{}

// WithUser stores the caller's user name in the request context.
func WithUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), userKey{}, userFromHeader(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserFrom returns the user stored by WithUser, or models.SystemUser.
func UserFrom(ctx context.Context) string {
	if user, ok := ctx.Value(userKey{}).(string); ok && user != "" {
		return user
	}
	return models.SystemUser
}

func userFromHeader(r *http.Request) string {
	if user := strings.TrimSpace(r.Header.Get(UserHeader)); user != "" {
		return user
	}
	return models.SystemUser
}
