package identity

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// RoleAdmin may edit categories and the map configuration, and delete any shape.
const RoleAdmin = "admin"

// User is the caller as supplied by the external session layer.
type User struct {
	ID   uuid.UUID `json:"id"`
	Role string    `json:"role"`
}

// IsAdmin reports whether the user has the admin role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

type ctxKey struct{}

// WithUser returns a context carrying u.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// FromContext returns the user stored by WithUser.
func FromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(ctxKey{}).(User)
	return u, ok
}

// Middleware reads X-User-ID and X-User-Role into the request context.
// Requests without a valid user id pass through anonymously.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.Header.Get("X-User-ID"))
		if err != nil || id == uuid.Nil {
			next.ServeHTTP(w, r)
			return
		}
		u := User{ID: id, Role: r.Header.Get("X-User-Role")}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
	})
}
