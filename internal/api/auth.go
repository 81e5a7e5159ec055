package api

import (
	"context"
	"net/http"
	"strings"
)

// User is the caller identity attached to every request.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type ctxKey int

const userKey ctxKey = 0

// Default identity for unauthenticated requests, matching the demo account
// seeded at startup.
var demoUser = User{ID: "user-123", Username: "demo-trader"}

// Identity resolves the caller from the Authorization header. A bearer
// token becomes the user id; anything else falls back to the demo account.
// Real token verification belongs to the gateway in front of this service.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := demoUser
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			if token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")); token != "" {
				user = User{ID: token, Username: token}
			}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

// UserFrom returns the identity set by Identity, or the demo account when
// the middleware did not run.
func UserFrom(ctx context.Context) User {
	if u, ok := ctx.Value(userKey).(User); ok {
		return u
	}
	return demoUser
}
