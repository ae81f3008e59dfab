// Package principal carries the authenticated user id through the
// request context. Authentication itself happens at the gateway; this
// service trusts the forwarded header.
package principal

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

// HeaderUserID is set by the API gateway after it verifies the session.
const HeaderUserID = "X-Gateway-User-Id"

type contextKey struct{}

type Principal struct {
	UserID int64
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok && p.UserID > 0
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// Middleware extracts the gateway user header. Requests without a valid
// id pass through unauthenticated; handlers decide whether that is fatal.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if raw != "" {
			if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
				r = r.WithContext(WithPrincipal(r.Context(), Principal{UserID: id}))
			}
		}
		next.ServeHTTP(w, r)
	})
}
