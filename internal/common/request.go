package common

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type ctxKey int

const userIDKey ctxKey = iota

// WithUserID stores the authenticated user id, the token subject issued by the identity provider.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, strings.TrimSpace(id))
}

// UserID returns the authenticated user id. An empty id counts as absent.
func UserID(ctx context.Context) (string, bool) {
	id, _ := ctx.Value(userIDKey).(string)
	return id, id != ""
}

// ClientIP returns the caller address without port. chi's RealIP middleware
// has already folded X-Forwarded-For and X-Real-IP into RemoteAddr.
func ClientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
