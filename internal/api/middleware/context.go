package middleware

import (
	"context"
	"net/http"

	"github.com/kadrio/idphoto/internal/limiter"
)

type contextKey string

const (
	userIDKey   contextKey = "user_id"
	identityKey contextKey = "identity"
)

// WithUserID records an authenticated user id on the context. It is the
// contract point for the auth layer sitting in front of this service; the
// identity resolver gives user ids the highest priority.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserID returns the authenticated user id, if any.
func UserID(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(userIDKey).(string)
	return id, ok && id != ""
}

func withIdentity(ctx context.Context, id limiter.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity returns the resolved client identity set by ResolveIdentity.
func GetIdentity(r *http.Request) (limiter.Identity, bool) {
	id, ok := r.Context().Value(identityKey).(limiter.Identity)
	return id, ok
}
