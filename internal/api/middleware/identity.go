package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/kadrio/idphoto/internal/limiter"
)

// ResolveIdentity derives one typed identity key per request and stores it
// in the context for the admission-control middleware. Priority order:
// authenticated user id, then API key, then proxy-aware client IP.
func ResolveIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), Resolve(r))))
	})
}

// Resolve computes the identity for one request without touching context.
func Resolve(r *http.Request) limiter.Identity {
	if uid, ok := UserID(r); ok {
		return limiter.Identity{Key: "user:" + uid, Tier: limiter.TierUser}
	}
	if key := apiKey(r); key != "" {
		return limiter.Identity{Key: "key:" + key, Tier: limiter.TierAPIKey}
	}
	return limiter.Identity{Key: "ip:" + clientIP(r), Tier: limiter.TierAnonymous}
}

func apiKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
