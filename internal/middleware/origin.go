package middleware

import (
	"encoding/json"
	"net/http"
)

// OriginPolicy reports whether a browser origin may drive the control API.
type OriginPolicy struct {
	allowed map[string]bool
}

// NewOriginPolicy accepts the given origins; "*" accepts any.
func NewOriginPolicy(origins []string) OriginPolicy {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return OriginPolicy{allowed: allowed}
}

// Allowed reports whether r may proceed. Requests without an Origin header
// come from non-browser shells and are allowed.
func (p OriginPolicy) Allowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || p.allowed["*"] || p.allowed[origin]
}

// RequireOrigin rejects state-changing requests from origins outside the
// policy with 403. Safe methods pass through.
func RequireOrigin(policy OriginPolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
			default:
				if !policy.Allowed(r) {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusForbidden)
					_ = json.NewEncoder(w).Encode(map[string]string{"error": "origin not allowed"})
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
