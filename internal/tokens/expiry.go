// Package tokens reads metadata out of access tokens without verifying them.
// Verification is the server's job; the client only needs the expiry to
// refresh ahead of a guaranteed 401.
package tokens

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Expiry returns the exp claim of a JWT access token. ok is false when the
// token is opaque or carries no expiry.
func Expiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// ExpiresWithin reports whether token is known to expire before now+skew.
// Opaque tokens never report expiry.
func ExpiresWithin(token string, now time.Time, skew time.Duration) bool {
	exp, ok := Expiry(token)
	if !ok {
		return false
	}
	return !now.Add(skew).Before(exp)
}
