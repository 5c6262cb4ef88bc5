package tokens

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	got, ok := Expiry(signed(t, exp))
	if !ok {
		t.Fatal("expected expiry to be read")
	}
	if !got.Equal(exp) {
		t.Fatalf("expected %v got %v", exp, got)
	}
}

func TestExpiryOpaqueToken(t *testing.T) {
	if _, ok := Expiry("opaque-access-token"); ok {
		t.Fatal("expected opaque token to have no expiry")
	}
	if _, ok := Expiry(""); ok {
		t.Fatal("expected empty token to have no expiry")
	}
}

func TestExpiresWithin(t *testing.T) {
	now := time.Now()

	if !ExpiresWithin(signed(t, now.Add(10*time.Second)), now, 30*time.Second) {
		t.Fatal("expected token expiring in 10s to be inside a 30s skew")
	}
	if ExpiresWithin(signed(t, now.Add(time.Hour)), now, 30*time.Second) {
		t.Fatal("expected token valid for an hour to be outside the skew")
	}
	if ExpiresWithin("opaque", now, time.Hour) {
		t.Fatal("opaque tokens never report expiry")
	}
}
