package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pactflow/wallet"
)

func TestService_IssueAndVerify(t *testing.T) {
	svc, err := NewService("test-secret")
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	in := wallet.Session{
		UserID:        "tenant-1",
		VerifierID:    "google:tenant",
		IDToken:       "id-token",
		WalletAddress: "0x00000000000000000000000000000000000000aa",
	}
	token, err := svc.IssueToken(in, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	sess, err := svc.VerifyToken(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if *sess != in {
		t.Fatalf("expected %+v got %+v", in, *sess)
	}
	if !sess.Reconnectable() {
		t.Fatal("session with verifier and id token should be reconnectable")
	}
}

func TestService_RejectsBadTokens(t *testing.T) {
	svc, _ := NewService("test-secret")
	other, _ := NewService("other-secret")

	expired := &Service{jwtSecret: svc.jwtSecret, now: func() time.Time { return time.Now().Add(-2 * time.Hour) }}
	stale, _ := expired.IssueToken(wallet.Session{UserID: "u1"}, time.Hour)
	forged, _ := other.IssueToken(wallet.Session{UserID: "u1"}, time.Hour)
	noUser, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "u1",
	}).SignedString([]byte("test-secret"))

	for name, token := range map[string]string{
		"garbage":   "not-a-token",
		"expired":   stale,
		"forged":    forged,
		"no user":   noUser,
		"no expiry": noExpiry,
	} {
		if _, err := svc.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestNewService_RequiresSecret(t *testing.T) {
	if _, err := NewService(""); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}
