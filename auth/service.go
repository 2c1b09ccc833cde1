// Package auth verifies the bearer tokens that carry a caller's wallet session.
// Tokens are issued elsewhere; IssueToken exists for dev tooling and tests.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pactflow/wallet"
)

var (
	// ErrInvalidToken signals a malformed, expired or wrongly signed token.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrMissingSecret is returned when no signing secret is configured.
	ErrMissingSecret = errors.New("auth: jwt secret not configured")
)

// Service handles token verification.
type Service struct {
	jwtSecret []byte
	now       func() time.Time
}

// NewService creates a new authentication service.
func NewService(jwtSecret string) (*Service, error) {
	if jwtSecret == "" {
		return nil, ErrMissingSecret
	}
	return &Service{jwtSecret: []byte(jwtSecret), now: time.Now}, nil
}

// VerifyToken validates a JWT token and returns the session it carries.
func (s *Service) VerifyToken(tokenString string) (*wallet.Session, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return nil, fmt.Errorf("%w: invalid user_id in token", ErrInvalidToken)
	}

	sess := &wallet.Session{UserID: userID}
	sess.VerifierID, _ = claims["verifier_id"].(string)
	sess.IDToken, _ = claims["id_token"].(string)
	sess.WalletAddress, _ = claims["wallet_address"].(string)
	return sess, nil
}

// IssueToken signs a token for sess valid for ttl.
func (s *Service) IssueToken(sess wallet.Session, ttl time.Duration) (string, error) {
	if sess.UserID == "" {
		return "", fmt.Errorf("auth: user id required")
	}
	now := s.now()
	claims := jwt.MapClaims{
		"user_id":        sess.UserID,
		"verifier_id":    sess.VerifierID,
		"id_token":       sess.IDToken,
		"wallet_address": sess.WalletAddress,
		"exp":            now.Add(ttl).Unix(),
		"iat":            now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return tokenString, nil
}
