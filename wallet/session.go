// Package wallet resolves a caller's signing identity from an explicit session
// and submits contract calls on their behalf.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Session is the identity material carried by a verified bearer token. It is
// passed down each request explicitly.
type Session struct {
	UserID        string
	VerifierID    string
	IDToken       string
	WalletAddress string
}

// Reconnectable reports whether the session carries enough material to
// re-establish a signer.
func (s *Session) Reconnectable() bool {
	return s != nil && s.VerifierID != "" && s.IDToken != ""
}

// KeySource exchanges stored verifier material for the user's signing key.
type KeySource interface {
	Connect(ctx context.Context, verifierID, idToken string) (*ecdsa.PrivateKey, error)
}

// StaticKeySource serves fixed keys per verifier id. The token is not checked.
type StaticKeySource map[string]*ecdsa.PrivateKey

func (s StaticKeySource) Connect(_ context.Context, verifierID, _ string) (*ecdsa.PrivateKey, error) {
	key, ok := s[verifierID]
	if !ok {
		return nil, fmt.Errorf("wallet: no key for verifier %q", verifierID)
	}
	return key, nil
}

// ParseStaticKeys reads "verifier=hexkey,verifier=hexkey".
func ParseStaticKeys(raw string) (StaticKeySource, error) {
	keys := StaticKeySource{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		verifier, hexKey, ok := strings.Cut(pair, "=")
		if !ok || verifier == "" {
			return nil, fmt.Errorf("wallet: malformed key entry %q", pair)
		}
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
		if err != nil {
			return nil, fmt.Errorf("wallet: key for %q: %w", verifier, err)
		}
		keys[strings.TrimSpace(verifier)] = key
	}
	return keys, nil
}
