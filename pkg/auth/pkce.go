package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const pkceVerifierBytes = 32

// pkceChallenge holds the verifier/challenge pair for one authorization request. The verifier
// never leaves the client until the code exchange; the challenge rides along on the
// authorization URL.
type pkceChallenge struct {
	Verifier  string
	Challenge string
	State     string
}

// newPKCEChallenge generates a PKCE verifier (32 random bytes, base64url without padding), its
// S256 challenge, and a random state parameter.
func newPKCEChallenge() (*pkceChallenge, error) {
	verifier, err := randomToken(pkceVerifierBytes)
	if err != nil {
		return nil, err
	}
	state, err := randomToken(16)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256([]byte(verifier))
	return &pkceChallenge{
		Verifier:  verifier,
		Challenge: base64.RawURLEncoding.EncodeToString(digest[:]),
		State:     state,
	}, nil
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
