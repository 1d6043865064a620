package dezi

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
)

// PKCEParams holds the per-attempt random material for one authorization flow.
// The verifier and nonce are consumed exactly once at callback time.
type PKCEParams struct {
	CodeVerifier  string
	CodeChallenge string
	State         string
	Nonce         string
}

// GeneratePKCE produces a fresh verifier/challenge/state/nonce tuple. The
// challenge method is always S256; the plain method is never offered.
func GeneratePKCE() PKCEParams {
	verifier := oauth2.GenerateVerifier()
	return PKCEParams{
		CodeVerifier:  verifier,
		CodeChallenge: oauth2.S256ChallengeFromVerifier(verifier),
		State:         randomToken(16),
		Nonce:         randomToken(16),
	}
}

// randomToken returns n bytes of secure randomness, base64url encoded without
// padding. Failure to read from the secure source is not recoverable.
func randomToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
