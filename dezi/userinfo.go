package dezi

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
)

// clockSkewTolerance is the leeway applied to exp/nbf validation.
const clockSkewTolerance = 60 * time.Second

// Claims are the verified Dezi assertions about the authenticated user. They
// are untrusted until the JWS signature and the standard claims have been
// validated.
type Claims struct {
	DeziNummer    string
	AbonneeNummer string
	RolCode       string
	RolNaam       string
	Subject       string
	Nonce         string
	Raw           map[string]any
}

type rawClaims struct {
	DeziNummer    string `json:"dezi_nummer"`
	AbonneeNummer string `json:"abonnee_nummer"`
	RolCode       string `json:"rol_code"`
	RolNaam       string `json:"rol_naam"`
	Nonce         string `json:"nonce"`
}

// ProcessUserInfo runs the full pipeline against the userinfo endpoint: fetch
// the protected blob, strip the JWE confidentiality layer, verify the inner
// JWS against the IdP's published keys, and validate claims. Each stage gates
// the next; decryption precedes verification because the authenticity check
// only makes sense on the recovered plaintext.
func (c *Client) ProcessUserInfo(ctx context.Context, doc Document, accessToken, expectedNonce string) (*Claims, error) {
	jwe, err := c.fetchUserInfo(ctx, doc.UserinfoEndpoint, accessToken)
	if err != nil {
		return nil, err
	}

	jws, err := decryptUserInfo(jwe, c.cfg.PrivateKeyPEM)
	if err != nil {
		return nil, err
	}

	return c.verifyUserInfo(ctx, doc.JWKSURI, jws, expectedNonce)
}

// fetchUserInfo retrieves the compact JWE from the userinfo endpoint using the
// access token, requesting the JWT representation.
func (c *Client) fetchUserInfo(ctx context.Context, endpoint, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", &UserInfoFetchError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/jwt")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &UserInfoFetchError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", &UserInfoFetchError{Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &UserInfoFetchError{Err: err}
	}
	return strings.TrimSpace(string(body)), nil
}

// decryptUserInfo removes the JWE layer. The private key is held only for the
// duration of this call, and neither the key, the ciphertext, nor the
// recovered plaintext appears in errors or logs on any exit path.
func decryptUserInfo(compact, privateKeyPEM string) (string, error) {
	key, err := ParseRSAPrivateKey(privateKeyPEM)
	if err != nil {
		return "", &DecryptionError{Err: err}
	}

	obj, err := jose.ParseEncrypted(compact)
	if err != nil {
		return "", &DecryptionError{Err: errors.New("malformed JWE")}
	}

	plaintext, err := obj.Decrypt(key)
	if err != nil {
		return "", &DecryptionError{Err: errors.New("decryption rejected")}
	}
	return string(plaintext), nil
}

// verifyUserInfo checks the JWS signature against the published key set and
// validates issuer, audience, expiry, not-before, nonce, and the required
// Dezi claims.
func (c *Client) verifyUserInfo(ctx context.Context, jwksURI, jws, expectedNonce string) (*Claims, error) {
	payload, err := c.keySetFor(jwksURI).VerifySignature(ctx, jws)
	if err != nil {
		return nil, &VerificationError{Err: err}
	}

	var std jwt.Claims
	if err := json.Unmarshal(payload, &std); err != nil {
		return nil, &VerificationError{Err: err}
	}

	expected := jwt.Expected{
		Issuer:   c.cfg.Issuer,
		Audience: jwt.Audience{c.cfg.ClientID},
		Time:     c.now(),
	}
	if err := std.ValidateWithLeeway(expected, clockSkewTolerance); err != nil {
		return nil, &VerificationError{Err: err}
	}

	var rc rawClaims
	if err := json.Unmarshal(payload, &rc); err != nil {
		return nil, &VerificationError{Err: err}
	}

	// Replay defense: enforced whenever a nonce was issued for this flow,
	// independent of the signature and claim checks above.
	if expectedNonce != "" && rc.Nonce != expectedNonce {
		return nil, &ReplayError{}
	}

	for _, claim := range []struct{ name, value string }{
		{"dezi_nummer", rc.DeziNummer},
		{"abonnee_nummer", rc.AbonneeNummer},
		{"rol_code", rc.RolCode},
		{"rol_naam", rc.RolNaam},
	} {
		if claim.value == "" {
			return nil, &MissingClaimError{Claim: claim.name}
		}
	}

	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &VerificationError{Err: err}
	}

	return &Claims{
		DeziNummer:    rc.DeziNummer,
		AbonneeNummer: rc.AbonneeNummer,
		RolCode:       rc.RolCode,
		RolNaam:       rc.RolNaam,
		Subject:       std.Subject,
		Nonce:         rc.Nonce,
		Raw:           raw,
	}, nil
}

// ParseRSAPrivateKey decodes a PEM-encoded RSA private key in PKCS#8 or
// PKCS#1 form. Error text never includes key material.
func ParseRSAPrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("no PEM block in private key")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("private key is not RSA")
		}
		return rsaKey, nil
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("unsupported private key format")
	}
	return key, nil
}
