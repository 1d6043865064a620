// Package session signs and verifies the compact tokens backing the
// application session cookie and the short-lived PKCE carrier cookie.
package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Lifetime is the fixed application session duration. Sessions are only
	// mutated by reissuing a whole new token.
	Lifetime = 8 * time.Hour
	// CarrierLifetime bounds the PKCE carrier across the IdP redirect
	// round-trip; a flow that never completes simply expires with it.
	CarrierLifetime = 10 * time.Minute
	// MinSecretLen is the minimum signing secret size in bytes.
	MinSecretLen = 32
)

// Data is the signed application session payload.
type Data struct {
	UserID        string
	DeziNummer    string
	AbonneeNummer string
	RolCode       string
	RolNaam       string
	DisplayName   string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Carrier wraps the PKCE material carried across the IdP redirect.
type Carrier struct {
	CodeVerifier string
	State        string
	Nonce        string
	IssuedAt     time.Time
}

// Codec signs and verifies compact HMAC-SHA256 tokens. Issued-at and expiry
// live inside the signed payload, not only in the cookie attributes.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// NewCodec validates the secret and constructs a codec.
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("session secret must be at least %d bytes", MinSecretLen)
	}
	return &Codec{secret: secret, now: time.Now}, nil
}

type sessionClaims struct {
	UserID        string `json:"uid"`
	DeziNummer    string `json:"dezi_nummer"`
	AbonneeNummer string `json:"abonnee_nummer"`
	RolCode       string `json:"rol_code"`
	RolNaam       string `json:"rol_naam"`
	DisplayName   string `json:"display_name,omitempty"`
	jwt.RegisteredClaims
}

type carrierClaims struct {
	CodeVerifier string `json:"cv"`
	State        string `json:"st"`
	Nonce        string `json:"n"`
	jwt.RegisteredClaims
}

// Now exposes the codec clock so callers stamp session lifetimes from the
// same source the verifier checks against.
func (c *Codec) Now() time.Time {
	return c.now()
}

// SignSession mints the application session token.
func (c *Codec) SignSession(d Data) (string, error) {
	claims := sessionClaims{
		UserID:        d.UserID,
		DeziNummer:    d.DeziNummer,
		AbonneeNummer: d.AbonneeNummer,
		RolCode:       d.RolCode,
		RolNaam:       d.RolNaam,
		DisplayName:   d.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(d.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(d.ExpiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// VerifySession returns the session data, or nil for any invalid token:
// bad signature, expired, malformed, or missing a required field. All cases
// collapse to the same outcome so callers cannot distinguish attack from
// expiry.
func (c *Codec) VerifySession(token string) *Data {
	if token == "" {
		return nil
	}
	var claims sessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, c.keyfunc, c.parserOpts()...)
	if err != nil || !parsed.Valid {
		return nil
	}
	if claims.UserID == "" || claims.DeziNummer == "" || claims.AbonneeNummer == "" ||
		claims.RolCode == "" || claims.RolNaam == "" {
		return nil
	}
	d := &Data{
		UserID:        claims.UserID,
		DeziNummer:    claims.DeziNummer,
		AbonneeNummer: claims.AbonneeNummer,
		RolCode:       claims.RolCode,
		RolNaam:       claims.RolNaam,
		DisplayName:   claims.DisplayName,
		ExpiresAt:     claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		d.CreatedAt = claims.IssuedAt.Time
	}
	return d
}

// SignCarrier mints the PKCE carrier token. A zero IssuedAt is stamped with
// the codec clock; expiry is always IssuedAt plus CarrierLifetime.
func (c *Codec) SignCarrier(p Carrier) (string, error) {
	if p.IssuedAt.IsZero() {
		p.IssuedAt = c.now()
	}
	claims := carrierClaims{
		CodeVerifier: p.CodeVerifier,
		State:        p.State,
		Nonce:        p.Nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(p.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(p.IssuedAt.Add(CarrierLifetime)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// VerifyCarrier returns the carrier data, or nil for any invalid token.
func (c *Codec) VerifyCarrier(token string) *Carrier {
	if token == "" {
		return nil
	}
	var claims carrierClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, c.keyfunc, c.parserOpts()...)
	if err != nil || !parsed.Valid {
		return nil
	}
	if claims.CodeVerifier == "" || claims.State == "" || claims.Nonce == "" {
		return nil
	}
	p := &Carrier{
		CodeVerifier: claims.CodeVerifier,
		State:        claims.State,
		Nonce:        claims.Nonce,
	}
	if claims.IssuedAt != nil {
		p.IssuedAt = claims.IssuedAt.Time
	}
	return p
}

func (c *Codec) keyfunc(*jwt.Token) (any, error) {
	return c.secret, nil
}

func (c *Codec) parserOpts() []jwt.ParserOption {
	return []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
}
