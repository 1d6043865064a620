package dezi

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v3"
)

const testKeyID = "idp-key-1"

// userInfoEnv is a fake IdP: a JWKS endpoint publishing the signing key and a
// userinfo endpoint serving whatever body the test installs.
type userInfoEnv struct {
	srv       *httptest.Server
	clientKey *rsa.PrivateKey
	idpKey    *rsa.PrivateKey
	body      func() string
	status    int
}

func newUserInfoEnv(t *testing.T) *userInfoEnv {
	t.Helper()

	clientKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	idpKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate idp key: %v", err)
	}

	env := &userInfoEnv{clientKey: clientKey, idpKey: idpKey, status: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &idpKey.PublicKey,
			KeyID:     testKeyID,
			Algorithm: "RS256",
			Use:       "sig",
		}}}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if env.status != http.StatusOK {
			w.WriteHeader(env.status)
			return
		}
		w.Header().Set("Content-Type", "application/jwt")
		_, _ = w.Write([]byte(env.body()))
	})
	env.srv = httptest.NewServer(mux)
	t.Cleanup(env.srv.Close)
	return env
}

func (e *userInfoEnv) document() Document {
	return Document{
		Issuer:           e.srv.URL,
		UserinfoEndpoint: e.srv.URL + "/userinfo",
		JWKSURI:          e.srv.URL + "/jwks",
	}
}

func (e *userInfoEnv) client(t *testing.T) *Client {
	t.Helper()
	keyBytes, err := x509.MarshalPKCS8PrivateKey(e.clientKey)
	if err != nil {
		t.Fatalf("marshal client key: %v", err)
	}
	keyPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes}))

	return New(Config{
		Issuer:        e.srv.URL,
		ClientID:      "client-1",
		RedirectURI:   "https://app.example.com/auth/dezi/callback",
		PrivateKeyPEM: keyPEM,
	}, e.srv.Client(), testLogger())
}

// encrypt wraps a signed payload in the JWE layer addressed to the client key.
func (e *userInfoEnv) encrypt(t *testing.T, plaintext string) string {
	t.Helper()
	enc, err := jose.NewEncrypter(jose.A256GCM,
		jose.Recipient{Algorithm: jose.RSA_OAEP_256, Key: &e.clientKey.PublicKey}, nil)
	if err != nil {
		t.Fatalf("new encrypter: %v", err)
	}
	obj, err := enc.Encrypt([]byte(plaintext))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	compact, err := obj.CompactSerialize()
	if err != nil {
		t.Fatalf("serialize JWE: %v", err)
	}
	return compact
}

// sign produces the inner JWS over the claim set.
func (e *userInfoEnv) sign(t *testing.T, claims map[string]any) string {
	t.Helper()
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.RS256,
		Key:       &jose.JSONWebKey{Key: e.idpKey, KeyID: testKeyID, Algorithm: "RS256"},
	}, nil)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	obj, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	compact, err := obj.CompactSerialize()
	if err != nil {
		t.Fatalf("serialize JWS: %v", err)
	}
	return compact
}

func (e *userInfoEnv) standardClaims() map[string]any {
	now := time.Now()
	return map[string]any{
		"iss":            e.srv.URL,
		"aud":            "client-1",
		"sub":            "subject-1",
		"iat":            now.Unix(),
		"exp":            now.Add(5 * time.Minute).Unix(),
		"nonce":          "nonce-1",
		"dezi_nummer":    "D123456789",
		"abonnee_nummer": "A987654321",
		"rol_code":       "ZA",
		"rol_naam":       "Zorgaanbieder",
	}
}

func TestProcessUserInfoHappyPath(t *testing.T) {
	env := newUserInfoEnv(t)
	env.body = func() string { return env.encrypt(t, env.sign(t, env.standardClaims())) }

	claims, err := env.client(t).ProcessUserInfo(context.Background(), env.document(), "at-1", "nonce-1")
	if err != nil {
		t.Fatalf("process userinfo: %v", err)
	}
	if claims.DeziNummer != "D123456789" || claims.AbonneeNummer != "A987654321" {
		t.Fatalf("identifier claims mismatch: %+v", claims)
	}
	if claims.RolCode != "ZA" || claims.RolNaam != "Zorgaanbieder" {
		t.Fatalf("role claims mismatch: %+v", claims)
	}
	if claims.Subject != "subject-1" || claims.Nonce != "nonce-1" {
		t.Fatalf("standard claims mismatch: %+v", claims)
	}
	if claims.Raw["dezi_nummer"] != "D123456789" {
		t.Fatalf("raw claim map missing dezi_nummer: %v", claims.Raw)
	}
}

func TestProcessUserInfoExpiredAssertion(t *testing.T) {
	env := newUserInfoEnv(t)
	env.body = func() string {
		claims := env.standardClaims()
		claims["exp"] = time.Now().Add(-2 * time.Minute).Unix()
		return env.encrypt(t, env.sign(t, claims))
	}

	_, err := env.client(t).ProcessUserInfo(context.Background(), env.document(), "at-1", "nonce-1")
	var verifyErr *VerificationError
	if !errors.As(err, &verifyErr) {
		t.Fatalf("expected VerificationError for expired assertion, got %v", err)
	}
}

func TestProcessUserInfoWithinClockSkew(t *testing.T) {
	env := newUserInfoEnv(t)
	env.body = func() string {
		claims := env.standardClaims()
		claims["exp"] = time.Now().Add(-30 * time.Second).Unix()
		return env.encrypt(t, env.sign(t, claims))
	}

	if _, err := env.client(t).ProcessUserInfo(context.Background(), env.document(), "at-1", "nonce-1"); err != nil {
		t.Fatalf("expiry within leeway should validate, got %v", err)
	}
}

func TestProcessUserInfoWrongAudience(t *testing.T) {
	env := newUserInfoEnv(t)
	env.body = func() string {
		claims := env.standardClaims()
		claims["aud"] = "someone-else"
		return env.encrypt(t, env.sign(t, claims))
	}

	_, err := env.client(t).ProcessUserInfo(context.Background(), env.document(), "at-1", "nonce-1")
	var verifyErr *VerificationError
	if !errors.As(err, &verifyErr) {
		t.Fatalf("expected VerificationError for wrong audience, got %v", err)
	}
}

func TestProcessUserInfoNonceMismatch(t *testing.T) {
	env := newUserInfoEnv(t)
	env.body = func() string { return env.encrypt(t, env.sign(t, env.standardClaims())) }

	_, err := env.client(t).ProcessUserInfo(context.Background(), env.document(), "at-1", "different-nonce")
	var replayErr *ReplayError
	if !errors.As(err, &replayErr) {
		t.Fatalf("expected ReplayError, got %v", err)
	}
}

func TestProcessUserInfoMissingClaim(t *testing.T) {
	env := newUserInfoEnv(t)
	env.body = func() string {
		claims := env.standardClaims()
		delete(claims, "rol_code")
		return env.encrypt(t, env.sign(t, claims))
	}

	_, err := env.client(t).ProcessUserInfo(context.Background(), env.document(), "at-1", "nonce-1")
	var claimErr *MissingClaimError
	if !errors.As(err, &claimErr) {
		t.Fatalf("expected MissingClaimError, got %v", err)
	}
	if claimErr.Claim != "rol_code" {
		t.Fatalf("expected rol_code reported missing, got %q", claimErr.Claim)
	}
}

func TestProcessUserInfoWrongSigningKey(t *testing.T) {
	env := newUserInfoEnv(t)
	rogueKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rogue key: %v", err)
	}
	env.body = func() string {
		payload, _ := json.Marshal(env.standardClaims())
		signer, err := jose.NewSigner(jose.SigningKey{
			Algorithm: jose.RS256,
			Key:       &jose.JSONWebKey{Key: rogueKey, KeyID: testKeyID, Algorithm: "RS256"},
		}, nil)
		if err != nil {
			t.Fatalf("new rogue signer: %v", err)
		}
		obj, err := signer.Sign(payload)
		if err != nil {
			t.Fatalf("rogue sign: %v", err)
		}
		compact, _ := obj.CompactSerialize()
		return env.encrypt(t, compact)
	}

	_, err = env.client(t).ProcessUserInfo(context.Background(), env.document(), "at-1", "nonce-1")
	var verifyErr *VerificationError
	if !errors.As(err, &verifyErr) {
		t.Fatalf("expected VerificationError for rogue signature, got %v", err)
	}
}

func TestProcessUserInfoGarbageBody(t *testing.T) {
	env := newUserInfoEnv(t)
	env.body = func() string { return "this is not a JWE" }

	_, err := env.client(t).ProcessUserInfo(context.Background(), env.document(), "at-1", "nonce-1")
	var decryptErr *DecryptionError
	if !errors.As(err, &decryptErr) {
		t.Fatalf("expected DecryptionError, got %v", err)
	}
}

func TestProcessUserInfoWrongRecipientKey(t *testing.T) {
	env := newUserInfoEnv(t)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate other key: %v", err)
	}
	env.body = func() string {
		enc, err := jose.NewEncrypter(jose.A256GCM,
			jose.Recipient{Algorithm: jose.RSA_OAEP_256, Key: &otherKey.PublicKey}, nil)
		if err != nil {
			t.Fatalf("new encrypter: %v", err)
		}
		obj, err := enc.Encrypt([]byte(env.sign(t, env.standardClaims())))
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		compact, _ := obj.CompactSerialize()
		return compact
	}

	_, err = env.client(t).ProcessUserInfo(context.Background(), env.document(), "at-1", "nonce-1")
	var decryptErr *DecryptionError
	if !errors.As(err, &decryptErr) {
		t.Fatalf("expected DecryptionError for wrong recipient, got %v", err)
	}
	if decryptErr.Error() == "" || len(decryptErr.Error()) > 200 {
		t.Fatalf("decryption error should be a short sanitized message, got %q", decryptErr.Error())
	}
}

func TestProcessUserInfoUpstreamFailure(t *testing.T) {
	env := newUserInfoEnv(t)
	env.status = http.StatusInternalServerError

	_, err := env.client(t).ProcessUserInfo(context.Background(), env.document(), "at-1", "nonce-1")
	var fetchErr *UserInfoFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected UserInfoFetchError, got %v", err)
	}
	if fetchErr.Status != http.StatusInternalServerError {
		t.Fatalf("expected status 500 in error, got %d", fetchErr.Status)
	}
}

func TestParseRSAPrivateKeyFormats(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal pkcs8: %v", err)
	}
	pkcs8PEM := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8}))
	if _, err := ParseRSAPrivateKey(pkcs8PEM); err != nil {
		t.Fatalf("parse pkcs8: %v", err)
	}

	pkcs1PEM := string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))
	if _, err := ParseRSAPrivateKey(pkcs1PEM); err != nil {
		t.Fatalf("parse pkcs1: %v", err)
	}

	if _, err := ParseRSAPrivateKey("not a key"); err == nil {
		t.Fatalf("expected error for non-PEM input")
	}
}
