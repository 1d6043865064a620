package dezi

import "fmt"

// DiscoveryError indicates the IdP metadata document could not be fetched or parsed.
type DiscoveryError struct {
	Issuer string
	Status int
	Err    error
}

func (e *DiscoveryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("discovery for %s returned status %d", e.Issuer, e.Status)
	}
	return fmt.Sprintf("discovery for %s failed: %v", e.Issuer, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// TokenExchangeError carries the token endpoint's HTTP status and response body.
// Authorization codes are single-use, so a failed exchange is terminal for the
// login attempt.
type TokenExchangeError struct {
	Status int
	Body   string
	Err    error
}

func (e *TokenExchangeError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("token exchange failed: status %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("token exchange failed: %v", e.Err)
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }

// UserInfoFetchError indicates the userinfo endpoint rejected the request.
type UserInfoFetchError struct {
	Status int
	Err    error
}

func (e *UserInfoFetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("userinfo request failed: status %d", e.Status)
	}
	return fmt.Sprintf("userinfo request failed: %v", e.Err)
}

func (e *UserInfoFetchError) Unwrap() error { return e.Err }

// DecryptionError indicates the JWE confidentiality layer could not be removed.
// The wrapped error never contains key material or ciphertext.
type DecryptionError struct {
	Err error
}

func (e *DecryptionError) Error() string { return fmt.Sprintf("userinfo decryption failed: %v", e.Err) }

func (e *DecryptionError) Unwrap() error { return e.Err }

// VerificationError indicates the inner JWS signature or one of the standard
// claims (iss, aud, exp, nbf) failed validation.
type VerificationError struct {
	Err error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("userinfo verification failed: %v", e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// ReplayError indicates the nonce in the verified payload does not match the
// nonce issued for this flow.
type ReplayError struct{}

func (e *ReplayError) Error() string { return "nonce mismatch" }

// MissingClaimError names a required claim absent from the verified payload.
type MissingClaimError struct {
	Claim string
}

func (e *MissingClaimError) Error() string { return "missing required claim: " + e.Claim }
