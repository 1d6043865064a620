package server

import (
	"net/http"

	"github.com/Upkyk/dezi-gateway-starter/session"
)

const (
	sessionCookieName = "dezi_session"
	carrierCookieName = "dezi_pkce"
)

// SessionManager maps signed session and PKCE-carrier tokens onto cookies.
type SessionManager struct {
	codec        *session.Codec
	cookieDomain string
	secure       bool
}

func NewSessionManager(codec *session.Codec, cookieDomain string, secure bool) *SessionManager {
	return &SessionManager{codec: codec, cookieDomain: cookieDomain, secure: secure}
}

// Fetch returns the current session, or nil when the cookie is absent,
// malformed, tampered with or expired.
func (m *SessionManager) Fetch(r *http.Request) *session.Data {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	return m.codec.VerifySession(cookie.Value)
}

// Create signs the session and sets the session cookie.
func (m *SessionManager) Create(w http.ResponseWriter, data session.Data) error {
	token, err := m.codec.SignSession(data)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   m.cookieDomain,
		MaxAge:   int(session.Lifetime.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
	})
	return nil
}

// Clear removes the session cookie.
func (m *SessionManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   m.cookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// StoreCarrier sets the short-lived cookie that carries PKCE state across
// the redirect to the identity provider.
func (m *SessionManager) StoreCarrier(w http.ResponseWriter, carrier session.Carrier) error {
	token, err := m.codec.SignCarrier(carrier)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     carrierCookieName,
		Value:    token,
		Path:     "/",
		Domain:   m.cookieDomain,
		MaxAge:   int(session.CarrierLifetime.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// ConsumeCarrier reads and deletes the carrier cookie. The cookie is removed
// before verification so a carrier is usable at most once per browser.
func (m *SessionManager) ConsumeCarrier(w http.ResponseWriter, r *http.Request) *session.Carrier {
	cookie, err := r.Cookie(carrierCookieName)

	http.SetCookie(w, &http.Cookie{
		Name:     carrierCookieName,
		Value:    "",
		Path:     "/",
		Domain:   m.cookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})

	if err != nil || cookie.Value == "" {
		return nil
	}
	return m.codec.VerifyCarrier(cookie.Value)
}
