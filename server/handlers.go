package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/Upkyk/dezi-gateway-starter/dezi"
	"github.com/Upkyk/dezi-gateway-starter/session"
	"github.com/Upkyk/dezi-gateway-starter/store"
)

// App wires the Dezi client, session layer and store behind the HTTP
// endpoints.
type App struct {
	Config   Config
	Logger   *slog.Logger
	Dezi     *dezi.Client
	Sessions *SessionManager
	Store    *store.Store
}

func NewApp(cfg Config, logger *slog.Logger, client *dezi.Client, sessions *SessionManager, st *store.Store) *App {
	return &App{
		Config:   cfg,
		Logger:   logger,
		Dezi:     client,
		Sessions: sessions,
		Store:    st,
	}
}

// Error categories surfaced to the frontend. The category is the only
// machine-readable signal; messages are static labels and never carry
// internal error text.
const (
	catLoginFailed     = "login_failed"
	catOAuthError      = "oauth_error"
	catInvalidCallback = "invalid_callback"
	catSessionExpired  = "session_expired"
	catStateMismatch   = "state_mismatch"
	catTokenError      = "token_error"
	catUserInfoError   = "userinfo_error"
	catDecryptionError = "decryption_error"
	catVerification    = "verification_error"
	catCallbackError   = "callback_error"
)

var categoryMessages = map[string]string{
	catLoginFailed:     "Inloggen kon niet worden gestart",
	catOAuthError:      "De identity provider heeft een fout gemeld",
	catInvalidCallback: "Ongeldige callback van de identity provider",
	catSessionExpired:  "De inlogpoging is verlopen, probeer het opnieuw",
	catStateMismatch:   "De inlogpoging kon niet worden geverifieerd",
	catTokenError:      "Het ophalen van tokens is mislukt",
	catUserInfoError:   "Gebruikersgegevens konden niet worden opgehaald",
	catDecryptionError: "Gebruikersgegevens konden niet worden ontsleuteld",
	catVerification:    "Gebruikersgegevens konden niet worden geverifieerd",
	catCallbackError:   "Inloggen is mislukt",
}

// categoryFor maps a callback failure to its error category. Anything not
// recognized falls through to the generic callback category.
func categoryFor(err error) string {
	var (
		exchangeErr *dezi.TokenExchangeError
		fetchErr    *dezi.UserInfoFetchError
		claimErr    *dezi.MissingClaimError
		decryptErr  *dezi.DecryptionError
		verifyErr   *dezi.VerificationError
		replayErr   *dezi.ReplayError
	)
	switch {
	case errors.As(err, &exchangeErr):
		return catTokenError
	case errors.As(err, &fetchErr), errors.As(err, &claimErr):
		return catUserInfoError
	case errors.As(err, &decryptErr):
		return catDecryptionError
	case errors.As(err, &verifyErr), errors.As(err, &replayErr):
		return catVerification
	default:
		return catCallbackError
	}
}

// handleLogin starts one authorization attempt: fresh PKCE material in a
// short-lived cookie, then a redirect to the IdP.
func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	authURL, pkce, err := a.Dezi.StartLogin(r.Context())
	if err != nil {
		a.Logger.Error("login start failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
		a.redirectError(w, r, catLoginFailed)
		return
	}

	carrier := session.Carrier{
		CodeVerifier: pkce.CodeVerifier,
		State:        pkce.State,
		Nonce:        pkce.Nonce,
	}
	if err := a.Sessions.StoreCarrier(w, carrier); err != nil {
		a.Logger.Error("carrier store failed", "error", err)
		a.redirectError(w, r, catLoginFailed)
		return
	}

	a.Logger.Info("login started", "state", pkce.State)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleCallback finishes the flow: state check, code exchange, userinfo
// decrypt and verify, persistence, session mint. Every failure becomes a
// category redirect; internal detail stays in the log.
func (a *App) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	reqID := RequestIDFromContext(r.Context())

	if idpErr := q.Get("error"); idpErr != "" {
		a.Logger.Warn("idp returned error", "error", idpErr, "description", q.Get("error_description"), "request_id", reqID)
		a.redirectError(w, r, catOAuthError)
		return
	}

	code := q.Get("code")
	state := q.Get("state")
	if code == "" || state == "" {
		a.redirectError(w, r, catInvalidCallback)
		return
	}

	carrier := a.Sessions.ConsumeCarrier(w, r)
	if carrier == nil {
		a.redirectError(w, r, catSessionExpired)
		return
	}
	if carrier.State != state {
		a.Logger.Warn("state mismatch", "request_id", reqID)
		a.redirectError(w, r, catStateMismatch)
		return
	}

	doc, err := a.Dezi.Discover(r.Context())
	if err != nil {
		a.Logger.Error("discovery failed during callback", "error", err, "request_id", reqID)
		a.redirectError(w, r, catCallbackError)
		return
	}

	tokens, err := a.Dezi.Exchange(r.Context(), doc.TokenEndpoint, code, carrier.CodeVerifier)
	if err != nil {
		a.Logger.Error("token exchange failed", "error", err, "request_id", reqID)
		a.redirectError(w, r, catTokenError)
		return
	}

	claims, err := a.Dezi.ProcessUserInfo(r.Context(), doc, tokens.AccessToken, carrier.Nonce)
	if err != nil {
		a.Logger.Error("userinfo processing failed", "error", err, "request_id", reqID)
		a.redirectError(w, r, categoryFor(err))
		return
	}

	user, err := a.Store.UpsertUser(r.Context(), claims.DeziNummer, claims.RolNaam)
	if err != nil {
		a.Logger.Error("user upsert failed", "error", err, "request_id", reqID)
		a.redirectError(w, r, catCallbackError)
		return
	}
	if err := a.Store.RecordLogin(r.Context(), store.LoginEvent{
		UserID:        user.ID,
		AbonneeNummer: claims.AbonneeNummer,
		RolCode:       claims.RolCode,
		RolNaam:       claims.RolNaam,
		IPAddress:     clientIP(r),
		UserAgent:     r.UserAgent(),
	}); err != nil {
		a.Logger.Error("login event failed", "error", err, "request_id", reqID)
		a.redirectError(w, r, catCallbackError)
		return
	}

	now := a.Sessions.codec.Now()
	data := session.Data{
		UserID:        user.ID,
		DeziNummer:    claims.DeziNummer,
		AbonneeNummer: claims.AbonneeNummer,
		RolCode:       claims.RolCode,
		RolNaam:       claims.RolNaam,
		DisplayName:   user.DisplayName,
		CreatedAt:     now,
		ExpiresAt:     now.Add(session.Lifetime),
	}
	if err := a.Sessions.Create(w, data); err != nil {
		a.Logger.Error("session mint failed", "error", err, "request_id", reqID)
		a.redirectError(w, r, catCallbackError)
		return
	}

	a.Logger.Info("login completed", "user_id", user.ID, "claims", claims.Safe(), "request_id", reqID)
	http.Redirect(w, r, a.Config.Server.PublicURL+"/dashboard", http.StatusFound)
}

// handleLogout clears the session and always redirects home.
func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	a.Sessions.Clear(w)
	http.Redirect(w, r, a.Config.Server.PublicURL+"/", http.StatusFound)
}

// handleDemoLogin mints a session for a fixed demo identity. Development
// only; the route does not exist in production.
func (a *App) handleDemoLogin(w http.ResponseWriter, r *http.Request) {
	if !a.Config.Server.DevMode {
		http.NotFound(w, r)
		return
	}

	const demoDezi = "DEMO-12345678"
	user, err := a.Store.UpsertUser(r.Context(), demoDezi, "Demo Gebruiker")
	if err != nil {
		a.Logger.Error("demo upsert failed", "error", err)
		a.redirectError(w, r, catCallbackError)
		return
	}
	if err := a.Store.RecordLogin(r.Context(), store.LoginEvent{
		UserID:        user.ID,
		AbonneeNummer: "00000000",
		RolCode:       "DEMO",
		RolNaam:       "Demo Gebruiker",
		IPAddress:     clientIP(r),
		UserAgent:     r.UserAgent(),
	}); err != nil {
		a.Logger.Error("demo login event failed", "error", err)
		a.redirectError(w, r, catCallbackError)
		return
	}

	now := a.Sessions.codec.Now()
	data := session.Data{
		UserID:        user.ID,
		DeziNummer:    demoDezi,
		AbonneeNummer: "00000000",
		RolCode:       "DEMO",
		RolNaam:       "Demo Gebruiker",
		DisplayName:   user.DisplayName,
		CreatedAt:     now,
		ExpiresAt:     now.Add(session.Lifetime),
	}
	if err := a.Sessions.Create(w, data); err != nil {
		a.Logger.Error("demo session mint failed", "error", err)
		a.redirectError(w, r, catCallbackError)
		return
	}
	http.Redirect(w, r, a.Config.Server.PublicURL+"/dashboard", http.StatusFound)
}

// handleSession reports the current session with sensitive identifiers
// masked. Unauthenticated requests get a 401 instead of a redirect so the
// frontend can poll it.
func (a *App) handleSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	sess := a.Sessions.Fetch(r)
	if sess == nil {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"authenticated": false})
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]any{
		"authenticated":  true,
		"user_id":        sess.UserID,
		"dezi_nummer":    dezi.Mask(sess.DeziNummer),
		"abonnee_nummer": dezi.Mask(sess.AbonneeNummer),
		"rol_code":       sess.RolCode,
		"rol_naam":       sess.RolNaam,
		"display_name":   sess.DisplayName,
		"expires_at":     sess.ExpiresAt,
	})
}

// handleLogins lists recent login events for the authenticated user.
func (a *App) handleLogins(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	if sess == nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	events, err := a.Store.RecentLogins(r.Context(), sess.UserID, 20)
	if err != nil {
		a.Logger.Error("recent logins query failed", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	type loginView struct {
		RolNaam   string `json:"rol_naam"`
		IPAddress string `json:"ip_address"`
		UserAgent string `json:"user_agent"`
		CreatedAt string `json:"created_at"`
	}
	views := make([]loginView, 0, len(events))
	for _, ev := range events {
		views = append(views, loginView{
			RolNaam:   ev.RolNaam,
			IPAddress: ev.IPAddress,
			UserAgent: ev.UserAgent,
			CreatedAt: ev.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"logins": views})
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// redirectError sends the browser back to the frontend root with the error
// category and its static message as query parameters.
func (a *App) redirectError(w http.ResponseWriter, r *http.Request, category string) {
	msg, ok := categoryMessages[category]
	if !ok {
		category = catCallbackError
		msg = categoryMessages[catCallbackError]
	}
	params := url.Values{}
	params.Set("error", category)
	params.Set("message", msg)
	http.Redirect(w, r, a.Config.Server.PublicURL+"/?"+params.Encode(), http.StatusFound)
}

// clientIP prefers proxy headers over the socket address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx > 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
