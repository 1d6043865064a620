// Package dezi implements the relying-party side of the Dezi OIDC
// Authorization Code flow with PKCE: discovery, authorization request
// construction, token exchange, and the encrypted-then-signed userinfo
// pipeline.
package dezi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Config holds the relying-party registration with the Dezi IdP. All fields
// except ClientSecret and Scopes are required.
type Config struct {
	Issuer        string
	ClientID      string
	ClientSecret  string
	RedirectURI   string
	PrivateKeyPEM string
	Scopes        []string
	DiscoveryTTL  time.Duration
}

// Client drives the authorization-code flow against the Dezi IdP.
type Client struct {
	cfg       Config
	http      *http.Client
	logger    *slog.Logger
	Discovery *DiscoveryCache

	mu      sync.Mutex
	keySets map[string]oidc.KeySet
	now     func() time.Time
}

// New constructs a client. A nil httpClient gets a 30-second timeout default.
func New(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{oidc.ScopeOpenID}
	}
	return &Client{
		cfg:       cfg,
		http:      httpClient,
		logger:    logger,
		Discovery: NewDiscoveryCache(httpClient, cfg.DiscoveryTTL),
		keySets:   make(map[string]oidc.KeySet),
		now:       time.Now,
	}
}

// Discover returns the IdP metadata for the configured issuer.
func (c *Client) Discover(ctx context.Context) (Document, error) {
	return c.Discovery.Fetch(ctx, c.cfg.Issuer)
}

// StartLogin prepares one authorization flow: discovery, fresh PKCE material,
// and the redirect URL to the IdP.
func (c *Client) StartLogin(ctx context.Context) (string, PKCEParams, error) {
	doc, err := c.Discover(ctx)
	if err != nil {
		return "", PKCEParams{}, err
	}
	p := GeneratePKCE()
	authURL := BuildAuthorizationURL(doc.AuthorizationEndpoint, c.cfg.ClientID, c.cfg.RedirectURI, p, c.cfg.Scopes)
	return authURL, p, nil
}

// keySetFor returns the verification key set for a jwks_uri. Remote key sets
// cache fetched keys internally, so one instance is shared per URI.
func (c *Client) keySetFor(jwksURI string) oidc.KeySet {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ks, ok := c.keySets[jwksURI]; ok {
		return ks
	}
	ctx := oidc.ClientContext(context.Background(), c.http)
	ks := oidc.NewRemoteKeySet(ctx, jwksURI)
	c.keySets[jwksURI] = ks
	return ks
}
