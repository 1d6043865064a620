package dezi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultDiscoveryTTL bounds how long a cached metadata document is served
// before it is refetched.
const DefaultDiscoveryTTL = time.Hour

// Document is the subset of OIDC provider metadata the gateway uses.
type Document struct {
	Issuer                           string   `json:"issuer"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	UserinfoEndpoint                 string   `json:"userinfo_endpoint"`
	JWKSURI                          string   `json:"jwks_uri"`
	ResponseTypesSupported           []string `json:"response_types_supported,omitempty"`
	SubjectTypesSupported            []string `json:"subject_types_supported,omitempty"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported,omitempty"`
	CodeChallengeMethodsSupported    []string `json:"code_challenge_methods_supported,omitempty"`
}

// DiscoveryCache fetches and TTL-caches the IdP metadata document. Concurrent
// misses may each trigger a fetch; the last writer wins, which is benign since
// the document is idempotent per issuer.
type DiscoveryCache struct {
	client *http.Client
	ttl    time.Duration
	now    func() time.Time

	mu        sync.RWMutex
	doc       *Document
	fetchedAt time.Time
}

// NewDiscoveryCache constructs a cache. A nil client falls back to
// http.DefaultClient; a non-positive ttl falls back to DefaultDiscoveryTTL.
func NewDiscoveryCache(client *http.Client, ttl time.Duration) *DiscoveryCache {
	if client == nil {
		client = http.DefaultClient
	}
	if ttl <= 0 {
		ttl = DefaultDiscoveryTTL
	}
	return &DiscoveryCache{client: client, ttl: ttl, now: time.Now}
}

// Fetch returns the metadata document for the issuer, from cache when fresh.
// An entry older than the TTL is discarded and refetched, never served stale.
func (c *DiscoveryCache) Fetch(ctx context.Context, issuer string) (Document, error) {
	c.mu.RLock()
	if c.doc != nil && c.now().Sub(c.fetchedAt) < c.ttl {
		doc := *c.doc
		c.mu.RUnlock()
		return doc, nil
	}
	c.mu.RUnlock()

	wellKnown := strings.TrimSuffix(issuer, "/") + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return Document{}, &DiscoveryError{Issuer: issuer, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Document{}, &DiscoveryError{Issuer: issuer, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Document{}, &DiscoveryError{Issuer: issuer, Status: resp.StatusCode}
	}

	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return Document{}, &DiscoveryError{Issuer: issuer, Err: err}
	}

	c.mu.Lock()
	c.doc = &doc
	c.fetchedAt = c.now()
	c.mu.Unlock()

	return doc, nil
}
