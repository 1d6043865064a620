package dezi

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// TokenResponse mirrors the token endpoint payload. It is transient: the
// access token only authorizes the userinfo fetch and is never persisted.
type TokenResponse struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int64
	IDToken     string
	Scope       string
}

// Exchange redeems the authorization code with the code verifier. When a
// client secret is configured the request authenticates with HTTP Basic.
// There is no retry: codes are single-use and a failed exchange is terminal.
func (c *Client) Exchange(ctx context.Context, tokenEndpoint, code, codeVerifier string) (*TokenResponse, error) {
	endpoint := oauth2.Endpoint{TokenURL: tokenEndpoint, AuthStyle: oauth2.AuthStyleInParams}
	if c.cfg.ClientSecret != "" {
		endpoint.AuthStyle = oauth2.AuthStyleInHeader
	}
	conf := &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		RedirectURL:  c.cfg.RedirectURI,
		Endpoint:     endpoint,
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	tok, err := conf.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			status := 0
			if re.Response != nil {
				status = re.Response.StatusCode
			}
			return nil, &TokenExchangeError{Status: status, Body: string(re.Body)}
		}
		return nil, &TokenExchangeError{Err: err}
	}

	resp := &TokenResponse{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		resp.ExpiresIn = int64(time.Until(tok.Expiry).Seconds())
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		resp.IDToken = idToken
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		resp.Scope = scope
	}
	return resp, nil
}
