package dezi

import "golang.org/x/oauth2"

// BuildAuthorizationURL composes the redirect URL to the IdP's authorization
// endpoint with the standard code-flow parameters. Pure function; validating
// the inputs is the caller's concern.
func BuildAuthorizationURL(endpoint, clientID, redirectURI string, p PKCEParams, scopes []string) string {
	conf := oauth2.Config{
		ClientID:    clientID,
		RedirectURL: redirectURI,
		Scopes:      scopes,
		Endpoint:    oauth2.Endpoint{AuthURL: endpoint},
	}
	return conf.AuthCodeURL(p.State,
		oauth2.SetAuthURLParam("nonce", p.Nonce),
		oauth2.SetAuthURLParam("code_challenge", p.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}
