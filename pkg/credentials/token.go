package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// AuthError reports that no bearer token could be obtained.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "authentication failed: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// TokenProvider supplies bearer tokens for the scheduling authority. A valid
// token is a precondition of every call; callers do not manage refresh.
type TokenProvider interface {
	GetToken(ctx context.Context) (string, error)
}

// StaticToken always returns the same token. It suits emulators and tests.
type StaticToken string

// GetToken returns the token, or an *AuthError when it is empty.
func (t StaticToken) GetToken(context.Context) (string, error) {
	if t == "" {
		return "", &AuthError{Reason: "static token is empty"}
	}
	return string(t), nil
}

// ClientCredentials identifies a service principal.
type ClientCredentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string
}

// ClientCredentialsFromSettings reads tenant, client id and secret.
func ClientCredentialsFromSettings(s Settings) (ClientCredentials, error) {
	var creds ClientCredentials
	var allErrors []error
	var err error
	if creds.TenantID, err = s.Get(KeyTenantID); err != nil {
		allErrors = append(allErrors, err)
	}
	if creds.ClientID, err = s.Get(KeyClientID); err != nil {
		allErrors = append(allErrors, err)
	}
	if creds.ClientSecret, err = s.Get(KeyClientSecret); err != nil {
		allErrors = append(allErrors, err)
	}
	return creds, errors.Join(allErrors...)
}

// ClientCredentialsTokenProvider obtains tokens with the OAuth2 client
// credentials grant against the environment's tenant-scoped token endpoint.
// Tokens are cached until shortly before they expire.
type ClientCredentialsTokenProvider struct {
	cfg clientcredentials.Config

	mu    sync.Mutex
	token *oauth2.Token
}

// NewClientCredentialsTokenProvider builds a provider. No request is made
// until the first GetToken.
func NewClientCredentialsTokenProvider(env Environment, creds ClientCredentials) (*ClientCredentialsTokenProvider, error) {
	if env.TokenURL == "" {
		return nil, &AuthError{Reason: fmt.Sprintf("environment %q has no token URL", env.Name)}
	}
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, &AuthError{Reason: "client id and secret are required"}
	}
	return &ClientCredentialsTokenProvider{
		cfg: clientcredentials.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			TokenURL:     env.TokenURLFor(creds.TenantID),
			EndpointParams: url.Values{
				"resource": {env.TokenAudience},
			},
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, nil
}

// GetToken returns a valid access token, requesting a new one with ctx when
// the cached token is missing or about to expire.
func (p *ClientCredentialsTokenProvider) GetToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token.Valid() {
		return p.token.AccessToken, nil
	}
	tok, err := p.cfg.Token(ctx)
	if err != nil {
		return "", &AuthError{Reason: "token request failed", Err: err}
	}
	if tok.AccessToken == "" {
		return "", &AuthError{Reason: "token endpoint returned an empty access token"}
	}
	p.token = tok
	return tok.AccessToken, nil
}
