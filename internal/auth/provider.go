package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ErrTokenRejected is returned by TokenInfo when the issuer answered but
// refused the token (non-2xx). Transport failures are reported as other
// errors so callers can distinguish "token is bad" from "network is bad".
var ErrTokenRejected = errors.New("token rejected by issuer")

// Provider abstracts the identity provider endpoints the session manager
// talks to: the consent redirect, the code exchange, token-info verification
// and best-effort revocation.
type Provider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*Token, error)
	TokenInfo(ctx context.Context, idToken string) (*Claims, error)
	Revoke(ctx context.Context, accessToken string) error
}

const (
	defaultTokenInfoURL = "https://www.googleapis.com/oauth2/v3/tokeninfo"
	defaultRevokeURL    = "https://oauth2.googleapis.com/revoke"
)

// GoogleProvider implements Provider against Google OAuth 2.0 / OIDC.
type GoogleProvider struct {
	config       *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	tokenInfoURL string
	revokeURL    string
	httpClient   *http.Client
	now          func() time.Time
}

// GoogleOption customizes a GoogleProvider.
type GoogleOption func(*GoogleProvider)

// WithTokenInfoURL overrides the token-info endpoint, mainly for tests.
func WithTokenInfoURL(u string) GoogleOption {
	return func(g *GoogleProvider) { g.tokenInfoURL = u }
}

// WithRevokeURL overrides the revocation endpoint, mainly for tests.
func WithRevokeURL(u string) GoogleOption {
	return func(g *GoogleProvider) { g.revokeURL = u }
}

// WithHTTPClient overrides the HTTP client used for token-info and revoke calls.
func WithHTTPClient(c *http.Client) GoogleOption {
	return func(g *GoogleProvider) { g.httpClient = c }
}

// NewGoogleProvider creates a GoogleProvider. OIDC discovery is performed
// against accounts.google.com to obtain an ID token verifier.
func NewGoogleProvider(ctx context.Context, clientID, clientSecret, redirectURL string, opts ...GoogleOption) (*GoogleProvider, error) {
	provider, err := oidc.NewProvider(ctx, "https://accounts.google.com")
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}

	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
	}

	g := &GoogleProvider{
		config:       config,
		verifier:     provider.Verifier(&oidc.Config{ClientID: clientID}),
		tokenInfoURL: defaultTokenInfoURL,
		revokeURL:    defaultRevokeURL,
		httpClient:   &http.Client{Timeout: 12 * time.Second},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// AuthCodeURL generates the consent URL with the given CSRF state. The flow
// requests offline access and forces the account chooser so a previously
// denied user can pick a different account.
func (g *GoogleProvider) AuthCodeURL(state string) string {
	return g.config.AuthCodeURL(
		state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "select_account consent"),
	)
}

// Exchange trades the authorization code for a token. The returned token's
// absolute expiry is computed locally from expires_in. When a verifier is
// available the embedded ID token is verified before the token is returned.
func (g *GoogleProvider) Exchange(ctx context.Context, code string) (*Token, error) {
	tok, err := g.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}

	now := g.now()
	token := &Token{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
	}
	if raw, ok := tok.Extra("id_token").(string); ok {
		token.IDToken = raw
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		token.Scope = scope
	}
	token.ExpiresIn = extractExpiresIn(tok, now)
	if token.ExpiresIn > 0 {
		token.ExpiresAt = now.Unix() + token.ExpiresIn
	}

	if g.verifier != nil {
		if token.IDToken == "" {
			return nil, fmt.Errorf("no id_token in response")
		}
		if _, err := g.verifier.Verify(ctx, token.IDToken); err != nil {
			return nil, fmt.Errorf("verify id_token: %w", err)
		}
	}

	return token, nil
}

func extractExpiresIn(tok *oauth2.Token, now time.Time) int64 {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return int64(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
	}
	// The oauth2 package already derived Expiry from expires_in locally.
	if !tok.Expiry.IsZero() {
		if secs := int64(tok.Expiry.Sub(now).Seconds()); secs > 0 {
			return secs
		}
	}
	return 0
}

// TokenInfo fetches the claims for an ID token from the token-info endpoint.
func (g *GoogleProvider) TokenInfo(ctx context.Context, idToken string) (*Claims, error) {
	endpoint := g.tokenInfoURL + "?id_token=" + url.QueryEscape(idToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("token info request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token info: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w (status %d)", ErrTokenRejected, resp.StatusCode)
	}

	var claims Claims
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("decode token info: %w", err)
	}
	return &claims, nil
}

// Revoke invalidates the token at the provider.
func (g *GoogleProvider) Revoke(ctx context.Context, accessToken string) error {
	endpoint := g.revokeURL + "?token=" + url.QueryEscape(accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(""))
	if err != nil {
		return fmt.Errorf("revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoke: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("revoke: status %d", resp.StatusCode)
	}
	return nil
}

// GenerateState generates a cryptographically secure random state string.
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
