// Package discovery resolves OpenID Provider metadata and verifies ID tokens
// against the provider's published keys.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// ErrMissingIssuer is returned when discovery is attempted without an issuer.
var ErrMissingIssuer = errors.New("issuer is required")

// Metadata is the subset of the discovery document the tool displays and uses.
type Metadata struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	UserinfoEndpoint              string   `json:"userinfo_endpoint,omitempty"`
	JWKSURI                       string   `json:"jwks_uri,omitempty"`
	EndSessionEndpoint            string   `json:"end_session_endpoint,omitempty"`
	ScopesSupported               []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported        []string `json:"response_types_supported,omitempty"`
	ResponseModesSupported        []string `json:"response_modes_supported,omitempty"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
}

// Provider is a discovered OpenID Provider.
type Provider struct {
	Metadata Metadata
	// Raw is the discovery document as served.
	Raw json.RawMessage

	provider   *gooidc.Provider
	httpClient *http.Client
}

// Retry controls how often Discover retries an unreachable issuer.
type Retry struct {
	Attempts int
	Interval time.Duration
}

// NoRetry performs a single attempt.
var NoRetry = Retry{Attempts: 1}

// Discover fetches {issuer}/.well-known/openid-configuration with httpClient.
// Failed attempts are retried per retry until ctx ends.
func Discover(ctx context.Context, httpClient *http.Client, issuer string, retry Retry) (*Provider, error) {
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return nil, ErrMissingIssuer
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if retry.Attempts < 1 {
		retry.Attempts = 1
	}
	ctx = oauth2ClientContext(ctx, httpClient)

	var (
		provider *gooidc.Provider
		err      error
	)
	for i := range retry.Attempts {
		provider, err = gooidc.NewProvider(ctx, issuer)
		if err == nil {
			break
		}
		if i+1 == retry.Attempts {
			break
		}
		slog.Warn("OIDC provider discovery failed, retrying", "issuer", issuer, "attempt", i+1, "max", retry.Attempts, "error", err)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("discover %s: %w", issuer, ctx.Err())
		case <-time.After(retry.Interval):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", issuer, err)
	}

	p := &Provider{provider: provider, httpClient: httpClient}
	if err := provider.Claims(&p.Metadata); err != nil {
		return nil, fmt.Errorf("parse discovery document: %w", err)
	}
	if err := provider.Claims(&p.Raw); err != nil {
		return nil, fmt.Errorf("parse discovery document: %w", err)
	}
	slog.Debug("OIDC provider discovered", "issuer", issuer, "authorization_endpoint", p.Metadata.AuthorizationEndpoint)
	return p, nil
}

// VerifyIDToken checks the signature, issuer, audience and expiry of rawIDToken
// and returns its claims.
func (p *Provider) VerifyIDToken(ctx context.Context, clientID, rawIDToken string) (map[string]any, error) {
	ctx = oauth2ClientContext(ctx, p.httpClient)
	verifier := p.provider.Verifier(&gooidc.Config{ClientID: clientID})
	token, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id_token: %w", err)
	}
	var claims map[string]any
	if err := token.Claims(&claims); err != nil {
		return nil, fmt.Errorf("extract id_token claims: %w", err)
	}
	return claims, nil
}

func oauth2ClientContext(ctx context.Context, c *http.Client) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c)
}
