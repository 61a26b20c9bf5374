// Package exchange redeems an authorization code at a token endpoint and
// keeps the raw response for display.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/wadahiro/oauthfiddler/internal/bridge"
	"github.com/wadahiro/oauthfiddler/internal/protocol"
)

var (
	// ErrMissingTokenURL is returned when no token endpoint is known.
	ErrMissingTokenURL = errors.New("token URL is required")
	// ErrMissingCode is returned when there is no authorization code to redeem.
	ErrMissingCode = errors.New("authorization code is required")
)

// Request is one authorization_code grant.
type Request struct {
	TokenURL     string `json:"token_url"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	Scope        string `json:"scope,omitempty"`
	CodeVerifier string `json:"code_verifier,omitempty"`
}

// RequestFromSnapshot builds the grant for code from the bridged parameters.
func RequestFromSnapshot(snap bridge.Snapshot, code string) Request {
	return Request{
		TokenURL:     snap.TokenURL,
		Code:         code,
		RedirectURI:  snap.CallbackURL,
		ClientID:     snap.ClientID,
		ClientSecret: snap.ClientSecret,
		Scope:        snap.Scope,
		CodeVerifier: snap.PKCEVerifier,
	}
}

// Validate reports missing required fields.
func (r Request) Validate() error {
	var errs []error
	if strings.TrimSpace(r.TokenURL) == "" {
		errs = append(errs, ErrMissingTokenURL)
	}
	if r.Code == "" {
		errs = append(errs, ErrMissingCode)
	}
	return errors.Join(errs...)
}

// Form returns the form body the token endpoint receives. Empty values are
// omitted; grant_type is always authorization_code.
func (r Request) Form() url.Values {
	v := url.Values{}
	for _, f := range []struct{ key, val string }{
		{"code", r.Code},
		{"redirect_uri", r.RedirectURI},
		{"client_id", r.ClientID},
		{"client_secret", r.ClientSecret},
		{"scope", r.Scope},
		{"grant_type", "authorization_code"},
		{"code_verifier", r.CodeVerifier},
	} {
		if f.val != "" {
			v.Set(f.key, f.val)
		}
	}
	return v
}

// Preview renders the request as it will be sent.
func (r Request) Preview() string {
	return protocol.FormatFormPreview(r.TokenURL, r.Form())
}

// Result is the outcome of one exchange. Transport and protocol failures are
// reported in Error; the raw response is kept whenever one was received.
type Result struct {
	StatusCode  int         `json:"status_code,omitempty"`
	StatusLine  string      `json:"status_line,omitempty"`
	Headers     http.Header `json:"headers,omitempty"`
	RawBody     string      `json:"raw_body,omitempty"`
	PrettyBody  string      `json:"pretty_body,omitempty"`
	RequestBody string      `json:"request_body,omitempty"`

	AccessToken  string `json:"access_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`

	// IDTokenAlg and IDTokenKid come from the ID token's JOSE header.
	IDTokenAlg string `json:"id_token_alg,omitempty"`
	IDTokenKid string `json:"id_token_kid,omitempty"`
	// AccessTokenClaims is set when the access token is itself a JWT.
	AccessTokenClaims map[string]any `json:"access_token_claims,omitempty"`

	IDTokenVerified    bool           `json:"id_token_verified,omitempty"`
	IDTokenVerifyError string         `json:"id_token_verify_error,omitempty"`
	IDTokenClaims      map[string]any `json:"id_token_claims,omitempty"`

	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
}

// OK reports whether the endpoint issued a token.
func (r *Result) OK() bool {
	return r.Error == "" && r.AccessToken != ""
}

// Client performs token exchanges over an HTTP client.
type Client struct {
	httpClient *http.Client
}

// NewClient wraps httpClient. A nil client uses http.DefaultClient.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient}
}

// Exchange sends req once. It returns an error only when req is invalid;
// everything that happens on the wire is described by the Result.
func (c *Client) Exchange(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ct := newCapturingTransport(c.httpClient.Transport)
	hc := *c.httpClient
	hc.Transport = ct
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &hc)

	conf := &oauth2.Config{
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		RedirectURL:  req.RedirectURI,
		Endpoint: oauth2.Endpoint{
			TokenURL:  req.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	var opts []oauth2.AuthCodeOption
	if req.Scope != "" {
		opts = append(opts, oauth2.SetAuthURLParam("scope", req.Scope))
	}
	if req.CodeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(req.CodeVerifier))
	}

	token, err := conf.Exchange(ctx, req.Code, opts...)

	res := &Result{}
	if c := ct.LastCapture(); c != nil {
		res.StatusCode = c.StatusCode
		res.StatusLine = protocol.FormatHTTPStatusLine(c.StatusCode)
		res.Headers = c.Headers
		res.RawBody = string(c.Body)
		res.RequestBody = string(c.RequestBody)
		if protocol.IsJSONContentType(c.Headers.Get("Content-Type")) {
			res.PrettyBody = protocol.PrettyJSON(c.Body)
		}
	}

	if err != nil {
		code, desc, uri := extractOAuthError(err)
		if code == "" {
			code = "token_exchange_failed"
			desc = protocol.CleanGoErrorMessage(err.Error())
		}
		res.Error, res.ErrorDescription, res.ErrorURI = code, desc, uri
		slog.Warn("Token exchange failed", "token_url", req.TokenURL, "status", res.StatusCode, "error", err)
		return res, nil
	}

	res.AccessToken = token.AccessToken
	res.TokenType = token.TokenType
	res.RefreshToken = token.RefreshToken
	if idToken, ok := token.Extra("id_token").(string); ok {
		res.IDToken = idToken
		res.IDTokenAlg, res.IDTokenKid = protocol.ExtractJWTHeaderInfo(idToken)
	}
	if protocol.IsJWT(res.AccessToken) {
		if claims, err := protocol.DecodeJWTPayload(res.AccessToken); err == nil {
			res.AccessTokenClaims = claims
		}
	}
	slog.Debug("Token exchange succeeded", "token_url", req.TokenURL, "status", res.StatusCode)
	return res, nil
}

// extractOAuthError extracts RFC 6749 error fields from an oauth2.RetrieveError.
// All fields are empty when err is not one or the body carried no error code.
func extractOAuthError(err error) (code, description, uri string) {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return re.ErrorCode, re.ErrorDescription, re.ErrorURI
	}
	return "", "", ""
}

// IDTokenVerifier checks an ID token's signature and standard claims.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, clientID, rawIDToken string) (map[string]any, error)
}

// VerifyIDToken verifies the issued ID token with v and records the outcome
// on r. It does nothing when no ID token was issued.
func (r *Result) VerifyIDToken(ctx context.Context, v IDTokenVerifier, clientID string) {
	if r.IDToken == "" || v == nil {
		return
	}
	claims, err := v.VerifyIDToken(ctx, clientID, r.IDToken)
	if err != nil {
		r.IDTokenVerifyError = err.Error()
		return
	}
	r.IDTokenVerified = true
	r.IDTokenClaims = claims
}

// String renders a one-line summary of the outcome.
func (r *Result) String() string {
	if r.Error != "" {
		if r.ErrorDescription != "" {
			return fmt.Sprintf("%s: %s", r.Error, r.ErrorDescription)
		}
		return r.Error
	}
	return fmt.Sprintf("%s token issued", r.TokenType)
}
