package authz

import (
	"net/url"
	"strings"
)

// Serialize renders the authorization request parameters as a query string.
//
// Keys appear in a fixed order: client_id, redirect_uri, scope, response_type,
// response_mode, code_challenge_method and code_challenge (PKCE only), state,
// nonce, prompt. Keys whose value is empty are omitted. Values are
// form-encoded, so spaces become "+".
func Serialize(p AuthorizationParameters) string {
	var b strings.Builder
	add := func(key, value string) {
		if value == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(value))
	}

	add("client_id", p.ClientID)
	add("redirect_uri", p.CallbackURL)
	add("scope", p.Scope)
	add("response_type", p.ResponseType.String())
	add("response_mode", string(p.ResponseMode))
	// The method is sent only together with a challenge.
	if p.PKCE.Enabled && p.PKCE.Challenge != "" {
		add("code_challenge_method", p.PKCE.Method.WireValue())
		add("code_challenge", p.PKCE.Challenge)
	}
	add("state", p.State)
	add("nonce", p.Nonce)
	add("prompt", p.Prompt)
	return b.String()
}

// BuildAuthorizationURL joins the authorize endpoint and the serialized
// parameters. It refuses to build a request without an authorize URL or
// without at least one response type.
func BuildAuthorizationURL(p AuthorizationParameters) (string, error) {
	if strings.TrimSpace(p.AuthorizeURL) == "" {
		return "", ErrMissingAuthorizeURL
	}
	if p.ResponseType.Len() == 0 {
		return "", ErrEmptyResponseType
	}
	query := Serialize(p)
	sep := "?"
	if strings.Contains(p.AuthorizeURL, "?") {
		sep = "&"
	}
	return p.AuthorizeURL + sep + query, nil
}
