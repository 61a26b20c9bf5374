// Package callback decodes the parameters an authorization server sends back
// to the redirect URI.
package callback

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/wadahiro/oauthfiddler/internal/protocol"
)

// ResponseMethodParam is the marker the form_post relay appends when it
// re-issues a POSTed authorization response as a GET.
const ResponseMethodParam = "response_method"

// legacyResponseMethodParam is the misspelled marker emitted by older relays.
const legacyResponseMethodParam = "reponse_method"

// ErrMalformedIDToken is attached to Result.IDTokenError when id_token cannot be decoded.
var ErrMalformedIDToken = errors.New("malformed id_token")

// Result is the decoded view of one callback. It is built once by Decode and
// not modified afterwards.
type Result struct {
	ResponseMethod   string `json:"response_method,omitempty"`
	State            string `json:"state,omitempty"`
	Code             string `json:"code,omitempty"`
	IDToken          string `json:"id_token,omitempty"`
	AccessToken      string `json:"access_token,omitempty"`
	TokenType        string `json:"token_type,omitempty"`
	ExpiresIn        string `json:"expires_in,omitempty"`
	Scope            string `json:"scope,omitempty"`
	SessionState     string `json:"session_state,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`

	// IDTokenHeader and IDTokenDecoded are set only when IDToken is present and well-formed.
	IDTokenHeader  map[string]any `json:"id_token_header,omitempty"`
	IDTokenDecoded map[string]any `json:"id_token_decoded,omitempty"`
	// IDTokenError is set when IDToken is present but cannot be decoded.
	IDTokenError error `json:"-"`
	// ParamsError is set when part of the input could not be parsed.
	ParamsError error `json:"-"`

	// Params holds every received parameter, sorted by key.
	Params []protocol.KeyValue `json:"params,omitempty"`
}

// Decode parses a callback URL, "?query", "#fragment" or bare query string.
// Query and fragment parameters are merged, the fragment winning on
// conflicts, so fragment-mode responses decode the same way as query-mode ones.
// Decode never fails: problems are attached to the affected fields.
func Decode(raw string) Result {
	values, err := protocol.ParseURLValues(raw)
	r := Result{
		ResponseMethod:   values.Get(ResponseMethodParam),
		State:            values.Get("state"),
		Code:             values.Get("code"),
		IDToken:          values.Get("id_token"),
		AccessToken:      values.Get("access_token"),
		TokenType:        values.Get("token_type"),
		ExpiresIn:        values.Get("expires_in"),
		Scope:            values.Get("scope"),
		SessionState:     values.Get("session_state"),
		Error:            values.Get("error"),
		ErrorDescription: values.Get("error_description"),
		ErrorURI:         values.Get("error_uri"),
		Params:           protocol.SortedParams(values),
	}
	if r.ResponseMethod == "" {
		r.ResponseMethod = values.Get(legacyResponseMethodParam)
	}
	if err != nil {
		r.ParamsError = fmt.Errorf("parse callback parameters: %w", err)
	}

	if r.IDToken != "" {
		claims, err := protocol.DecodeJWTPayload(r.IDToken)
		if err != nil {
			r.IDTokenError = fmt.Errorf("%w: %w", ErrMalformedIDToken, err)
		} else {
			r.IDTokenDecoded = claims
			r.IDTokenHeader, _ = protocol.DecodeJWTHeader(r.IDToken)
		}
	}
	return r
}

// DecodeValues decodes already-parsed parameters, such as a form_post body.
func DecodeValues(values url.Values) Result {
	return Decode("?" + values.Encode())
}

// MarshalJSON renders the decode errors as "id_token_error" and
// "params_error" strings next to the decoded fields.
func (r Result) MarshalJSON() ([]byte, error) {
	type result Result
	return json.Marshal(struct {
		result
		IDTokenError string `json:"id_token_error,omitempty"`
		ParamsError  string `json:"params_error,omitempty"`
	}{
		result:       result(r),
		IDTokenError: errorText(r.IDTokenError),
		ParamsError:  errorText(r.ParamsError),
	})
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsError reports whether the authorization server returned an error response.
func (r Result) IsError() bool {
	return r.Error != ""
}

// Field is one labelled value of a Result, in display order.
type Field struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Value string `json:"value"`
}

// Fields returns the present fields of r in display order. Absent values are
// left out rather than shown empty. A malformed ID token contributes an
// "id_token_error" field in place of the decoded claims.
func (r Result) Fields() []Field {
	decoded := ""
	if r.IDTokenDecoded != nil {
		if b, err := json.MarshalIndent(r.IDTokenDecoded, "", "  "); err == nil {
			decoded = string(b)
		}
	}
	idTokenErr := errorText(r.IDTokenError)
	candidates := []Field{
		{"response_method", "Response Method", r.ResponseMethod},
		{"state", "State", r.State},
		{"code", "Authorization Code", r.Code},
		{"id_token", "ID Token", r.IDToken},
		{"id_token_decoded", "ID Token (Decoded)", decoded},
		{"id_token_error", "ID Token Decode Error", idTokenErr},
		{"access_token", "Access Token", r.AccessToken},
		{"token_type", "Token Type", r.TokenType},
		{"expires_in", "Expires In", r.ExpiresIn},
		{"scope", "Scope", r.Scope},
		{"session_state", "Session State", r.SessionState},
		{"error", "Error", r.Error},
		{"error_description", "Error Description", r.ErrorDescription},
		{"error_uri", "Error URI", r.ErrorURI},
	}
	var out []Field
	for _, f := range candidates {
		if f.Value != "" {
			out = append(out, f)
		}
	}
	return out
}

// Claims returns the decoded ID token claims as sorted key/value pairs, with
// timestamp claims annotated for display.
func (r Result) Claims() []protocol.KeyValue {
	var out []protocol.KeyValue
	for _, k := range protocol.SortedKeys(r.IDTokenDecoded) {
		out = append(out, protocol.KeyValue{Key: k, Value: protocol.FormatClaimValue(k, r.IDTokenDecoded[k])})
	}
	return out
}
