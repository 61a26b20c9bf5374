// Package authz holds the authorization-request parameter engine: the mutable
// parameter model, PKCE challenge derivation and query-string serialization.
package authz

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidResponseType = errors.New("invalid response_type")
	ErrEmptyResponseType   = errors.New("response_type must contain at least one value")
	ErrInvalidResponseMode = errors.New("invalid response_mode")
	ErrInvalidPKCEMethod   = errors.New("invalid PKCE method")
	ErrMissingAuthorizeURL = errors.New("authorize URL is required")
)

// ResponseType is a single OAuth 2.0 response_type token.
type ResponseType string

const (
	ResponseTypeCode    ResponseType = "code"
	ResponseTypeToken   ResponseType = "token"
	ResponseTypeIDToken ResponseType = "id_token"
)

// responseTypeOrder is the canonical serialization order.
var responseTypeOrder = [...]ResponseType{ResponseTypeCode, ResponseTypeToken, ResponseTypeIDToken}

func (t ResponseType) bit() (ResponseTypes, bool) {
	for i, rt := range responseTypeOrder {
		if rt == t {
			return 1 << i, true
		}
	}
	return 0, false
}

// ResponseTypes is a small ordered set of response types. The zero value is empty.
// Members always iterate in the order code, token, id_token regardless of the
// order they were added.
type ResponseTypes uint8

// NewResponseTypes builds a set from the given tokens.
func NewResponseTypes(types ...ResponseType) (ResponseTypes, error) {
	var s ResponseTypes
	for _, t := range types {
		if err := s.Add(t); err != nil {
			return 0, err
		}
	}
	return s, nil
}

// ParseResponseTypes parses a space-delimited response_type value such as "code id_token".
func ParseResponseTypes(s string) (ResponseTypes, error) {
	var types []ResponseType
	for _, f := range strings.Fields(s) {
		types = append(types, ResponseType(f))
	}
	set, err := NewResponseTypes(types...)
	if err != nil {
		return 0, err
	}
	if set.Len() == 0 {
		return 0, ErrEmptyResponseType
	}
	return set, nil
}

// Add inserts t. Adding an existing member is a no-op.
func (s *ResponseTypes) Add(t ResponseType) error {
	b, ok := t.bit()
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidResponseType, t)
	}
	*s |= b
	return nil
}

// Remove deletes t. Removing the last remaining member is refused with
// ErrEmptyResponseType and leaves the set unchanged.
func (s *ResponseTypes) Remove(t ResponseType) error {
	b, ok := t.bit()
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidResponseType, t)
	}
	if *s&^b == 0 && *s != 0 {
		return ErrEmptyResponseType
	}
	*s &^= b
	return nil
}

// Contains reports whether t is a member.
func (s ResponseTypes) Contains(t ResponseType) bool {
	b, ok := t.bit()
	return ok && s&b != 0
}

// Len returns the number of members.
func (s ResponseTypes) Len() int {
	n := 0
	for i := range responseTypeOrder {
		if s&(1<<i) != 0 {
			n++
		}
	}
	return n
}

// Values returns the members in canonical order.
func (s ResponseTypes) Values() []ResponseType {
	var out []ResponseType
	for i, rt := range responseTypeOrder {
		if s&(1<<i) != 0 {
			out = append(out, rt)
		}
	}
	return out
}

// String joins the members with a single space, the OAuth multi-value convention.
func (s ResponseTypes) String() string {
	values := s.Values()
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, " ")
}

// MarshalText implements encoding.TextMarshaler.
func (s ResponseTypes) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ResponseTypes) UnmarshalText(b []byte) error {
	set, err := ParseResponseTypes(string(b))
	if err != nil {
		return err
	}
	*s = set
	return nil
}

// ResponseMode selects how the authorization server delivers its response.
type ResponseMode string

const (
	ResponseModeQuery    ResponseMode = "query"
	ResponseModeFormPost ResponseMode = "form_post"
	ResponseModeFragment ResponseMode = "fragment"
)

// ParseResponseMode validates s against the supported modes.
func ParseResponseMode(s string) (ResponseMode, error) {
	switch m := ResponseMode(s); m {
	case ResponseModeQuery, ResponseModeFormPost, ResponseModeFragment:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidResponseMode, s)
}

// PKCEMethod is the code_challenge_method.
type PKCEMethod string

const (
	PKCEMethodS256  PKCEMethod = "S256"
	PKCEMethodPlain PKCEMethod = "PLAIN"
)

// ParsePKCEMethod accepts "S256" or "plain" in any letter case.
func ParsePKCEMethod(s string) (PKCEMethod, error) {
	switch {
	case strings.EqualFold(s, string(PKCEMethodS256)):
		return PKCEMethodS256, nil
	case strings.EqualFold(s, string(PKCEMethodPlain)):
		return PKCEMethodPlain, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPKCEMethod, s)
}

// WireValue returns the code_challenge_method value defined by RFC 7636.
func (m PKCEMethod) WireValue() string {
	if m == PKCEMethodPlain {
		return "plain"
	}
	return string(m)
}

// PKCE is the PKCE sub-record of the parameter set. Challenge is derived from
// Verifier and Method and is never set by callers.
type PKCE struct {
	Enabled   bool       `json:"enabled"`
	Method    PKCEMethod `json:"method"`
	Verifier  string     `json:"verifier,omitempty"`
	Challenge string     `json:"challenge,omitempty"`
}

// AuthorizationParameters is the working set for one authorization attempt.
type AuthorizationParameters struct {
	AuthorizeURL string        `json:"authorize_url"`
	TokenURL     string        `json:"token_url,omitempty"`
	CallbackURL  string        `json:"callback_url"`
	ClientID     string        `json:"client_id"`
	ClientSecret string        `json:"-"`
	Scope        string        `json:"scope"`
	State        string        `json:"state,omitempty"`
	Nonce        string        `json:"nonce,omitempty"`
	ResponseType ResponseTypes `json:"response_type"`
	ResponseMode ResponseMode  `json:"response_mode"`
	Prompt       string        `json:"prompt,omitempty"`
	PKCE         PKCE          `json:"pkce"`
}
