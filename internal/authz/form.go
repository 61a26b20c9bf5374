package authz

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ErrInvalidPKCEFlag is returned when the pkce form value is not a boolean.
var ErrInvalidPKCEFlag = errors.New("invalid pkce flag")

// Form keys understood by ApplyForm. They match the wire names where one exists.
const (
	FormAuthorizeURL = "authorize_url"
	FormTokenURL     = "token_url"
	FormCallbackURL  = "redirect_uri"
	FormClientID     = "client_id"
	FormClientSecret = "client_secret"
	FormScope        = "scope"
	FormState        = "state"
	FormNonce        = "nonce"
	FormPrompt       = "prompt"
	FormResponseType = "response_type"
	FormResponseMode = "response_mode"
	FormPKCE         = "pkce"
	FormPKCEMethod   = "pkce_method"
	FormPKCEVerifier = "pkce_verifier"
)

// ApplyForm sets every field named in values. Keys that are absent leave the
// field alone; keys present with an empty value clear text fields.
// Enumerated values are validated before anything is changed.
func (m *Model) ApplyForm(values url.Values) error {
	var (
		rt      ResponseTypes
		mode    ResponseMode
		method  PKCEMethod
		enabled bool
		err     error
	)
	if values.Has(FormResponseType) {
		if rt, err = ParseResponseTypes(values.Get(FormResponseType)); err != nil {
			return err
		}
	}
	if values.Has(FormResponseMode) {
		if mode, err = ParseResponseMode(values.Get(FormResponseMode)); err != nil {
			return err
		}
	}
	if values.Has(FormPKCEMethod) {
		if method, err = ParsePKCEMethod(values.Get(FormPKCEMethod)); err != nil {
			return err
		}
	}
	if values.Has(FormPKCE) {
		if enabled, err = parseFlag(values.Get(FormPKCE)); err != nil {
			return err
		}
	}

	for _, f := range []struct {
		key string
		set func(string)
	}{
		{FormAuthorizeURL, m.SetAuthorizeURL},
		{FormTokenURL, m.SetTokenURL},
		{FormCallbackURL, m.SetCallbackURL},
		{FormClientID, m.SetClientID},
		{FormClientSecret, m.SetClientSecret},
		{FormScope, m.SetScope},
		{FormState, m.SetState},
		{FormNonce, m.SetNonce},
		{FormPrompt, m.SetPrompt},
	} {
		if values.Has(f.key) {
			f.set(values.Get(f.key))
		}
	}

	if rt != 0 {
		if err := m.SetResponseTypes(rt); err != nil {
			return err
		}
	}
	if mode != "" {
		if err := m.SetResponseMode(mode); err != nil {
			return err
		}
	}
	if method != "" {
		if err := m.SetPKCEMethod(method); err != nil {
			return err
		}
	}
	if values.Has(FormPKCE) {
		if err := m.SetPKCEEnabled(enabled); err != nil {
			return err
		}
	}
	if values.Has(FormPKCEVerifier) {
		m.SetPKCEVerifier(values.Get(FormPKCEVerifier))
	}
	return nil
}

// Form renders p with the keys ApplyForm reads.
func (p AuthorizationParameters) Form() url.Values {
	v := url.Values{}
	v.Set(FormAuthorizeURL, p.AuthorizeURL)
	v.Set(FormTokenURL, p.TokenURL)
	v.Set(FormCallbackURL, p.CallbackURL)
	v.Set(FormClientID, p.ClientID)
	v.Set(FormClientSecret, p.ClientSecret)
	v.Set(FormScope, p.Scope)
	v.Set(FormState, p.State)
	v.Set(FormNonce, p.Nonce)
	v.Set(FormPrompt, p.Prompt)
	v.Set(FormResponseType, p.ResponseType.String())
	v.Set(FormResponseMode, string(p.ResponseMode))
	v.Set(FormPKCE, strconv.FormatBool(p.PKCE.Enabled))
	v.Set(FormPKCEMethod, string(p.PKCE.Method))
	v.Set(FormPKCEVerifier, p.PKCE.Verifier)
	return v
}

func parseFlag(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "yes":
		return true, nil
	case "off", "no", "":
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%w: %q", ErrInvalidPKCEFlag, s)
	}
	return b, nil
}
