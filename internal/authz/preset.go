package authz

import "fmt"

// Preset prefills the provider-specific parts of a parameter set.
// Empty string fields keep the model's defaults except where noted.
type Preset struct {
	Name         string `json:"name"`
	Issuer       string `json:"issuer,omitempty"`
	AuthorizeURL string `json:"authorize_url"`
	TokenURL     string `json:"token_url"`
	ClientID     string `json:"client_id,omitempty"`
	Scope        string `json:"scope,omitempty"`
	Prompt       string `json:"prompt,omitempty"`
	ResponseType string `json:"response_type,omitempty"`
	ResponseMode string `json:"response_mode,omitempty"`
	PKCE         bool   `json:"pkce"`
	PKCEMethod   string `json:"pkce_method,omitempty"`
}

// DefaultPresets returns the built-in provider presets.
func DefaultPresets() []Preset {
	return []Preset{
		{
			Name:         "Google",
			AuthorizeURL: "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:     "https://oauth2.googleapis.com/token",
			Prompt:       "consent select_account",
			PKCE:         true,
			PKCEMethod:   "S256",
			ResponseMode: "query",
			ResponseType: "code",
			Scope:        "openid",
		},
		{
			Name:         "Facebook",
			AuthorizeURL: "https://www.facebook.com/v14.0/dialog/oauth",
			TokenURL:     "https://graph.facebook.com/v14.0/oauth/access_token",
		},
	}
}

// FindPreset returns the preset with the given name.
func FindPreset(presets []Preset, name string) (Preset, bool) {
	for _, p := range presets {
		if p.Name == name {
			return p, true
		}
	}
	return Preset{}, false
}

// ApplyPreset loads p into the model. Endpoints and prompt are always
// replaced; scope, client id, response type, response mode and PKCE method
// are replaced only when the preset sets them. PKCE is switched on or off to
// match the preset, which regenerates or clears the verifier.
// Nothing is changed when the preset holds an invalid value.
func (m *Model) ApplyPreset(p Preset) error {
	var (
		rt     ResponseTypes
		mode   ResponseMode
		method PKCEMethod
		err    error
	)
	if p.ResponseType != "" {
		if rt, err = ParseResponseTypes(p.ResponseType); err != nil {
			return fmt.Errorf("preset %s: %w", p.Name, err)
		}
	}
	if p.ResponseMode != "" {
		if mode, err = ParseResponseMode(p.ResponseMode); err != nil {
			return fmt.Errorf("preset %s: %w", p.Name, err)
		}
	}
	if p.PKCEMethod != "" {
		if method, err = ParsePKCEMethod(p.PKCEMethod); err != nil {
			return fmt.Errorf("preset %s: %w", p.Name, err)
		}
	}

	m.update(func(params *AuthorizationParameters) {
		params.AuthorizeURL = p.AuthorizeURL
		params.TokenURL = p.TokenURL
		params.Prompt = p.Prompt
		if p.ClientID != "" {
			params.ClientID = p.ClientID
		}
		if p.Scope != "" {
			params.Scope = p.Scope
		}
		if rt != 0 {
			params.ResponseType = rt
		}
		if mode != "" {
			params.ResponseMode = mode
		}
	})
	if method != "" {
		if err := m.SetPKCEMethod(method); err != nil {
			return err
		}
	}
	return m.SetPKCEEnabled(p.PKCE)
}
