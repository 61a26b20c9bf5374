// Package bridge carries the parameters needed by the callback page across
// the navigation to the authorization server and back.
package bridge

import (
	"context"
	"fmt"

	"github.com/wadahiro/oauthfiddler/internal/authz"
)

// Keys written by Save. The names are part of the persisted contract.
const (
	KeyAuthorizeURL = "authoriseUrl"
	KeyTokenURL     = "tokenUrl"
	KeyCallbackURL  = "callbackUrl"
	KeyClientID     = "clientId"
	KeyClientSecret = "clientSecret"
	KeyScope        = "scope"
	KeyPKCEVerifier = "pkceVerifier"
)

// Store is a string key/value store scoped to one browser session.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Clear(ctx context.Context) error
}

// Snapshot is the subset of the authorization parameters the callback side
// needs to exchange a code.
type Snapshot struct {
	AuthorizeURL string `json:"authorize_url,omitempty"`
	TokenURL     string `json:"token_url,omitempty"`
	CallbackURL  string `json:"callback_url,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"-"`
	Scope        string `json:"scope,omitempty"`
	PKCEVerifier string `json:"-"`
}

// SnapshotOf copies the bridged fields out of p. The verifier is only carried
// when PKCE is enabled.
func SnapshotOf(p authz.AuthorizationParameters) Snapshot {
	s := Snapshot{
		AuthorizeURL: p.AuthorizeURL,
		TokenURL:     p.TokenURL,
		CallbackURL:  p.CallbackURL,
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		Scope:        p.Scope,
	}
	if p.PKCE.Enabled {
		s.PKCEVerifier = p.PKCE.Verifier
	}
	return s
}

func (s *Snapshot) fields() []struct {
	key string
	val *string
} {
	return []struct {
		key string
		val *string
	}{
		{KeyAuthorizeURL, &s.AuthorizeURL},
		{KeyTokenURL, &s.TokenURL},
		{KeyCallbackURL, &s.CallbackURL},
		{KeyClientID, &s.ClientID},
		{KeyClientSecret, &s.ClientSecret},
		{KeyScope, &s.Scope},
		{KeyPKCEVerifier, &s.PKCEVerifier},
	}
}

// Save writes every key of snap to store, empty values included, so a
// previous navigation's values never leak into this one.
func Save(ctx context.Context, store Store, snap Snapshot) error {
	for _, f := range snap.fields() {
		if err := store.Set(ctx, f.key, *f.val); err != nil {
			return fmt.Errorf("bridge: set %s: %w", f.key, err)
		}
	}
	return nil
}

// Load reads a Snapshot from store. Missing keys read as empty strings.
func Load(ctx context.Context, store Store) (Snapshot, error) {
	var snap Snapshot
	for _, f := range snap.fields() {
		v, _, err := store.Get(ctx, f.key)
		if err != nil {
			return Snapshot{}, fmt.Errorf("bridge: get %s: %w", f.key, err)
		}
		*f.val = v
	}
	return snap, nil
}
