package authz

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Defaults for a fresh model.
const (
	DefaultCallbackURL = "http://localhost:3000/callback"
	DefaultScope       = "openid"
)

// Model is the mutable parameter set for one authorization attempt.
//
// Every setter takes effect immediately: the next Snapshot or AuthorizationURL
// reflects it. Only PKCE edits cascade into other fields; the challenge is
// re-derived whenever the verifier or method changes. S256 digests run on a
// separate goroutine and are applied only if the verifier and method they were
// started with are still current when they finish.
type Model struct {
	mu     sync.Mutex
	params AuthorizationParameters

	deriver     Deriver
	newVerifier func() (string, error)

	status  ChallengeStatus
	err     error
	gen     uint64
	pending bool
	idle    chan struct{} // closed while no derivation is in flight

	subs map[int]chan struct{}
	next int
}

// Option configures a Model.
type Option func(*Model)

// WithDeriver replaces the challenge derivation function.
func WithDeriver(d Deriver) Option {
	return func(m *Model) { m.deriver = d }
}

// WithVerifierSource replaces verifier generation.
func WithVerifierSource(f func() (string, error)) Option {
	return func(m *Model) { m.newVerifier = f }
}

// NewModel returns a model holding the default parameter set: callback
// http://localhost:3000/callback, scope openid, response_type code,
// response_mode query, PKCE disabled with method S256, and a random state.
func NewModel(opts ...Option) *Model {
	idle := make(chan struct{})
	close(idle)
	code, _ := NewResponseTypes(ResponseTypeCode)
	m := &Model{
		params: AuthorizationParameters{
			CallbackURL:  DefaultCallbackURL,
			Scope:        DefaultScope,
			State:        NewState(),
			ResponseType: code,
			ResponseMode: ResponseModeQuery,
			PKCE:         PKCE{Method: PKCEMethodS256},
		},
		deriver:     defaultDeriver,
		newVerifier: GenerateVerifier,
		idle:        idle,
		subs:        make(map[int]chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewState returns a random opaque value for the state parameter.
func NewState() string {
	return uuid.NewString()
}

// NewNonce returns a random opaque value for the nonce parameter.
func NewNonce() string {
	return uuid.NewString()
}

// Snapshot returns a copy of the current parameters.
func (m *Model) Snapshot() AuthorizationParameters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.params
}

func read[T any](m *Model, f func(p *AuthorizationParameters) T) T {
	m.mu.Lock()
	defer m.mu.Unlock()
	return f(&m.params)
}

// update applies f under the lock and notifies subscribers.
func (m *Model) update(f func(p *AuthorizationParameters)) {
	m.mu.Lock()
	f(&m.params)
	m.notifyLocked()
	m.mu.Unlock()
}

// AuthorizeURL returns the authorization endpoint.
func (m *Model) AuthorizeURL() string {
	return read(m, func(p *AuthorizationParameters) string { return p.AuthorizeURL })
}

// SetAuthorizeURL sets the authorization endpoint.
func (m *Model) SetAuthorizeURL(v string) {
	m.update(func(p *AuthorizationParameters) { p.AuthorizeURL = v })
}

// TokenURL returns the token endpoint used for the code exchange.
func (m *Model) TokenURL() string {
	return read(m, func(p *AuthorizationParameters) string { return p.TokenURL })
}

// SetTokenURL sets the token endpoint.
func (m *Model) SetTokenURL(v string) {
	m.update(func(p *AuthorizationParameters) { p.TokenURL = v })
}

// CallbackURL returns the redirect_uri.
func (m *Model) CallbackURL() string {
	return read(m, func(p *AuthorizationParameters) string { return p.CallbackURL })
}

// SetCallbackURL sets the redirect_uri.
func (m *Model) SetCallbackURL(v string) {
	m.update(func(p *AuthorizationParameters) { p.CallbackURL = v })
}

// ClientID returns the client_id.
func (m *Model) ClientID() string {
	return read(m, func(p *AuthorizationParameters) string { return p.ClientID })
}

// SetClientID sets the client_id.
func (m *Model) SetClientID(v string) {
	m.update(func(p *AuthorizationParameters) { p.ClientID = v })
}

// ClientSecret returns the client secret. It is never serialized into the authorization request.
func (m *Model) ClientSecret() string {
	return read(m, func(p *AuthorizationParameters) string { return p.ClientSecret })
}

// SetClientSecret sets the client secret.
func (m *Model) SetClientSecret(v string) {
	m.update(func(p *AuthorizationParameters) { p.ClientSecret = v })
}

// Scope returns the space-separated scope.
func (m *Model) Scope() string {
	return read(m, func(p *AuthorizationParameters) string { return p.Scope })
}

// SetScope sets the scope.
func (m *Model) SetScope(v string) {
	m.update(func(p *AuthorizationParameters) { p.Scope = v })
}

// State returns the state parameter.
func (m *Model) State() string {
	return read(m, func(p *AuthorizationParameters) string { return p.State })
}

// SetState sets the state parameter.
func (m *Model) SetState(v string) {
	m.update(func(p *AuthorizationParameters) { p.State = v })
}

// RegenerateState replaces state with a new random value and returns it.
func (m *Model) RegenerateState() string {
	v := NewState()
	m.SetState(v)
	return v
}

// Nonce returns the nonce. It is empty unless set or regenerated.
func (m *Model) Nonce() string {
	return read(m, func(p *AuthorizationParameters) string { return p.Nonce })
}

// SetNonce sets the nonce.
func (m *Model) SetNonce(v string) {
	m.update(func(p *AuthorizationParameters) { p.Nonce = v })
}

// RegenerateNonce replaces nonce with a new random value and returns it.
func (m *Model) RegenerateNonce() string {
	v := NewNonce()
	m.SetNonce(v)
	return v
}

// Prompt returns the prompt parameter.
func (m *Model) Prompt() string {
	return read(m, func(p *AuthorizationParameters) string { return p.Prompt })
}

// SetPrompt sets the prompt parameter.
func (m *Model) SetPrompt(v string) {
	m.update(func(p *AuthorizationParameters) { p.Prompt = v })
}

// ResponseMode returns the response_mode.
func (m *Model) ResponseMode() ResponseMode {
	return read(m, func(p *AuthorizationParameters) ResponseMode { return p.ResponseMode })
}

// SetResponseMode rejects values outside query, form_post and fragment.
func (m *Model) SetResponseMode(v ResponseMode) error {
	mode, err := ParseResponseMode(string(v))
	if err != nil {
		return err
	}
	m.update(func(p *AuthorizationParameters) { p.ResponseMode = mode })
	return nil
}

// ResponseTypes returns the selected response types.
func (m *Model) ResponseTypes() ResponseTypes {
	return read(m, func(p *AuthorizationParameters) ResponseTypes { return p.ResponseType })
}

// SetResponseTypes replaces the whole set. An empty set is refused.
func (m *Model) SetResponseTypes(s ResponseTypes) error {
	if s.Len() == 0 {
		return ErrEmptyResponseType
	}
	m.update(func(p *AuthorizationParameters) { p.ResponseType = s })
	return nil
}

// HasResponseType reports whether t is selected.
func (m *Model) HasResponseType(t ResponseType) bool {
	return m.ResponseTypes().Contains(t)
}

// AddResponseType selects t.
func (m *Model) AddResponseType(t ResponseType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.params.ResponseType.Add(t); err != nil {
		return err
	}
	m.notifyLocked()
	return nil
}

// RemoveResponseType deselects t. Deselecting the last selected type is
// refused with ErrEmptyResponseType.
func (m *Model) RemoveResponseType(t ResponseType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.params.ResponseType.Remove(t); err != nil {
		return err
	}
	m.notifyLocked()
	return nil
}

// PKCE returns the PKCE sub-record, including the current challenge.
func (m *Model) PKCE() PKCE {
	return read(m, func(p *AuthorizationParameters) PKCE { return p.PKCE })
}

// SetPKCEEnabled toggles PKCE. Enabling generates a new verifier; disabling
// clears verifier and challenge. Setting the current value is a no-op.
func (m *Model) SetPKCEEnabled(enabled bool) error {
	var verifier string
	if enabled {
		v, err := m.newVerifier()
		if err != nil {
			return err
		}
		verifier = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.params.PKCE.Enabled == enabled {
		return nil
	}
	m.params.PKCE.Enabled = enabled
	m.params.PKCE.Verifier = verifier
	m.rederiveLocked()
	m.notifyLocked()
	return nil
}

// SetPKCEMethod changes the challenge method and re-derives the challenge.
func (m *Model) SetPKCEMethod(method PKCEMethod) error {
	parsed, err := ParsePKCEMethod(string(method))
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params.PKCE.Method = parsed
	m.rederiveLocked()
	m.notifyLocked()
	return nil
}

// SetPKCEVerifier replaces the verifier and re-derives the challenge.
func (m *Model) SetPKCEVerifier(v string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params.PKCE.Verifier = v
	m.rederiveLocked()
	m.notifyLocked()
}

// RegeneratePKCEVerifier replaces the verifier with a new random one and returns it.
func (m *Model) RegeneratePKCEVerifier() (string, error) {
	v, err := m.newVerifier()
	if err != nil {
		return "", err
	}
	m.SetPKCEVerifier(v)
	return v, nil
}

// ChallengeStatus reports the derivation state of the PKCE challenge.
func (m *Model) ChallengeStatus() ChallengeStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// ChallengeErr returns the cause of the last failed derivation, if any.
func (m *Model) ChallengeErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// AwaitChallenge waits until no derivation is in flight and returns the
// challenge. It returns the derivation error when the latest derivation failed.
func (m *Model) AwaitChallenge(ctx context.Context) (string, error) {
	for {
		m.mu.Lock()
		idle := m.idle
		if !m.pending {
			defer m.mu.Unlock()
			if m.status == ChallengeFailed {
				return "", m.err
			}
			return m.params.PKCE.Challenge, nil
		}
		m.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// AuthorizationURL waits for a pending PKCE challenge and builds the
// authorization request URL from the current parameters. A failed derivation
// leaves code_challenge out of the URL.
func (m *Model) AuthorizationURL(ctx context.Context) (string, error) {
	if m.PKCE().Enabled {
		if _, err := m.AwaitChallenge(ctx); err != nil && ctx.Err() != nil {
			return "", err
		}
	}
	return BuildAuthorizationURL(m.Snapshot())
}

// Subscribe returns a channel that receives a value after parameter changes,
// including asynchronous challenge updates. Notifications coalesce. The
// returned function cancels the subscription.
func (m *Model) Subscribe() (<-chan struct{}, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	ch := make(chan struct{}, 1)
	m.subs[id] = ch
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

func (m *Model) notifyLocked() {
	for _, ch := range m.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// rederiveLocked recomputes the challenge for the current verifier and method.
func (m *Model) rederiveLocked() {
	m.gen++
	gen := m.gen
	verifier := m.params.PKCE.Verifier
	method := m.params.PKCE.Method

	m.params.PKCE.Challenge = ""
	m.err = nil

	if verifier == "" || method == PKCEMethodPlain {
		challenge, err := DeriveChallenge(verifier, method)
		m.finishLocked(challenge, err)
		return
	}

	m.status = ChallengePending
	if !m.pending {
		m.pending = true
		m.idle = make(chan struct{})
	}

	deriver := m.deriver
	go func() {
		challenge, err := deriver(context.Background(), verifier, method)

		m.mu.Lock()
		defer m.mu.Unlock()
		if gen != m.gen || verifier != m.params.PKCE.Verifier || method != m.params.PKCE.Method {
			return
		}
		m.finishLocked(challenge, err)
		m.notifyLocked()
	}()
}

func (m *Model) finishLocked(challenge string, err error) {
	switch {
	case err != nil:
		m.params.PKCE.Challenge = ""
		m.status = ChallengeFailed
		m.err = err
	case m.params.PKCE.Verifier == "":
		m.params.PKCE.Challenge = ""
		m.status = ChallengeEmpty
	default:
		m.params.PKCE.Challenge = challenge
		m.status = ChallengeReady
	}
	if m.pending {
		m.pending = false
		close(m.idle)
	}
}
