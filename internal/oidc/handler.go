package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/wadahiro/oauthfiddler/internal/authz"
	"github.com/wadahiro/oauthfiddler/internal/bridge"
	"github.com/wadahiro/oauthfiddler/internal/callback"
	"github.com/wadahiro/oauthfiddler/internal/discovery"
	"github.com/wadahiro/oauthfiddler/internal/exchange"
	"github.com/wadahiro/oauthfiddler/internal/protocol"
)

// ErrUnknownPreset is returned for a preset name that is not configured.
var ErrUnknownPreset = errors.New("unknown preset")

// fragmentNote explains an empty callback: fragment parameters never reach the server.
const fragmentNote = "no parameters received; with response_mode=fragment the browser keeps them, POST the full callback URL to /decode"

// Options configures a Handler.
type Options struct {
	// CallbackURL is the default redirect_uri for new requests.
	CallbackURL string
	// CallbackPath is the path part of CallbackURL served by this handler.
	CallbackPath string
	Presets      []authz.Preset
	Sessions     bridge.Sessions
	HTTPClient   *http.Client
}

// Handler serves the authorization request builder, callback decoder and
// token exchange as a JSON API.
type Handler struct {
	callbackURL  string
	callbackPath string
	sessions     *SessionStore
	exchanger    *exchange.Client
	httpClient   *http.Client

	mu        sync.RWMutex
	presets   []authz.Preset
	providers map[string]*discovery.Provider
}

// NewHandler creates a handler for opts.
func NewHandler(opts Options) *Handler {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.CallbackPath == "" {
		opts.CallbackPath = "/callback"
	}
	if opts.CallbackURL == "" {
		opts.CallbackURL = authz.DefaultCallbackURL
	}
	return &Handler{
		callbackURL:  opts.CallbackURL,
		callbackPath: opts.CallbackPath,
		sessions:     NewSessionStore(opts.Sessions),
		exchanger:    exchange.NewClient(opts.HTTPClient),
		httpClient:   opts.HTTPClient,
		presets:      opts.Presets,
		providers:    make(map[string]*discovery.Provider),
	}
}

// RegisterRoutes registers the handlers on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /presets", h.handlePresets)
	mux.HandleFunc("/authorize", h.handleAuthorize)
	mux.HandleFunc("GET "+h.callbackPath, h.handleCallback)
	mux.HandleFunc("POST "+h.callbackPath, h.handleFormPost)
	mux.HandleFunc("POST /decode", h.handleDecode)
	mux.HandleFunc("POST /exchange", h.handleExchange)
	mux.HandleFunc("GET /discover", h.handleDiscover)
	mux.HandleFunc("POST /clear", h.handleClear)
}

// ResolvePresets discovers the endpoints of every preset that names an issuer
// but no endpoints. Presets whose issuer cannot be reached keep their
// configured values and are retried on first use.
func (h *Handler) ResolvePresets(ctx context.Context, retry discovery.Retry) error {
	h.mu.RLock()
	presets := append([]authz.Preset(nil), h.presets...)
	h.mu.RUnlock()

	var errs []error
	for i, p := range presets {
		if p.Issuer == "" {
			continue
		}
		provider, err := discovery.Discover(ctx, h.httpClient, p.Issuer, retry)
		if err != nil {
			errs = append(errs, fmt.Errorf("preset %s: %w", p.Name, err))
			continue
		}
		h.cacheProvider(p.Issuer, provider)
		presets[i] = withEndpoints(p, provider)
		slog.Info("Preset endpoints discovered", "preset", p.Name, "issuer", p.Issuer)
	}

	h.mu.Lock()
	h.presets = presets
	h.mu.Unlock()
	return errors.Join(errs...)
}

func withEndpoints(p authz.Preset, provider *discovery.Provider) authz.Preset {
	if p.AuthorizeURL == "" {
		p.AuthorizeURL = provider.Metadata.AuthorizationEndpoint
	}
	if p.TokenURL == "" {
		p.TokenURL = provider.Metadata.TokenEndpoint
	}
	return p
}

func (h *Handler) cacheProvider(issuer string, p *discovery.Provider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.providers[issuer] = p
}

// provider returns the discovered provider for issuer, discovering it once.
func (h *Handler) provider(ctx context.Context, issuer string) (*discovery.Provider, error) {
	h.mu.RLock()
	p := h.providers[issuer]
	h.mu.RUnlock()
	if p != nil {
		return p, nil
	}
	p, err := discovery.Discover(ctx, h.httpClient, issuer, discovery.NoRetry)
	if err != nil {
		return nil, err
	}
	h.cacheProvider(issuer, p)
	return p, nil
}

func (h *Handler) findPreset(ctx context.Context, name string) (authz.Preset, error) {
	h.mu.RLock()
	p, ok := authz.FindPreset(h.presets, name)
	h.mu.RUnlock()
	if !ok {
		return authz.Preset{}, fmt.Errorf("%w: %s", ErrUnknownPreset, name)
	}
	if p.Issuer != "" && (p.AuthorizeURL == "" || p.TokenURL == "") {
		provider, err := h.provider(ctx, p.Issuer)
		if err != nil {
			return authz.Preset{}, fmt.Errorf("preset %s: %w", name, err)
		}
		p = withEndpoints(p, provider)
	}
	return p, nil
}

func (h *Handler) handlePresets(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	presets := append([]authz.Preset{}, h.presets...)
	h.mu.RUnlock()
	writeJSON(w, http.StatusOK, presets)
}

// handleAuthorize builds an authorization request from the query or form,
// bridges the parameters the callback needs and redirects to the
// authorization server. With dry_run set it answers the URL as JSON instead.
func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}

	m := authz.NewModel()
	m.SetCallbackURL(h.callbackURL)
	if name := r.Form.Get("preset"); name != "" {
		p, err := h.findPreset(r.Context(), name)
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, ErrUnknownPreset) {
				status = http.StatusBadRequest
			}
			writeError(w, status, "invalid_preset", err)
			return
		}
		if err := m.ApplyPreset(p); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_preset", err)
			return
		}
	}
	if err := m.ApplyForm(r.Form); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}

	authURL, err := m.AuthorizationURL(r.Context())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := m.ChallengeErr(); err != nil {
		slog.Warn("PKCE challenge derivation failed", "error", err)
	}

	store, err := h.sessions.GetOrCreate(w, r)
	if err != nil {
		slog.Error("Failed to open session", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", err)
		return
	}
	params := m.Snapshot()
	if err := bridge.Save(r.Context(), store, bridge.SnapshotOf(params)); err != nil {
		slog.Error("Failed to save bridge snapshot", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", err)
		return
	}

	if isTrue(r.Form.Get("dry_run")) {
		resp := authorizeResponse{
			AuthorizationURL: authURL,
			Params:           protocol.ParseURLParams(authURL),
			Parameters:       params,
			ChallengeStatus:  m.ChallengeStatus().String(),
		}
		if err := m.ChallengeErr(); err != nil {
			resp.ChallengeError = err.Error()
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	slog.Debug("Redirecting to authorization endpoint", "url", authURL)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleFormPost relays a form_post response to a GET of the callback path so
// it is decoded like a query response.
func (h *Handler) handleFormPost(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	http.Redirect(w, r, callback.RelayURL(h.callbackPath, r.PostForm), http.StatusSeeOther)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	res := callback.Decode(r.URL.RequestURI())
	writeJSON(w, http.StatusOK, h.buildCallbackResponse(r, res))
}

// handleDecode decodes a callback URL pasted by the user, which is the only
// way fragment responses reach the server.
func (h *Handler) handleDecode(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	raw := r.PostForm.Get("url")
	if strings.TrimSpace(raw) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", errors.New("url is required"))
		return
	}
	writeJSON(w, http.StatusOK, h.buildCallbackResponse(r, callback.Decode(raw)))
}

func (h *Handler) buildCallbackResponse(r *http.Request, res callback.Result) callbackResponse {
	resp := callbackResponse{
		Result: res,
		Fields: res.Fields(),
		Claims: res.Claims(),
	}
	if res.IDTokenError != nil {
		resp.IDTokenError = res.IDTokenError.Error()
	}
	if res.ParamsError != nil {
		resp.ParamsError = res.ParamsError.Error()
	}
	if len(res.Params) == 0 {
		resp.Note = fragmentNote
	}

	if res.Code == "" {
		return resp
	}
	snap, err := h.snapshot(r)
	if err != nil {
		slog.Warn("Failed to load bridge snapshot", "error", err)
		return resp
	}
	req := exchange.RequestFromSnapshot(snap, res.Code)
	resp.Exchange = &exchangePreview{Request: req, Preview: req.Preview()}
	return resp
}

func (h *Handler) snapshot(r *http.Request) (bridge.Snapshot, error) {
	store, err := h.sessions.Get(r)
	if err != nil || store == nil {
		return bridge.Snapshot{}, err
	}
	return bridge.Load(r.Context(), store)
}

// handleExchange redeems a code with the bridged parameters. Any bridged
// value may be overridden by a form field of the same name.
func (h *Handler) handleExchange(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	snap, err := h.snapshot(r)
	if err != nil {
		slog.Error("Failed to load bridge snapshot", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", err)
		return
	}

	req := exchange.RequestFromSnapshot(snap, r.PostForm.Get("code"))
	for key, dst := range map[string]*string{
		"token_url":     &req.TokenURL,
		"redirect_uri":  &req.RedirectURI,
		"client_id":     &req.ClientID,
		"client_secret": &req.ClientSecret,
		"scope":         &req.Scope,
		"code_verifier": &req.CodeVerifier,
	} {
		if r.PostForm.Has(key) {
			*dst = r.PostForm.Get(key)
		}
	}

	res, err := h.exchanger.Exchange(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if issuer := r.PostForm.Get("issuer"); issuer != "" && res.IDToken != "" {
		if p, err := h.provider(r.Context(), issuer); err != nil {
			res.IDTokenVerifyError = err.Error()
		} else {
			res.VerifyIDToken(r.Context(), p, req.ClientID)
		}
	}
	writeJSON(w, http.StatusOK, exchangeResponse{Request: req, Preview: req.Preview(), Result: res})
}

func (h *Handler) handleDiscover(w http.ResponseWriter, r *http.Request) {
	issuer := r.URL.Query().Get("issuer")
	if issuer == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", discovery.ErrMissingIssuer)
		return
	}
	p, err := h.provider(r.Context(), issuer)
	if err != nil {
		writeError(w, http.StatusBadGateway, "discovery_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, discoverResponse{Metadata: p.Metadata, Raw: p.Raw})
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(w, r); err != nil {
		slog.Warn("Failed to delete session", "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func isTrue(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Warn("Failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, errorResponse{Error: code, ErrorDescription: protocol.CleanGoErrorMessage(err.Error())})
}
