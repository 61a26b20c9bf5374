package oidc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/wadahiro/oauthfiddler/internal/authz"
	"github.com/wadahiro/oauthfiddler/internal/bridge"
	"github.com/wadahiro/oauthfiddler/internal/discovery"
)

func newTestMux(t *testing.T, opts Options) (*Handler, *http.ServeMux) {
	t.Helper()
	if opts.Sessions == nil {
		opts.Sessions = bridge.NewMemorySessions(time.Minute)
	}
	if opts.Presets == nil {
		opts.Presets = authz.DefaultPresets()
	}
	h := NewHandler(opts)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return h, mux
}

func serve(mux *http.ServeMux, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	return w
}

func postForm(target string, form url.Values) *http.Request {
	r := httptest.NewRequest("POST", target, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookie {
			return c
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

const exampleQuery = "authorize_url=https%3A%2F%2Fidp.example%2Fauth&client_id=abc&redirect_uri=https%3A%2F%2Fapp.example%2Fcallback&state=s1&nonce=n1"

func TestHandleAuthorizeDryRun(t *testing.T) {
	_, mux := newTestMux(t, Options{})
	w := serve(mux, httptest.NewRequest("GET", "/authorize?dry_run=1&"+exampleQuery, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	resp := decodeBody[authorizeResponse](t, w)
	want := "https://idp.example/auth?client_id=abc&redirect_uri=https%3A%2F%2Fapp.example%2Fcallback&scope=openid&response_type=code&response_mode=query&state=s1&nonce=n1"
	if resp.AuthorizationURL != want {
		t.Errorf("authorization_url = %s\nwant %s", resp.AuthorizationURL, want)
	}
	if resp.ChallengeStatus != "empty" {
		t.Errorf("challenge_status = %q", resp.ChallengeStatus)
	}
	if len(resp.Params) != 7 {
		t.Errorf("params = %v", resp.Params)
	}

	c := sessionCookie(t, w)
	if !c.HttpOnly || c.MaxAge != 0 || !c.Expires.IsZero() {
		t.Errorf("cookie = %+v, want HttpOnly session cookie", c)
	}
	if c.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want Lax over http", c.SameSite)
	}
}

func TestHandleAuthorizeRedirect(t *testing.T) {
	_, mux := newTestMux(t, Options{})
	w := serve(mux, httptest.NewRequest("GET", "/authorize?"+exampleQuery+"&pkce=on", nil))
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	if loc.Host != "idp.example" || loc.Path != "/auth" {
		t.Errorf("Location = %s", loc)
	}
	q := loc.Query()
	if q.Get("code_challenge_method") != "S256" || len(q.Get("code_challenge")) != 43 {
		t.Errorf("PKCE params = %v", q)
	}
}

func TestHandleAuthorizePreset(t *testing.T) {
	_, mux := newTestMux(t, Options{CallbackURL: "http://localhost:8080/cb"})
	w := serve(mux, httptest.NewRequest("GET", "/authorize?dry_run=true&preset=Google&client_id=abc", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	resp := decodeBody[authorizeResponse](t, w)
	if !strings.HasPrefix(resp.AuthorizationURL, "https://accounts.google.com/o/oauth2/v2/auth?client_id=abc&redirect_uri=http%3A%2F%2Flocalhost%3A8080%2Fcb&") {
		t.Errorf("authorization_url = %s", resp.AuthorizationURL)
	}
	if !strings.HasSuffix(resp.AuthorizationURL, "&prompt=consent+select_account") {
		t.Errorf("authorization_url missing preset prompt: %s", resp.AuthorizationURL)
	}
	if !resp.Parameters.PKCE.Enabled || resp.ChallengeStatus != "ready" {
		t.Errorf("pkce = %+v, status %q", resp.Parameters.PKCE, resp.ChallengeStatus)
	}
	if resp.Parameters.TokenURL != "https://oauth2.googleapis.com/token" {
		t.Errorf("token_url = %q", resp.Parameters.TokenURL)
	}
}

func TestHandleAuthorizeErrors(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantCode  string
		wantError string
	}{
		{"unknown preset", "preset=Nope", "invalid_preset", "unknown preset"},
		{"bad response mode", exampleQuery + "&response_mode=web_message", "invalid_request", "invalid response_mode"},
		{"empty response type", exampleQuery + "&response_type=", "invalid_request", "response_type"},
		{"missing authorize url", "client_id=abc", "invalid_request", "authorize URL is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mux := newTestMux(t, Options{})
			w := serve(mux, httptest.NewRequest("GET", "/authorize?"+tt.query, nil))
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			resp := decodeBody[errorResponse](t, w)
			if resp.Error != tt.wantCode || !strings.Contains(resp.ErrorDescription, tt.wantError) {
				t.Errorf("error = %+v", resp)
			}
		})
	}
}

func TestHandleFormPostRelay(t *testing.T) {
	_, mux := newTestMux(t, Options{})
	w := serve(mux, postForm("/callback", url.Values{"code": {"abc"}, "state": {"x"}}))
	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/callback?code=abc&response_method=form_post&state=x" {
		t.Errorf("Location = %q", loc)
	}
}

func TestHandleCallback(t *testing.T) {
	_, mux := newTestMux(t, Options{})

	aw := serve(mux, httptest.NewRequest("GET", "/authorize?dry_run=1&pkce=1&token_url=https%3A%2F%2Fidp.example%2Ftoken&client_secret=s3&"+exampleQuery, nil))
	auth := decodeBody[authorizeResponse](t, aw)
	cookie := sessionCookie(t, aw)

	r := httptest.NewRequest("GET", "/callback?code=abc123&state=xyz&response_method=form_post", nil)
	r.AddCookie(cookie)
	w := serve(mux, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	resp := decodeBody[callbackResponse](t, w)
	if resp.Result.Code != "abc123" || resp.Result.State != "xyz" || resp.Result.ResponseMethod != "form_post" {
		t.Errorf("result = %+v", resp.Result)
	}
	var keys []string
	for _, f := range resp.Fields {
		keys = append(keys, f.Key)
	}
	if strings.Join(keys, ",") != "response_method,state,code" {
		t.Errorf("fields = %v", keys)
	}

	if resp.Exchange == nil {
		t.Fatal("exchange preview missing")
	}
	req := resp.Exchange.Request
	if req.TokenURL != "https://idp.example/token" || req.Code != "abc123" || req.ClientSecret != "s3" {
		t.Errorf("exchange request = %+v", req)
	}
	if req.CodeVerifier == "" || req.CodeVerifier != auth.Parameters.PKCE.Verifier {
		t.Errorf("code_verifier = %q, want bridged %q", req.CodeVerifier, auth.Parameters.PKCE.Verifier)
	}
	if !strings.HasPrefix(resp.Exchange.Preview, "POST https://idp.example/token\nclient_id=abc\n&client_secret=s3\n&code=abc123\n") {
		t.Errorf("preview = %q", resp.Exchange.Preview)
	}
}

func TestHandleCallbackWithoutSession(t *testing.T) {
	_, mux := newTestMux(t, Options{})
	w := serve(mux, httptest.NewRequest("GET", "/callback?code=abc123", nil))
	resp := decodeBody[callbackResponse](t, w)
	if resp.Exchange == nil || resp.Exchange.Request.TokenURL != "" {
		t.Errorf("exchange = %+v, want preview with empty bridged values", resp.Exchange)
	}

	w = serve(mux, httptest.NewRequest("GET", "/callback", nil))
	resp = decodeBody[callbackResponse](t, w)
	if resp.Note == "" || len(resp.Fields) != 0 || resp.Exchange != nil {
		t.Errorf("empty callback = %+v", resp)
	}
}

func TestHandleDecode(t *testing.T) {
	_, mux := newTestMux(t, Options{})
	w := serve(mux, postForm("/decode", url.Values{"url": {"https://app.example/callback#id_token=not.a.validtoken&state=s"}}))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	resp := decodeBody[callbackResponse](t, w)
	if resp.Result.State != "s" || resp.Result.IDToken != "not.a.validtoken" {
		t.Errorf("result = %+v", resp.Result)
	}
	if !strings.Contains(resp.IDTokenError, "malformed id_token") {
		t.Errorf("id_token_error = %q", resp.IDTokenError)
	}
	if resp.Result.IDTokenDecoded != nil {
		t.Errorf("id_token_decoded = %v", resp.Result.IDTokenDecoded)
	}

	w = serve(mux, postForm("/decode", url.Values{}))
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing url status = %d", w.Code)
	}
}

func TestHandleExchange(t *testing.T) {
	var received url.Values
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		received = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at","token_type":"Bearer"}`))
	}))
	defer tokenSrv.Close()

	_, mux := newTestMux(t, Options{HTTPClient: tokenSrv.Client()})
	aw := serve(mux, httptest.NewRequest("GET", "/authorize?dry_run=1&pkce=1&scope=openid+email&token_url="+url.QueryEscape(tokenSrv.URL)+"&"+exampleQuery, nil))
	auth := decodeBody[authorizeResponse](t, aw)

	r := postForm("/exchange", url.Values{"code": {"c1"}, "scope": {""}})
	r.AddCookie(sessionCookie(t, aw))
	w := serve(mux, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	resp := decodeBody[exchangeResponse](t, w)
	if resp.Result == nil || resp.Result.AccessToken != "at" || resp.Result.StatusCode != 200 {
		t.Fatalf("result = %+v", resp.Result)
	}

	want := url.Values{
		"code":          {"c1"},
		"redirect_uri":  {"https://app.example/callback"},
		"client_id":     {"abc"},
		"grant_type":    {"authorization_code"},
		"code_verifier": {auth.Parameters.PKCE.Verifier},
	}
	if received.Encode() != want.Encode() {
		t.Errorf("token endpoint received %s\nwant %s", received.Encode(), want.Encode())
	}
}

func TestHandleExchangeErrors(t *testing.T) {
	_, mux := newTestMux(t, Options{})
	w := serve(mux, postForm("/exchange", url.Values{"token_url": {"https://idp.example/token"}}))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if resp := decodeBody[errorResponse](t, w); !strings.Contains(resp.ErrorDescription, "authorization code is required") {
		t.Errorf("error = %+v", resp)
	}
}

func newFakeOP(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 srv.URL,
			"authorization_endpoint": srv.URL + "/authorize",
			"token_endpoint":         srv.URL + "/token",
			"jwks_uri":               srv.URL + "/jwks",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHandleDiscover(t *testing.T) {
	op := newFakeOP(t)
	_, mux := newTestMux(t, Options{HTTPClient: op.Client()})

	w := serve(mux, httptest.NewRequest("GET", "/discover?issuer="+url.QueryEscape(op.URL), nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	resp := decodeBody[discoverResponse](t, w)
	if resp.Metadata.TokenEndpoint != op.URL+"/token" {
		t.Errorf("token_endpoint = %q", resp.Metadata.TokenEndpoint)
	}
	if !strings.Contains(string(resp.Raw), "jwks_uri") {
		t.Errorf("raw = %s", resp.Raw)
	}

	if w := serve(mux, httptest.NewRequest("GET", "/discover", nil)); w.Code != http.StatusBadRequest {
		t.Errorf("missing issuer status = %d", w.Code)
	}
	if w := serve(mux, httptest.NewRequest("GET", "/discover?issuer="+url.QueryEscape(op.URL+"/nope"), nil)); w.Code != http.StatusBadGateway {
		t.Errorf("bad issuer status = %d", w.Code)
	}
}

func TestPresetIssuerDiscovery(t *testing.T) {
	op := newFakeOP(t)
	presets := []authz.Preset{{Name: "Local", Issuer: op.URL, ClientID: "local-client"}}

	t.Run("on first use", func(t *testing.T) {
		_, mux := newTestMux(t, Options{HTTPClient: op.Client(), Presets: presets})
		w := serve(mux, httptest.NewRequest("GET", "/authorize?dry_run=1&preset=Local", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", w.Code, w.Body)
		}
		resp := decodeBody[authorizeResponse](t, w)
		if !strings.HasPrefix(resp.AuthorizationURL, op.URL+"/authorize?client_id=local-client&") {
			t.Errorf("authorization_url = %s", resp.AuthorizationURL)
		}
	})

	t.Run("resolved at startup", func(t *testing.T) {
		h, mux := newTestMux(t, Options{HTTPClient: op.Client(), Presets: presets})
		if err := h.ResolvePresets(t.Context(), discovery.NoRetry); err != nil {
			t.Fatalf("ResolvePresets: %v", err)
		}
		got := decodeBody[[]authz.Preset](t, serve(mux, httptest.NewRequest("GET", "/presets", nil)))
		if len(got) != 1 || got[0].TokenURL != op.URL+"/token" {
			t.Errorf("presets = %+v", got)
		}
	})

	t.Run("unreachable issuer", func(t *testing.T) {
		bad := []authz.Preset{{Name: "Down", Issuer: op.URL + "/down"}}
		h, mux := newTestMux(t, Options{HTTPClient: op.Client(), Presets: bad})
		if err := h.ResolvePresets(t.Context(), discovery.NoRetry); err == nil {
			t.Error("expected ResolvePresets error")
		}
		w := serve(mux, httptest.NewRequest("GET", "/authorize?dry_run=1&preset=Down", nil))
		if w.Code != http.StatusBadGateway {
			t.Errorf("status = %d, want 502", w.Code)
		}
	})
}

func TestHandleClear(t *testing.T) {
	sessions := bridge.NewMemorySessions(time.Minute)
	_, mux := newTestMux(t, Options{Sessions: sessions})
	aw := serve(mux, httptest.NewRequest("GET", "/authorize?dry_run=1&"+exampleQuery, nil))
	cookie := sessionCookie(t, aw)

	r := httptest.NewRequest("POST", "/clear", nil)
	r.AddCookie(cookie)
	w := serve(mux, r)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if c := sessionCookie(t, w); c.MaxAge >= 0 {
		t.Errorf("cookie not expired: %+v", c)
	}
	if sessions.Len() != 0 {
		t.Errorf("sessions.Len() = %d, want 0", sessions.Len())
	}
}

func TestSameSiteOverHTTPS(t *testing.T) {
	_, mux := newTestMux(t, Options{})
	r := httptest.NewRequest("GET", "/authorize?dry_run=1&"+exampleQuery, nil)
	r.Header.Set("X-Forwarded-Proto", "https")
	c := sessionCookie(t, serve(mux, r))
	if !c.Secure || c.SameSite != http.SameSiteNoneMode {
		t.Errorf("cookie = %+v, want Secure SameSite=None", c)
	}
}
