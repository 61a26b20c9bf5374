package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/wadahiro/oauthfiddler/internal/bridge"
	"github.com/wadahiro/oauthfiddler/internal/callback"
	"github.com/wadahiro/oauthfiddler/internal/oidc"
)

// run executes the CLI with args and returns stdout and stderr.
func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(append([]string{"--config="}, args...))
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(t.Context())
	return stdout.String(), stderr.String(), err
}

func TestPKCECommand(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		want   []string
		errMsg string
	}{
		{
			name: "S256 known vector",
			args: []string{"pkce", "--verifier", "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"},
			want: []string{
				"code_challenge: E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
				"code_challenge_method: S256",
			},
		},
		{
			name: "plain echoes verifier",
			args: []string{"pkce", "--method", "plain", "--verifier", "abc"},
			want: []string{"code_challenge: abc", "code_challenge_method: plain"},
		},
		{
			name:   "invalid method",
			args:   []string{"pkce", "--method", "MD5"},
			errMsg: "invalid PKCE method",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := run(t, "", tt.args...)
			if tt.errMsg != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errMsg) {
					t.Fatalf("err = %v, want containing %q", err, tt.errMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
		})
	}
}

func TestPKCECommandRandomVerifier(t *testing.T) {
	out, _, err := run(t, "", "pkce")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	line := strings.SplitN(out, "\n", 2)[0]
	v := strings.TrimPrefix(line, "code_verifier: ")
	if len(v) != 64 {
		t.Errorf("verifier %q has length %d, want 64", v, len(v))
	}
}

func TestURLCommand(t *testing.T) {
	out, stderr, err := run(t, "", "url",
		"--authorize-url", "https://idp.example/auth",
		"--client-id", "abc",
		"--state", "s1",
		"--nonce", "n1",
		"--scope", "openid profile",
		"--pkce",
		"--pkce-verifier", "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk",
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u, err := url.Parse(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("output is not a URL: %v", err)
	}
	q := u.Query()
	for k, want := range map[string]string{
		"client_id":             "abc",
		"redirect_uri":          "http://localhost:3000/callback",
		"scope":                 "openid profile",
		"response_type":         "code",
		"state":                 "s1",
		"nonce":                 "n1",
		"code_challenge_method": "S256",
		"code_challenge":        "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
	} {
		if got := q.Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
	if !strings.Contains(stderr, "code_verifier: dBjftJeZ4CVP") {
		t.Errorf("stderr should report the verifier, got %q", stderr)
	}
}

func TestURLCommandWithoutNonce(t *testing.T) {
	out, _, err := run(t, "", "url", "--authorize-url", "https://idp.example/auth", "--client-id", "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u, err := url.Parse(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("output is not a URL: %v", err)
	}
	if q := u.Query(); q.Has("nonce") || q.Get("state") == "" {
		t.Errorf("want generated state and no nonce, got %v", q)
	}

	for _, c := range newRootCmd().Commands() {
		if c.Name() != "url" {
			continue
		}
		if usage := c.Flags().Lookup("nonce").Usage; strings.Contains(usage, "random") {
			t.Errorf("nonce usage %q promises a generated value", usage)
		}
	}
}

func TestURLCommandErrors(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		errMsg string
	}{
		{"missing authorize url", []string{"url", "--client-id", "abc"}, "authorize"},
		{"invalid response mode", []string{"url", "--authorize-url", "https://idp.example/auth", "--response-mode", "bogus"}, "response_mode"},
		{"unknown preset", []string{"url", "--preset", "Nope"}, "unknown preset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := run(t, "", tt.args...)
			if err == nil || !strings.Contains(strings.ToLower(err.Error()), tt.errMsg) {
				t.Errorf("err = %v, want containing %q", err, tt.errMsg)
			}
		})
	}
}

func TestURLCommandPreset(t *testing.T) {
	out, _, err := run(t, "", "url", "--preset", "Google", "--client-id", "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out, "https://accounts.google.com/o/oauth2/v2/auth?") {
		t.Errorf("unexpected URL %s", out)
	}
	if !strings.Contains(out, "prompt=consent+select_account") || !strings.Contains(out, "code_challenge=") {
		t.Errorf("preset values missing: %s", out)
	}
}

func TestDecodeCommand(t *testing.T) {
	t.Run("argument", func(t *testing.T) {
		out, _, err := run(t, "", "decode", "http://localhost:3000/callback?code=abc&state=s1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, w := range []string{"Authorization Code: abc", "State: s1"} {
			if !strings.Contains(out, w) {
				t.Errorf("output missing %q:\n%s", w, out)
			}
		}
	})

	t.Run("stdin fragment as JSON", func(t *testing.T) {
		out, _, err := run(t, "#access_token=at&token_type=Bearer\n", "decode", "--json")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var res callback.Result
		if err := json.Unmarshal([]byte(out), &res); err != nil {
			t.Fatalf("decode output: %v\n%s", err, out)
		}
		if res.AccessToken != "at" || res.TokenType != "Bearer" {
			t.Errorf("got %+v", res)
		}
	})

	t.Run("malformed id_token as JSON", func(t *testing.T) {
		out, _, err := run(t, "", "decode", "--json", "?id_token=not.a.validtoken&state=s&bad=%zz")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var res struct {
			State        string `json:"state"`
			IDTokenError string `json:"id_token_error"`
			ParamsError  string `json:"params_error"`
		}
		if err := json.Unmarshal([]byte(out), &res); err != nil {
			t.Fatalf("decode output: %v\n%s", err, out)
		}
		if res.State != "s" {
			t.Errorf("state = %q, want s", res.State)
		}
		if !strings.Contains(res.IDTokenError, "malformed id_token") {
			t.Errorf("id_token_error = %q", res.IDTokenError)
		}
		if !strings.Contains(res.ParamsError, "parse callback parameters") {
			t.Errorf("params_error = %q", res.ParamsError)
		}
	})

	t.Run("error response", func(t *testing.T) {
		out, _, err := run(t, "", "decode", "?error=access_denied&error_description=nope")
		if err == nil || !strings.Contains(err.Error(), "access_denied") {
			t.Errorf("err = %v, want access_denied", err)
		}
		if !strings.Contains(out, "Error Description: nope") {
			t.Errorf("output missing description:\n%s", out)
		}
	})
}

func TestExchangeCommand(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotForm = r.PostForm
		if r.PostForm.Get("code") == "bad" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant","error_description":"code expired"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at","token_type":"Bearer"}`)
	}))
	defer srv.Close()

	t.Run("dry run", func(t *testing.T) {
		out, _, err := run(t, "", "exchange", "--dry-run", "--token-url", "https://idp.example/token", "--code", "c1", "--client-id", "abc")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, w := range []string{"POST https://idp.example/token", "code=c1", "&grant_type=authorization_code", "&redirect_uri=http%3A%2F%2Flocalhost%3A3000%2Fcallback"} {
			if !strings.Contains(out, w) {
				t.Errorf("preview missing %q:\n%s", w, out)
			}
		}
	})

	t.Run("success", func(t *testing.T) {
		out, _, err := run(t, "", "exchange", "--token-url", srv.URL, "--code", "c1", "--client-id", "abc", "--code-verifier", "v1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if gotForm.Get("code_verifier") != "v1" || gotForm.Get("grant_type") != "authorization_code" {
			t.Errorf("server received %v", gotForm)
		}
		for _, w := range []string{"HTTP/1.1 200 OK", "Content-Type: application/json", `"access_token": "at"`} {
			if !strings.Contains(out, w) {
				t.Errorf("output missing %q:\n%s", w, out)
			}
		}
	})

	t.Run("json output", func(t *testing.T) {
		out, _, err := run(t, "", "exchange", "--json", "--token-url", srv.URL, "--code", "c1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var res struct {
			StatusCode  int    `json:"status_code"`
			AccessToken string `json:"access_token"`
		}
		if err := json.Unmarshal([]byte(out), &res); err != nil {
			t.Fatalf("decode output: %v\n%s", err, out)
		}
		if res.StatusCode != 200 || res.AccessToken != "at" {
			t.Errorf("got %+v", res)
		}
	})

	t.Run("oauth error", func(t *testing.T) {
		out, _, err := run(t, "", "exchange", "--token-url", srv.URL, "--code", "bad")
		if err == nil || !strings.Contains(err.Error(), "invalid_grant: code expired") {
			t.Errorf("err = %v, want invalid_grant", err)
		}
		if !strings.Contains(out, "HTTP/1.1 400 Bad Request") || !strings.Contains(out, "Error: invalid_grant: code expired") {
			t.Errorf("output missing status:\n%s", out)
		}
	})

	t.Run("missing code", func(t *testing.T) {
		_, _, err := run(t, "", "exchange", "--token-url", srv.URL)
		if err == nil || !strings.Contains(err.Error(), "authorization code is required") {
			t.Errorf("err = %v", err)
		}
	})
}

func TestDiscoverCommand(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"issuer":%q,"authorization_endpoint":%q,"token_endpoint":%q,"jwks_uri":%q}`,
			srv.URL, srv.URL+"/auth", srv.URL+"/token", srv.URL+"/jwks")
	}))
	defer srv.Close()

	out, _, err := run(t, "", "discover", srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, `"authorization_endpoint": "`+srv.URL+`/auth"`) {
		t.Errorf("unexpected output:\n%s", out)
	}

	if _, _, err := run(t, "", "discover", srv.URL+"/missing"); err == nil {
		t.Error("expected error for unknown issuer")
	}
}

func TestHealthcheck(t *testing.T) {
	handler := oidc.NewHandler(oidc.Options{Sessions: bridge.NewMemorySessions(0)})
	srv := httptest.NewServer(newRootMux(handler))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Errorf("got %d %q", resp.StatusCode, body)
	}

	if code := healthcheck(srv.URL + "/healthz"); code != 0 {
		t.Errorf("healthcheck() = %d, want 0", code)
	}
	if code := healthcheck(srv.URL + "/nope"); code != 1 {
		t.Errorf("healthcheck() on 404 = %d, want 1", code)
	}
}

func TestGenerateSelfSignedTLSCert(t *testing.T) {
	cert, err := generateSelfSignedTLSCert()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cert.Certificate) != 1 || cert.PrivateKey == nil {
		t.Errorf("incomplete certificate: %+v", cert)
	}
}
