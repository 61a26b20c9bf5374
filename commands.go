package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wadahiro/oauthfiddler/internal/authz"
	"github.com/wadahiro/oauthfiddler/internal/callback"
	"github.com/wadahiro/oauthfiddler/internal/discovery"
	"github.com/wadahiro/oauthfiddler/internal/exchange"
	"github.com/wadahiro/oauthfiddler/internal/protocol"
)

// urlFlags maps the url command's flags to model form keys.
var urlFlags = []struct {
	flag, key, usage string
}{
	{"authorize-url", authz.FormAuthorizeURL, "authorization endpoint"},
	{"token-url", authz.FormTokenURL, "token endpoint"},
	{"redirect-uri", authz.FormCallbackURL, "redirect_uri (defaults to this instance's callback URL)"},
	{"client-id", authz.FormClientID, "client_id"},
	{"client-secret", authz.FormClientSecret, "client_secret (never sent in the authorization request)"},
	{"scope", authz.FormScope, "space-separated scopes"},
	{"state", authz.FormState, "state (random when omitted)"},
	{"nonce", authz.FormNonce, "nonce (not sent when omitted)"},
	{"prompt", authz.FormPrompt, "prompt"},
	{"response-type", authz.FormResponseType, `response_type, e.g. "code id_token"`},
	{"response-mode", authz.FormResponseMode, "query, fragment or form_post"},
	{"pkce-method", authz.FormPKCEMethod, "S256 or plain"},
	{"pkce-verifier", authz.FormPKCEVerifier, "code_verifier (random when omitted)"},
}

func (c *cli) urlCmd() *cobra.Command {
	var (
		preset string
		pkce   bool
	)
	cmd := &cobra.Command{
		Use:   "url",
		Short: "Build an authorization request URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m := authz.NewModel()
			m.SetCallbackURL(c.cfg.CallbackURL())

			if preset != "" {
				p, err := c.resolvePreset(cmd, preset)
				if err != nil {
					return err
				}
				if err := m.ApplyPreset(p); err != nil {
					return fmt.Errorf("apply preset %s: %w", preset, err)
				}
			}

			values := url.Values{}
			for _, f := range urlFlags {
				if cmd.Flags().Changed(f.flag) {
					v, _ := cmd.Flags().GetString(f.flag)
					values.Set(f.key, v)
				}
			}
			if cmd.Flags().Changed("pkce") {
				values.Set(authz.FormPKCE, strconv.FormatBool(pkce))
			}
			if err := m.ApplyForm(values); err != nil {
				return err
			}

			u, err := m.AuthorizationURL(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, u)

			snap := m.Snapshot()
			if snap.PKCE.Enabled {
				fmt.Fprintf(cmd.ErrOrStderr(), "code_verifier: %s\n", snap.PKCE.Verifier)
			}
			return nil
		},
	}
	for _, f := range urlFlags {
		cmd.Flags().String(f.flag, "", f.usage)
	}
	cmd.Flags().StringVar(&preset, "preset", "", "load a configured preset first")
	cmd.Flags().BoolVar(&pkce, "pkce", false, "enable PKCE")
	return cmd
}

// resolvePreset looks up name and fills its endpoints from discovery when
// only an issuer is configured.
func (c *cli) resolvePreset(cmd *cobra.Command, name string) (authz.Preset, error) {
	p, ok := authz.FindPreset(c.cfg.AuthzPresets(), name)
	if !ok {
		return authz.Preset{}, fmt.Errorf("unknown preset: %s", name)
	}
	if p.Issuer == "" || (p.AuthorizeURL != "" && p.TokenURL != "") {
		return p, nil
	}
	provider, err := discovery.Discover(cmd.Context(), c.httpClient(), p.Issuer, discovery.NoRetry)
	if err != nil {
		return authz.Preset{}, fmt.Errorf("preset %s: %w", name, err)
	}
	if p.AuthorizeURL == "" {
		p.AuthorizeURL = provider.Metadata.AuthorizationEndpoint
	}
	if p.TokenURL == "" {
		p.TokenURL = provider.Metadata.TokenEndpoint
	}
	return p, nil
}

func (c *cli) pkceCmd() *cobra.Command {
	var method, verifier string
	cmd := &cobra.Command{
		Use:   "pkce",
		Short: "Generate a PKCE verifier and derive its challenge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := authz.ParsePKCEMethod(method)
			if err != nil {
				return err
			}
			if verifier == "" {
				if verifier, err = authz.GenerateVerifier(); err != nil {
					return err
				}
			}
			challenge, err := authz.DeriveChallenge(verifier, m)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "code_verifier: %s\n", verifier)
			fmt.Fprintf(out, "code_challenge: %s\n", challenge)
			fmt.Fprintf(out, "code_challenge_method: %s\n", m.WireValue())
			return nil
		},
	}
	cmd.Flags().StringVar(&method, "method", string(authz.PKCEMethodS256), "S256 or plain")
	cmd.Flags().StringVar(&verifier, "verifier", "", "use this verifier instead of a random one")
	return cmd
}

func (c *cli) decodeCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "decode [callback-url]",
		Short: "Decode an authorization response",
		Long: `Decode the parameters of a callback URL, query string or fragment.
Reads standard input when the argument is "-" or omitted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := ""
			if len(args) == 1 && args[0] != "-" {
				raw = args[0]
			} else {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read callback: %w", err)
				}
				raw = strings.TrimSpace(string(b))
			}

			res := callback.Decode(raw)
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, res)
			}
			for _, f := range res.Fields() {
				fmt.Fprintf(out, "%s: %s\n", f.Title, f.Value)
			}
			if claims := res.Claims(); len(claims) > 0 {
				fmt.Fprintln(out, "\nID Token Claims:")
				for _, kv := range claims {
					fmt.Fprintf(out, "  %s: %s\n", kv.Key, kv.Value)
				}
			}
			if res.ParamsError != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", res.ParamsError)
			}
			if res.IsError() {
				return fmt.Errorf("authorization server returned %s", res.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the decoded result as JSON")
	return cmd
}

func (c *cli) exchangeCmd() *cobra.Command {
	var (
		req    exchange.Request
		issuer string
		dryRun bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "exchange",
		Short: "Redeem an authorization code at the token endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.RedirectURI == "" {
				req.RedirectURI = c.cfg.CallbackURL()
			}
			out := cmd.OutOrStdout()
			if dryRun {
				if err := req.Validate(); err != nil {
					return err
				}
				fmt.Fprintln(out, req.Preview())
				return nil
			}

			httpClient := c.httpClient()
			res, err := exchange.NewClient(httpClient).Exchange(cmd.Context(), req)
			if err != nil {
				return err
			}
			if issuer != "" {
				provider, err := discovery.Discover(cmd.Context(), httpClient, issuer, discovery.NoRetry)
				if err != nil {
					res.IDTokenVerifyError = err.Error()
				} else {
					res.VerifyIDToken(cmd.Context(), provider, req.ClientID)
				}
			}
			if asJSON {
				if err := writeJSON(out, res); err != nil {
					return err
				}
			} else {
				printExchangeResult(out, res)
			}
			if !res.OK() {
				return errors.New(res.String())
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.TokenURL, "token-url", "", "token endpoint")
	f.StringVar(&req.Code, "code", "", "authorization code")
	f.StringVar(&req.RedirectURI, "redirect-uri", "", "redirect_uri (defaults to this instance's callback URL)")
	f.StringVar(&req.ClientID, "client-id", "", "client_id")
	f.StringVar(&req.ClientSecret, "client-secret", "", "client_secret")
	f.StringVar(&req.Scope, "scope", "", "scope")
	f.StringVar(&req.CodeVerifier, "code-verifier", "", "PKCE code_verifier")
	f.StringVar(&issuer, "issuer", "", "verify the issued id_token against this issuer")
	f.BoolVar(&dryRun, "dry-run", false, "print the request instead of sending it")
	f.BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

// printExchangeResult writes the token response as raw HTTP followed by the
// decoded tokens.
func printExchangeResult(w io.Writer, res *exchange.Result) {
	if res.StatusCode != 0 {
		fmt.Fprintln(w, res.StatusLine)
		if h := protocol.FormatHTTPHeaders(res.Headers); h != "" {
			fmt.Fprintln(w, h)
		}
		fmt.Fprintln(w)
		if res.PrettyBody != "" {
			fmt.Fprintln(w, res.PrettyBody)
		} else {
			fmt.Fprintln(w, res.RawBody)
		}
	}
	if res.Error != "" {
		fmt.Fprintf(w, "\nError: %s\n", res.String())
		return
	}
	if res.IDToken != "" {
		header, payload, _ := protocol.DecodeJWT(res.IDToken)
		fmt.Fprintf(w, "\nID Token Header:\n%s\nID Token Payload:\n%s\n", header, payload)
		switch {
		case res.IDTokenVerified:
			fmt.Fprintln(w, "ID Token Signature: verified")
		case res.IDTokenVerifyError != "":
			fmt.Fprintf(w, "ID Token Signature: %s\n", res.IDTokenVerifyError)
		}
	}
	if len(res.AccessTokenClaims) > 0 {
		fmt.Fprintln(w, "\nAccess Token Claims:")
		for _, k := range protocol.SortedKeys(res.AccessTokenClaims) {
			fmt.Fprintf(w, "  %s: %s\n", k, protocol.FormatClaimValue(k, res.AccessTokenClaims[k]))
		}
	}
}

func (c *cli) discoverCmd() *cobra.Command {
	var attempts int
	cmd := &cobra.Command{
		Use:   "discover <issuer>",
		Short: "Fetch an OpenID Provider's discovery document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			retry := discovery.Retry{Attempts: attempts, Interval: c.cfg.DiscoveryInterval}
			provider, err := discovery.Discover(cmd.Context(), c.httpClient(), args[0], retry)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), protocol.PrettyJSON(provider.Raw))
			return nil
		},
	}
	cmd.Flags().IntVar(&attempts, "attempts", 1, "discovery attempts before giving up")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
