package main

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wadahiro/oauthfiddler/internal/config"
	"github.com/wadahiro/oauthfiddler/internal/protocol"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-healthcheck" {
		os.Exit(healthcheck(os.Getenv("HEALTHCHECK_URL")))
	}

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func healthcheck(healthURL string) int {
	if healthURL == "" {
		healthURL = "http://localhost:3000/healthz"
	}
	client := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	resp, err := client.Get(healthURL)
	if err != nil {
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}

// cli carries the state shared by all subcommands.
type cli struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "oauthfiddler",
		Short: "oauthfiddler - build, send and inspect OAuth 2.0 / OpenID Connect requests",
		Long: `oauthfiddler builds authorization requests, decodes the callback the
authorization server sends back, and redeems authorization codes at the
token endpoint.

Run "oauthfiddler serve" for the HTTP API, or use the offline subcommands.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load()
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", os.Getenv("CONFIG_FILE"), "TOML config file (env CONFIG_FILE)")

	root.AddCommand(
		c.serveCmd(),
		c.urlCmd(),
		c.pkceCmd(),
		c.decodeCmd(),
		c.exchangeCmd(),
		c.discoverCmd(),
	)
	return root
}

func (c *cli) load() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogger(cfg.LogLevel)

	if cfg.Timezone != "" && cfg.Timezone != "UTC" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
		}
		protocol.DisplayLocation = loc
		slog.Debug("Display timezone configured", "timezone", cfg.Timezone)
	}
	c.cfg = cfg
	return nil
}

// httpClient builds the outbound client used for discovery and token requests.
func (c *cli) httpClient() *http.Client {
	client := &http.Client{Timeout: c.cfg.HTTPTimeout}
	if c.cfg.InsecureSkipVerify {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
		slog.Warn("TLS certificate verification is disabled")
	}
	return client
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}
