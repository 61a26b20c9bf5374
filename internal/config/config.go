package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/wadahiro/oauthfiddler/internal/authz"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "OAUTHFIDDLER_"

// Bridge backends.
const (
	BridgeMemory = "memory"
	BridgeRedis  = "redis"
)

// Config is the top-level configuration.
type Config struct {
	ListenAddr         string        `toml:"listen_addr"`
	PublicURL          string        `toml:"public_url"`
	InsecureSkipVerify bool          `toml:"insecure_skip_verify"`
	LogLevel           string        `toml:"log_level"`
	Timezone           string        `toml:"timezone"`
	TLSCertPath        string        `toml:"tls_cert_path"`
	TLSKeyPath         string        `toml:"tls_key_path"`
	TLSSelfSigned      bool          `toml:"tls_self_signed"`
	CallbackPath       string        `toml:"callback_path"`
	HTTPTimeout        time.Duration `toml:"http_timeout"`
	SessionTTL         time.Duration `toml:"session_ttl"`
	BridgeBackend      string        `toml:"bridge_backend"`
	RedisAddr          string        `toml:"redis_addr"`
	RedisPassword      string        `toml:"redis_password"`
	RedisDB            int           `toml:"redis_db"`
	DiscoveryAttempts  int           `toml:"discovery_attempts"`
	DiscoveryInterval  time.Duration `toml:"discovery_interval"`
	Presets            []Preset      `toml:"preset"`
}

// Preset is a [[preset]] entry.
type Preset struct {
	Name         string `toml:"name"`
	Issuer       string `toml:"issuer"`        // OIDC Discovery (optional)
	AuthorizeURL string `toml:"authorize_url"` // Manual (required if no issuer)
	TokenURL     string `toml:"token_url"`
	ClientID     string `toml:"client_id"`
	Scope        string `toml:"scope"`
	Prompt       string `toml:"prompt"`
	ResponseType string `toml:"response_type"`
	ResponseMode string `toml:"response_mode"`
	PKCE         bool   `toml:"pkce"`
	PKCEMethod   string `toml:"pkce_method"`
}

// envOverrides holds the settings that may come from the environment.
// A nil field means the variable is unset.
type envOverrides struct {
	ListenAddr         *string        `env:"LISTEN_ADDR"`
	PublicURL          *string        `env:"PUBLIC_URL"`
	InsecureSkipVerify *bool          `env:"INSECURE_SKIP_VERIFY"`
	LogLevel           *string        `env:"LOG_LEVEL"`
	Timezone           *string        `env:"TIMEZONE"`
	TLSCertPath        *string        `env:"TLS_CERT_PATH"`
	TLSKeyPath         *string        `env:"TLS_KEY_PATH"`
	TLSSelfSigned      *bool          `env:"TLS_SELF_SIGNED"`
	CallbackPath       *string        `env:"CALLBACK_PATH"`
	HTTPTimeout        *time.Duration `env:"HTTP_TIMEOUT"`
	SessionTTL         *time.Duration `env:"SESSION_TTL"`
	BridgeBackend      *string        `env:"BRIDGE_BACKEND"`
	RedisAddr          *string        `env:"REDIS_ADDR"`
	RedisPassword      *string        `env:"REDIS_PASSWORD"`
	RedisDB            *int           `env:"REDIS_DB"`
}

// Load reads the configuration from a TOML file, then applies environment
// overrides and defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	setIf(&cfg.ListenAddr, o.ListenAddr)
	setIf(&cfg.PublicURL, o.PublicURL)
	setIf(&cfg.InsecureSkipVerify, o.InsecureSkipVerify)
	setIf(&cfg.LogLevel, o.LogLevel)
	setIf(&cfg.Timezone, o.Timezone)
	setIf(&cfg.TLSCertPath, o.TLSCertPath)
	setIf(&cfg.TLSKeyPath, o.TLSKeyPath)
	setIf(&cfg.TLSSelfSigned, o.TLSSelfSigned)
	setIf(&cfg.CallbackPath, o.CallbackPath)
	setIf(&cfg.HTTPTimeout, o.HTTPTimeout)
	setIf(&cfg.SessionTTL, o.SessionTTL)
	setIf(&cfg.BridgeBackend, o.BridgeBackend)
	setIf(&cfg.RedisAddr, o.RedisAddr)
	setIf(&cfg.RedisPassword, o.RedisPassword)
	setIf(&cfg.RedisDB, o.RedisDB)
	return nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":3000"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.CallbackPath == "" {
		cfg.CallbackPath = "/callback"
	}
	if cfg.PublicURL == "" {
		scheme := "http"
		if cfg.TLSEnabled() {
			scheme = "https"
		}
		cfg.PublicURL = scheme + "://localhost" + portOf(cfg.ListenAddr)
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.BridgeBackend == "" {
		cfg.BridgeBackend = BridgeMemory
	}
	if cfg.DiscoveryAttempts == 0 {
		cfg.DiscoveryAttempts = 30
	}
	if cfg.DiscoveryInterval == 0 {
		cfg.DiscoveryInterval = 2 * time.Second
	}
	if len(cfg.Presets) == 0 {
		for _, p := range authz.DefaultPresets() {
			cfg.Presets = append(cfg.Presets, Preset(p))
		}
	}
}

func portOf(addr string) string {
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		if port := addr[i+1:]; port != "" && port != "80" && port != "443" {
			return ":" + port
		}
	}
	return ""
}

func (c *Config) validate() error {
	if c.TLSSelfSigned && (c.TLSCertPath != "" || c.TLSKeyPath != "") {
		return errors.New("tls_self_signed and tls_cert_path/tls_key_path are mutually exclusive")
	}
	if (c.TLSCertPath != "") != (c.TLSKeyPath != "") {
		return errors.New("both tls_cert_path and tls_key_path must be specified together")
	}
	if !strings.HasPrefix(c.CallbackPath, "/") {
		return fmt.Errorf("callback_path %q must start with /", c.CallbackPath)
	}
	u, err := url.Parse(c.PublicURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("public_url %q: must be an absolute http or https URL", c.PublicURL)
	}
	switch c.BridgeBackend {
	case BridgeMemory:
	case BridgeRedis:
		if c.RedisAddr == "" {
			return errors.New("redis_addr is required when bridge_backend is redis")
		}
	default:
		return fmt.Errorf("bridge_backend %q: must be %s or %s", c.BridgeBackend, BridgeMemory, BridgeRedis)
	}

	seen := make(map[string]bool)
	for i, p := range c.Presets {
		if p.Name == "" {
			return fmt.Errorf("preset[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("preset[%d] (%s): duplicate name", i, p.Name)
		}
		seen[p.Name] = true
		if p.Issuer == "" && p.AuthorizeURL == "" {
			return fmt.Errorf("preset[%d] (%s): either issuer or authorize_url is required", i, p.Name)
		}
		if p.ResponseType != "" {
			if _, err := authz.ParseResponseTypes(p.ResponseType); err != nil {
				return fmt.Errorf("preset[%d] (%s): %w", i, p.Name, err)
			}
		}
		if p.ResponseMode != "" {
			if _, err := authz.ParseResponseMode(p.ResponseMode); err != nil {
				return fmt.Errorf("preset[%d] (%s): %w", i, p.Name, err)
			}
		}
		if p.PKCEMethod != "" {
			if _, err := authz.ParsePKCEMethod(p.PKCEMethod); err != nil {
				return fmt.Errorf("preset[%d] (%s): %w", i, p.Name, err)
			}
		}
	}
	return nil
}

// TLSEnabled returns true if TLS is configured (self-signed or cert files).
func (c *Config) TLSEnabled() bool {
	return c.TLSSelfSigned || (c.TLSCertPath != "" && c.TLSKeyPath != "")
}

// CallbackURL is the redirect URI served by this instance.
func (c *Config) CallbackURL() string {
	return c.PublicURL + c.CallbackPath
}

// AuthzPresets converts the configured presets for the parameter model.
func (c *Config) AuthzPresets() []authz.Preset {
	out := make([]authz.Preset, len(c.Presets))
	for i, p := range c.Presets {
		out[i] = authz.Preset(p)
	}
	return out
}
