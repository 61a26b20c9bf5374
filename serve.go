package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wadahiro/oauthfiddler/internal/bridge"
	"github.com/wadahiro/oauthfiddler/internal/config"
	"github.com/wadahiro/oauthfiddler/internal/discovery"
	"github.com/wadahiro/oauthfiddler/internal/oidc"
)

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx)
		},
	}
}

func (c *cli) serve(ctx context.Context) error {
	cfg := c.cfg
	httpClient := c.httpClient()

	sessions, closeSessions, err := newSessions(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSessions()

	handler := oidc.NewHandler(oidc.Options{
		CallbackURL:  cfg.CallbackURL(),
		CallbackPath: cfg.CallbackPath,
		Presets:      cfg.AuthzPresets(),
		Sessions:     sessions,
		HTTPClient:   httpClient,
	})
	retry := discovery.Retry{Attempts: cfg.DiscoveryAttempts, Interval: cfg.DiscoveryInterval}
	if err := handler.ResolvePresets(ctx, retry); err != nil {
		slog.Warn("Preset discovery incomplete, retrying on first use", "error", err)
	}

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      newRootMux(handler),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.HTTPTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		switch {
		case cfg.TLSSelfSigned:
			tlsCert, certErr := generateSelfSignedTLSCert()
			if certErr != nil {
				errCh <- fmt.Errorf("generate self-signed TLS certificate: %w", certErr)
				return
			}
			server.TLSConfig = &tls.Config{Certificates: []tls.Certificate{tlsCert}}
			slog.Info("Listening (TLS, self-signed)", "addr", cfg.ListenAddr, "callback_url", cfg.CallbackURL())
			err = server.ListenAndServeTLS("", "")
		case cfg.TLSCertPath != "" && cfg.TLSKeyPath != "":
			slog.Info("Listening (TLS)", "addr", cfg.ListenAddr, "callback_url", cfg.CallbackURL())
			err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		default:
			slog.Info("Listening", "addr", cfg.ListenAddr, "callback_url", cfg.CallbackURL())
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	slog.Info("Server stopped")
	return nil
}

func newRootMux(handler *oidc.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	handler.RegisterRoutes(mux)
	return mux
}

// newSessions opens the configured bridge backend. The returned function
// releases it.
func newSessions(ctx context.Context, cfg *config.Config) (bridge.Sessions, func(), error) {
	switch cfg.BridgeBackend {
	case config.BridgeRedis:
		sessions, err := bridge.NewRedisSessions(ctx, bridge.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.SessionTTL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect bridge redis: %w", err)
		}
		slog.Info("Bridge backend configured", "backend", "redis", "addr", cfg.RedisAddr)
		return sessions, func() { sessions.Close() }, nil
	default:
		sessions := bridge.NewMemorySessions(cfg.SessionTTL)
		sweepCtx, cancel := context.WithCancel(ctx)
		go sweepSessions(sweepCtx, sessions, cfg.SessionTTL)
		slog.Info("Bridge backend configured", "backend", "memory", "session_ttl", cfg.SessionTTL)
		return sessions, cancel, nil
	}
}

func sweepSessions(ctx context.Context, sessions *bridge.MemorySessions, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.Sweep(); n > 0 {
				slog.Debug("Expired bridge sessions removed", "count", n)
			}
		}
	}
}

func generateSelfSignedTLSCert() (tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate RSA key: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
	}, nil
}
