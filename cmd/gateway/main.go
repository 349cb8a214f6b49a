// Command gateway is the sovereign-gateway process: it terminates HTTP on
// localhost, holds the credential & quota store, and runs the quota
// monitor's background poll loop until shut down.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sovereign-gateway/core/internal/auth/google"
	"github.com/sovereign-gateway/core/internal/config"
	"github.com/sovereign-gateway/core/internal/logging"
	"github.com/sovereign-gateway/core/internal/proxy"
	"github.com/sovereign-gateway/core/internal/quota"
	"github.com/sovereign-gateway/core/internal/store"
	"github.com/sovereign-gateway/core/internal/store/models"
	"github.com/sovereign-gateway/core/internal/token"
	"github.com/sovereign-gateway/core/internal/upstream/embed"
	"github.com/sovereign-gateway/core/internal/upstream/gemini"
	"github.com/sovereign-gateway/core/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to gateway.yaml (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config: "+err.Error())
		os.Exit(1)
	}

	log := logging.New(cfg.Verbose)
	log.Info("starting gateway", "version", version.Version, "commit", version.Commit)

	lockPath := lockFilePath(cfg)
	release, err := acquireBootstrapLock(lockPath)
	if err != nil {
		log.Error("another gateway instance appears to be running", "lock_path", lockPath, "error", err)
		os.Exit(1)
	}
	defer release()

	if err := run(cfg, log); err != nil {
		log.Error("gateway exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	dbPath := cfg.DatabasePath
	if dbPath == "" {
		dbPath = defaultDatabasePath()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}

	keySource := store.FileKeySource{Path: filepath.Join(filepath.Dir(dbPath), "master.key")}
	st, err := store.Open(dbPath, keySource, log)
	if err != nil {
		return err
	}
	defer st.Close()

	upstreamProxyURL := ""
	if cfg.Proxy.UpstreamProxy.Enabled {
		upstreamProxyURL = cfg.Proxy.UpstreamProxy.URL
	}
	geminiClient, err := gemini.NewClient(log, upstreamProxyURL)
	if err != nil {
		return err
	}

	oauthCfg := google.GetOAuthConfig("")
	manager := token.NewManager(st, oauthCfg, geminiClient.LoadCodeAssist, log)
	if err := manager.Load(); err != nil {
		return err
	}

	if err := registerLocalProviders(st, cfg, log); err != nil {
		log.Warn("registering local providers failed", "error", err)
	} else if err := manager.Load(); err != nil {
		return err
	}

	embedClient := embed.NewClient(cfg.EmbeddingAPIKey)

	srv := proxy.NewServer(cfg, st, manager, geminiClient, embedClient, log)

	monitor := quota.NewMonitor(st, manager, geminiClient, quota.LogNotifier{Log: log}, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go monitor.Run(ctx)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func defaultDatabasePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "sovereign-gateway", "gateway.db")
}

func lockFilePath(cfg *config.Config) string {
	dbPath := cfg.DatabasePath
	if dbPath == "" {
		dbPath = defaultDatabasePath()
	}
	return filepath.Join(filepath.Dir(dbPath), "gateway.lock")
}

// acquireBootstrapLock refuses to start a second instance against the same
// database directory without explicit teardown of the first. The returned
// release func removes the lock file on both the success and failure
// shutdown paths.
func acquireBootstrapLock(path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("lock file already exists at %s", path)
		}
		return nil, err
	}
	fmt.Fprintf(f, "%d", os.Getpid())
	f.Close()
	return func() { os.Remove(path) }, nil
}

// registerLocalProviders adds an Account row for each enabled local
// provider in cfg that the store doesn't already know about, so it
// participates in token-manager selection and /v1/models listing.
func registerLocalProviders(st *store.Store, cfg *config.Config, log *slog.Logger) error {
	existing, err := st.List()
	if err != nil {
		return err
	}
	has := func(provider string) bool {
		for _, a := range existing {
			if a.Provider == provider {
				return true
			}
		}
		return false
	}

	add := func(provider, baseURL string) {
		if has(provider) {
			return
		}
		if err := st.Add(store.Account{
			Provider: provider,
			Email:    provider + "@local",
			Status:   store.StatusActive,
			IsActive: len(existing) == 0,
			Token:    models.Token{RefreshToken: baseURL, ProjectID: "default"},
		}); err != nil {
			log.Warn("registering local provider failed", "provider", provider, "error", err)
			return
		}
		log.Info("registered local provider", "provider", provider, "base_url", baseURL)
	}

	if cfg.LocalAI.Ollama.Enabled {
		add("local-ollama", cfg.LocalAI.Ollama.URL)
	}
	if cfg.LocalAI.LMStudio.Enabled {
		add("local-lmstudio", cfg.LocalAI.LMStudio.URL)
	}
	return nil
}
