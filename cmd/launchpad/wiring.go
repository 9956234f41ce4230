package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"launchpad/internal/actors"
	"launchpad/internal/agent"
	"launchpad/internal/config"
	"launchpad/internal/fee"
	"launchpad/internal/identity"
	"launchpad/internal/orchestrator"
	"launchpad/internal/principal"
	"launchpad/internal/provision"
	"launchpad/internal/session"
	"launchpad/internal/storage"
	"launchpad/internal/wasm"
)

// app holds the collaborators every command builds from configuration
type app struct {
	cfg      *config.Config
	sessions *session.Factory
	repo     storage.Repository
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	configureLogger(cfg.LogLevel)
	slog.Info("Configuration loaded",
		"ic_host", cfg.Host,
		"query_hosts", cfg.QueryHosts,
		"wallet_funded", cfg.UsesWallet(),
		"deployment_fee_icp", cfg.DeploymentFee,
		"dev_fee_bypass", cfg.DevFeeBypass,
		"log_level", cfg.LogLevel,
	)
	return cfg, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:      cfg,
		sessions: newSessionFactory(cfg),
		repo:     repo,
	}, nil
}

func newSessionFactory(cfg *config.Config) *session.Factory {
	return session.NewFactory(cfg.Host, cfg.QueryHosts, cfg.Retry)
}

func (a *app) Close() {
	if err := a.repo.Close(); err != nil {
		slog.Error("Failed to close repository", "error", err)
	}
}

// openRepository uses Postgres when DATABASE_URL is set and memory otherwise
func openRepository(ctx context.Context, cfg *config.Config) (storage.Repository, error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set, deployment records are kept in memory")
		return storage.NewMemoryRepository(), nil
	}
	repo, err := storage.NewPostgresRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		repo.Close()
		return nil, err
	}
	slog.Info("Database connected successfully")
	return repo, nil
}

func (a *app) moduleCache(ctx context.Context) (wasm.Cache, error) {
	if a.cfg.WasmCacheBucket == "" {
		return wasm.NewMemoryCache(), nil
	}
	return wasm.NewS3Cache(ctx, wasm.S3Config{
		Bucket:    a.cfg.WasmCacheBucket,
		Region:    a.cfg.S3Region,
		Endpoint:  a.cfg.S3Endpoint,
		AccessKey: a.cfg.S3AccessKey,
		SecretKey: a.cfg.S3SecretKey,
	})
}

func (a *app) acquirer(ctx context.Context) (*wasm.Acquirer, error) {
	cache, err := a.moduleCache(ctx)
	if err != nil {
		return nil, err
	}
	return wasm.NewAcquirer(wasm.Config{
		URL:    a.cfg.WasmURL,
		SHA256: a.cfg.WasmSHA256,
		Key:    a.cfg.WasmCacheKey,
		Retry:  a.cfg.Retry,
	}, cache)
}

// treasury opens a session as the configured treasury identity
func (a *app) treasury(ctx context.Context) (actors.Caller, error) {
	id, err := identity.Reconstruct(a.cfg.TreasuryIdentity)
	if err != nil {
		return nil, fmt.Errorf("TREASURY_IDENTITY: %w", err)
	}
	return a.sessions.CreateWithIdentity(ctx, id)
}

func (a *app) orchestrator(ctx context.Context) (*orchestrator.Orchestrator, error) {
	modules, err := a.acquirer(ctx)
	if err != nil {
		return nil, err
	}

	fees, err := fee.NewCollector(a.cfg.Ledger(), a.treasuryAccount(), a.cfg.DeploymentFee)
	if err != nil {
		return nil, err
	}

	strategy, err := provision.Select(provision.Config{
		WalletID: a.cfg.WalletID(),
		Cycles:   a.cfg.Cycles,
		Local:    agent.IsLocalHost(a.cfg.Host),
		Treasury: a.treasury,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Provisioning strategy selected", "strategy", strategy.Kind())

	return orchestrator.New(a.sessions, fees, modules, strategy, a.repo, orchestrator.Options{
		DevFeeBypass: a.cfg.DevFeeBypass,
	}), nil
}

// treasuryAccount is the zero account when no fee is charged
func (a *app) treasuryAccount() principal.Account {
	if a.cfg.TreasuryAccount == "" {
		return principal.Account{}
	}
	// Validate already checked it
	acct, _ := a.cfg.Treasury()
	return acct
}

// readJSON decodes a file, or stdin when path is "-"
func readJSON(path string, v any) error {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// readDelegation loads an identity payload file. Non-JSON content is passed
// through as text so raw hex or base64 keys work.
func readDelegation(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read delegation: %w", err)
	}
	payload, err := identity.DecodeJSON(data)
	if err != nil {
		return string(data), nil
	}
	return payload, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
