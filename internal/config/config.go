// Package config loads launchpad settings from the environment, optionally
// overlaid by a YAML file named in LAUNCHPAD_CONFIG.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"launchpad/internal/fee"
	"launchpad/internal/principal"
	"launchpad/internal/retry"
	"launchpad/internal/wasm"
)

// ConfigEnv names the optional YAML overlay
const ConfigEnv = "LAUNCHPAD_CONFIG"

const (
	defaultHost       = "https://icp-api.io"
	defaultCycles     = 2_000_000_000_000
	defaultFee        = "0"
	defaultLogLevel   = "info"
	defaultHTTPPort   = 8080
	defaultS3Region   = "us-east-1"
	defaultQueryHosts = "https://icp-api.io,https://ic0.app,https://icp0.io"
)

type Config struct {
	// Replica network
	Host       string   `yaml:"ic_host"`
	QueryHosts []string `yaml:"ic_query_hosts"`
	LedgerID   string   `yaml:"ledger_canister_id"`

	// Treasury and fees
	Cycles             uint64 `yaml:"cycles_amount"`
	DeploymentFee      string `yaml:"deployment_fee_icp"`
	TreasuryAccount    string `yaml:"treasury_account"`
	TreasurySubaccount string `yaml:"treasury_subaccount"`
	TreasuryWalletID   string `yaml:"treasury_wallet_id"`
	TreasuryIdentity   string `yaml:"treasury_identity"`
	DevFeeBypass       bool   `yaml:"dev_fee_bypass"`

	// Contract module
	WasmURL         string `yaml:"wasm_url"`
	WasmSHA256      string `yaml:"wasm_sha256"`
	WasmCacheBucket string `yaml:"wasm_cache_bucket"`
	WasmCacheKey    string `yaml:"wasm_cache_key"`
	S3Region        string `yaml:"s3_region"`
	S3Endpoint      string `yaml:"s3_endpoint"`
	S3AccessKey     string `yaml:"s3_access_key"`
	S3SecretKey     string `yaml:"s3_secret_key"`

	// Service
	DatabaseURL string `yaml:"database_url"`
	LogLevel    string `yaml:"log_level"`
	HTTPPort    int    `yaml:"http_port"`

	Retry retry.Config `yaml:"-"`
}

// Load reads the environment and applies the YAML overlay if one is named
func Load() (*Config, error) {
	cfg := FromEnv()
	if path := os.Getenv(ConfigEnv); path != "" {
		if err := cfg.overlay(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables and defaults
func FromEnv() *Config {
	return &Config{
		Host:       getEnv("IC_HOST", defaultHost),
		QueryHosts: splitList(getEnv("IC_QUERY_HOSTS", defaultQueryHosts)),
		LedgerID:   getEnv("LEDGER_CANISTER_ID", principal.Ledger.String()),

		Cycles:             getEnvAsUint64("CYCLES_AMOUNT", defaultCycles),
		DeploymentFee:      getEnv("DEPLOYMENT_FEE_ICP", defaultFee),
		TreasuryAccount:    os.Getenv("TREASURY_ACCOUNT"),
		TreasurySubaccount: os.Getenv("TREASURY_SUBACCOUNT"),
		TreasuryWalletID:   os.Getenv("TREASURY_WALLET_ID"),
		TreasuryIdentity:   os.Getenv("TREASURY_IDENTITY"),
		DevFeeBypass:       getEnvAsBool("DEV_FEE_BYPASS", false),

		WasmURL:         os.Getenv("WASM_URL"),
		WasmSHA256:      strings.ToLower(os.Getenv("WASM_SHA256")),
		WasmCacheBucket: os.Getenv("WASM_CACHE_BUCKET"),
		WasmCacheKey:    getEnv("WASM_CACHE_KEY", wasm.DefaultKey),
		S3Region:        getEnv("S3_REGION", defaultS3Region),
		S3Endpoint:      os.Getenv("S3_ENDPOINT"),
		S3AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("S3_SECRET_KEY"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		LogLevel:    getEnv("LOG_LEVEL", defaultLogLevel),
		HTTPPort:    getEnvAsInt("HTTP_PORT", defaultHTTPPort),

		Retry: retry.LoadConfig(),
	}
}

// overlay replaces the fields present in the YAML file at path
func (c *Config) overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("IC_HOST is required"))
	}
	if len(c.QueryHosts) == 0 {
		errs = append(errs, errors.New("IC_QUERY_HOSTS needs at least one host"))
	}
	if _, err := principal.Decode(c.LedgerID); err != nil {
		errs = append(errs, fmt.Errorf("LEDGER_CANISTER_ID: %w", err))
	}

	amount, err := fee.ParseE8s(c.DeploymentFee)
	if err != nil {
		errs = append(errs, fmt.Errorf("DEPLOYMENT_FEE_ICP: %w", err))
	}
	if amount != nil && amount.Sign() > 0 && c.TreasuryAccount == "" {
		errs = append(errs, errors.New("TREASURY_ACCOUNT is required when a deployment fee is set"))
	}
	if c.TreasuryAccount != "" {
		if _, err := c.Treasury(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.TreasuryWalletID != "" {
		if _, err := principal.Decode(c.TreasuryWalletID); err != nil {
			errs = append(errs, fmt.Errorf("TREASURY_WALLET_ID: %w", err))
		}
		if c.TreasuryIdentity == "" {
			errs = append(errs, errors.New("TREASURY_IDENTITY is required with TREASURY_WALLET_ID"))
		}
	}

	if c.WasmURL == "" {
		errs = append(errs, errors.New("WASM_URL is required"))
	}
	if c.WasmSHA256 != "" {
		if b, err := hex.DecodeString(c.WasmSHA256); err != nil || len(b) != 32 {
			errs = append(errs, errors.New("WASM_SHA256 must be 64 hex characters"))
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", c.LogLevel))
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("HTTP_PORT %d is out of range", c.HTTPPort))
	}
	return errors.Join(errs...)
}

// Ledger returns the ledger canister id
func (c *Config) Ledger() principal.Principal {
	p, err := principal.Decode(c.LedgerID)
	if err != nil {
		return principal.Ledger
	}
	return p
}

// Treasury returns the account deployment fees are paid to
func (c *Config) Treasury() (principal.Account, error) {
	owner, err := principal.Decode(c.TreasuryAccount)
	if err != nil {
		return principal.Account{}, fmt.Errorf("TREASURY_ACCOUNT: %w", err)
	}
	sub, err := principal.ParseSubaccount(c.TreasurySubaccount)
	if err != nil {
		return principal.Account{}, fmt.Errorf("TREASURY_SUBACCOUNT: %w", err)
	}
	return principal.Account{Owner: owner, Subaccount: sub}, nil
}

// WalletID returns the treasury cycles wallet, or the zero principal when
// deployments are user funded
func (c *Config) WalletID() principal.Principal {
	if c.TreasuryWalletID == "" {
		return principal.Principal{}
	}
	p, _ := principal.Decode(c.TreasuryWalletID)
	return p
}

// UsesWallet reports whether the wallet-funded strategy is configured
func (c *Config) UsesWallet() bool {
	return c.TreasuryWalletID != ""
}

// Helper: get string from env with a default
func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// Helper: get bool from env
func getEnvAsBool(key string, defaultVal bool) bool {
	val, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return val
}

// Helper: get int from env
func getEnvAsInt(key string, defaultVal int) int {
	val, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return val
}

// Helper: get uint64 from env
func getEnvAsUint64(key string, defaultVal uint64) uint64 {
	val, err := strconv.ParseUint(os.Getenv(key), 10, 64)
	if err != nil {
		return defaultVal
	}
	return val
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
