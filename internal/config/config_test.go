package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchpad/internal/principal"
	"launchpad/internal/wasm"
)

const sha = "aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899"

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, "https://icp-api.io", cfg.Host)
	assert.Equal(t, []string{"https://icp-api.io", "https://ic0.app", "https://icp0.io"}, cfg.QueryHosts)
	assert.Equal(t, principal.Ledger, cfg.Ledger())
	assert.Equal(t, uint64(2_000_000_000_000), cfg.Cycles)
	assert.Equal(t, "0", cfg.DeploymentFee)
	assert.Equal(t, wasm.DefaultKey, cfg.WasmCacheKey)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.False(t, cfg.UsesWallet())
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestFromEnv_Values(t *testing.T) {
	t.Setenv("IC_HOST", "http://127.0.0.1:4943")
	t.Setenv("IC_QUERY_HOSTS", " http://127.0.0.1:4943 , ,https://icp0.io")
	t.Setenv("CYCLES_AMOUNT", "500")
	t.Setenv("DEV_FEE_BYPASS", "true")
	t.Setenv("WASM_SHA256", strings.ToUpper(sha))
	t.Setenv("TREASURY_WALLET_ID", "rdmx6-jaaaa-aaaaa-aaadq-cai")

	cfg := FromEnv()
	assert.Equal(t, []string{"http://127.0.0.1:4943", "https://icp0.io"}, cfg.QueryHosts)
	assert.Equal(t, uint64(500), cfg.Cycles)
	assert.True(t, cfg.DevFeeBypass)
	assert.Equal(t, sha, cfg.WasmSHA256)
	assert.True(t, cfg.UsesWallet())
	assert.Equal(t, "rdmx6-jaaaa-aaaaa-aaadq-cai", cfg.WalletID().String())
}

func TestLoad_YAMLOverlay(t *testing.T) {
	t.Setenv("IC_HOST", "https://from-env.example")
	t.Setenv("WASM_URL", "https://from-env.example/ledger.wasm")

	path := filepath.Join(t.TempDir(), "launchpad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ic_host: https://from-file.example
deployment_fee_icp: "0.5"
treasury_account: qoctq-giaaa-aaaaa-aaaea-cai
http_port: 9000
`), 0o600))
	t.Setenv(ConfigEnv, path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://from-file.example", cfg.Host)
	assert.Equal(t, "https://from-env.example/ledger.wasm", cfg.WasmURL, "unset keys keep the env value")
	assert.Equal(t, "0.5", cfg.DeploymentFee)
	assert.Equal(t, 9000, cfg.HTTPPort)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv(ConfigEnv, filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func validConfig() *Config {
	cfg := FromEnv()
	cfg.WasmURL = "https://example.com/ledger.wasm"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no host", func(c *Config) { c.Host = "" }, "IC_HOST"},
		{"no query hosts", func(c *Config) { c.QueryHosts = nil }, "IC_QUERY_HOSTS"},
		{"bad ledger", func(c *Config) { c.LedgerID = "ledger" }, "LEDGER_CANISTER_ID"},
		{"bad fee", func(c *Config) { c.DeploymentFee = "one" }, "DEPLOYMENT_FEE_ICP"},
		{"fee without treasury", func(c *Config) { c.DeploymentFee = "1" }, "TREASURY_ACCOUNT"},
		{"bad subaccount", func(c *Config) {
			c.TreasuryAccount = "qoctq-giaaa-aaaaa-aaaea-cai"
			c.TreasurySubaccount = "xyz"
		}, "TREASURY_SUBACCOUNT"},
		{"wallet without identity", func(c *Config) { c.TreasuryWalletID = "rdmx6-jaaaa-aaaaa-aaadq-cai" }, "TREASURY_IDENTITY"},
		{"no module url", func(c *Config) { c.WasmURL = "" }, "WASM_URL"},
		{"short checksum", func(c *Config) { c.WasmSHA256 = "abcd" }, "WASM_SHA256"},
		{"log level", func(c *Config) { c.LogLevel = "trace" }, "LOG_LEVEL"},
		{"port", func(c *Config) { c.HTTPPort = 0 }, "HTTP_PORT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTreasury(t *testing.T) {
	cfg := validConfig()
	cfg.TreasuryAccount = "qoctq-giaaa-aaaaa-aaaea-cai"
	cfg.TreasurySubaccount = "01"

	acct, err := cfg.Treasury()
	require.NoError(t, err)
	assert.Equal(t, "qoctq-giaaa-aaaaa-aaaea-cai", acct.Owner.String())
	require.Len(t, acct.Subaccount, principal.SubaccountLength)
	assert.Equal(t, byte(1), acct.Subaccount[principal.SubaccountLength-1])
}
