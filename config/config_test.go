package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  port: "9000"
database:
  dsn: "host=db user=custody"
chain:
  rpc_url: "http://node:8545"
  chain_id: 11155111
  omnibus_contract: "0x1111111111111111111111111111111111111111"
  signer_private_key: "0xabc"
  tss_signer_url: "http://tss:7000"
  tss_signer_address: "0x2222222222222222222222222222222222222222"
  receipt_timeout: 45s
policy:
  small_tx_threshold_eth: "0.05"
ingest:
  poll_interval: 1s
jwt:
  secret: "0123456789abcdef0123"
log:
  level: debug
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadYAMLWithDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	require.Equal(t, "9000", cfg.Server.Port)
	require.Equal(t, int64(11155111), cfg.Chain.ChainID)
	require.Equal(t, 45*time.Second, cfg.Chain.ReceiptTimeout)
	require.Equal(t, "0.05", cfg.Policy.SmallTxThresholdEth)
	require.Equal(t, time.Second, cfg.Ingest.PollInterval)
	require.Equal(t, 5*time.Minute, cfg.Ingest.KeyRefresh)
	require.Equal(t, uint64(10000), cfg.Ingest.PendingLookback)
	require.Equal(t, "debug", cfg.Log.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "7777")
	t.Setenv("CHAIN_ID", "1")
	t.Setenv("SMALL_TX_THRESHOLD_ETH", "0.5")
	t.Setenv("INGEST_RECONNECT_BASE", "250ms")
	t.Setenv("LOG_PRETTY", "true")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	require.Equal(t, "7777", cfg.Server.Port)
	require.Equal(t, int64(1), cfg.Chain.ChainID)
	require.Equal(t, "0.5", cfg.Policy.SmallTxThresholdEth)
	require.Equal(t, 250*time.Millisecond, cfg.Ingest.ReconnectBase)
	require.True(t, cfg.Log.Pretty)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("INGEST_POLL_INTERVAL", "soon")
	_, err := Load(writeConfig(t, sampleYAML))
	require.ErrorContains(t, err, "INGEST_POLL_INTERVAL")
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "0.01", cfg.Policy.SmallTxThresholdEth)
	require.Equal(t, 2*time.Minute, cfg.Chain.ReceiptTimeout)
}

func TestValidateReportsEveryMissingSetting(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"DATABASE_DSN", "RPC_URL", "CHAIN_ID", "OMNIBUS_CONTRACT", "SIGNER_PRIVATE_KEY", "JWT_SECRET"} {
		require.ErrorContains(t, err, want)
	}
}
