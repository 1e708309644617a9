package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/omnibus_custody/logger"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Chain     ChainConfig     `yaml:"chain"`
	Policy    PolicyConfig    `yaml:"policy"`
	Ingest    IngestConfig    `yaml:"ingest"`
	JWT       JWTConfig       `yaml:"jwt"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Log       logger.Config   `yaml:"log"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	Mode            string        `yaml:"mode"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type ChainConfig struct {
	RPCURL           string        `yaml:"rpc_url"`
	ChainID          int64         `yaml:"chain_id"`
	OmnibusContract  string        `yaml:"omnibus_contract"`
	ColdContract     string        `yaml:"cold_contract"`
	GuardContract    string        `yaml:"guard_contract"`
	SignerPrivateKey string        `yaml:"signer_private_key"`
	TSSPrivateKey    string        `yaml:"tss_private_key"`
	TSSSignerURL     string        `yaml:"tss_signer_url"`
	TSSSignerAddress string        `yaml:"tss_signer_address"`
	Mnemonic         string        `yaml:"mnemonic"`
	ReceiptTimeout   time.Duration `yaml:"receipt_timeout"`
}

type PolicyConfig struct {
	SmallTxThresholdEth string `yaml:"small_tx_threshold_eth"`
}

type IngestConfig struct {
	Confirmations   uint64        `yaml:"confirmations"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	StartBlock      uint64        `yaml:"start_block"`
	KeyRefresh      time.Duration `yaml:"key_refresh"`
	ReconnectBase   time.Duration `yaml:"reconnect_base"`
	ReconnectMax    time.Duration `yaml:"reconnect_max"`
	PendingLookback uint64        `yaml:"pending_lookback"`
}

type JWTConfig struct {
	Secret string `yaml:"secret"`
}

type WebSocketConfig struct {
	ReadBufferSize  int  `yaml:"read_buffer_size"`
	WriteBufferSize int  `yaml:"write_buffer_size"`
	CheckOrigin     bool `yaml:"check_origin"`
	QueueSize       int  `yaml:"queue_size"`
}

// Load reads .env (optional), then the YAML file at path (optional), then
// applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Port, "SERVER_PORT")
	setString(&c.Server.Mode, "GIN_MODE")
	setString(&c.Database.DSN, "DATABASE_DSN")
	setString(&c.Chain.RPCURL, "RPC_URL")
	setString(&c.Chain.OmnibusContract, "OMNIBUS_CONTRACT")
	setString(&c.Chain.ColdContract, "COLD_CONTRACT")
	setString(&c.Chain.GuardContract, "GUARD_CONTRACT")
	setString(&c.Chain.SignerPrivateKey, "SIGNER_PRIVATE_KEY")
	setString(&c.Chain.TSSPrivateKey, "TSS_PRIVATE_KEY")
	setString(&c.Chain.TSSSignerURL, "TSS_SIGNER_URL")
	setString(&c.Chain.TSSSignerAddress, "TSS_SIGNER_ADDRESS")
	setString(&c.Chain.Mnemonic, "SIGNER_MNEMONIC")
	setString(&c.Policy.SmallTxThresholdEth, "SMALL_TX_THRESHOLD_ETH")
	setString(&c.JWT.Secret, "JWT_SECRET")
	setString(&c.Log.Level, "LOG_LEVEL")

	if v := os.Getenv("LOG_PRETTY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LOG_PRETTY: %w", err)
		}
		c.Log.Pretty = b
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("CHAIN_ID: %w", err)
		}
		c.Chain.ChainID = id
	}
	if v := os.Getenv("INGEST_CONFIRMATIONS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("INGEST_CONFIRMATIONS: %w", err)
		}
		c.Ingest.Confirmations = n
	}
	if v := os.Getenv("INGEST_START_BLOCK"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("INGEST_START_BLOCK: %w", err)
		}
		c.Ingest.StartBlock = n
	}
	for env, dst := range map[string]*time.Duration{
		"CHAIN_RECEIPT_TIMEOUT":   &c.Chain.ReceiptTimeout,
		"INGEST_POLL_INTERVAL":    &c.Ingest.PollInterval,
		"INGEST_KEY_REFRESH":      &c.Ingest.KeyRefresh,
		"INGEST_RECONNECT_BASE":   &c.Ingest.ReconnectBase,
		"INGEST_RECONNECT_MAX":    &c.Ingest.ReconnectMax,
		"SERVER_SHUTDOWN_TIMEOUT": &c.Server.ShutdownTimeout,
	} {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", env, err)
		}
		*dst = d
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Chain.ReceiptTimeout == 0 {
		c.Chain.ReceiptTimeout = 2 * time.Minute
	}
	if c.Policy.SmallTxThresholdEth == "" {
		c.Policy.SmallTxThresholdEth = "0.01"
	}
	if c.Ingest.PollInterval == 0 {
		c.Ingest.PollInterval = 3 * time.Second
	}
	if c.Ingest.KeyRefresh == 0 {
		c.Ingest.KeyRefresh = 5 * time.Minute
	}
	if c.Ingest.ReconnectBase == 0 {
		c.Ingest.ReconnectBase = 5 * time.Second
	}
	if c.Ingest.ReconnectMax == 0 {
		c.Ingest.ReconnectMax = 5 * time.Minute
	}
	if c.Ingest.PendingLookback == 0 {
		c.Ingest.PendingLookback = 10000
	}
	if c.WebSocket.ReadBufferSize == 0 {
		c.WebSocket.ReadBufferSize = 1024
	}
	if c.WebSocket.WriteBufferSize == 0 {
		c.WebSocket.WriteBufferSize = 1024
	}
	if c.WebSocket.QueueSize == 0 {
		c.WebSocket.QueueSize = 256
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks the settings every command that talks to the chain needs.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN is required"))
	}
	if c.Chain.RPCURL == "" {
		errs = append(errs, errors.New("RPC_URL is required"))
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, errors.New("CHAIN_ID must be positive"))
	}
	if !common.IsHexAddress(c.Chain.OmnibusContract) {
		errs = append(errs, errors.New("OMNIBUS_CONTRACT must be a hex address"))
	}
	if c.Chain.ColdContract != "" && !common.IsHexAddress(c.Chain.ColdContract) {
		errs = append(errs, errors.New("COLD_CONTRACT must be a hex address"))
	}
	if c.Chain.GuardContract != "" && !common.IsHexAddress(c.Chain.GuardContract) {
		errs = append(errs, errors.New("GUARD_CONTRACT must be a hex address"))
	}
	if c.Chain.SignerPrivateKey == "" && c.Chain.Mnemonic == "" {
		errs = append(errs, errors.New("SIGNER_PRIVATE_KEY or SIGNER_MNEMONIC is required"))
	}
	if c.Chain.TSSPrivateKey == "" && c.Chain.TSSSignerURL == "" && c.Chain.Mnemonic == "" {
		errs = append(errs, errors.New("TSS_PRIVATE_KEY, TSS_SIGNER_URL or SIGNER_MNEMONIC is required"))
	}
	if c.Chain.TSSSignerURL != "" && !common.IsHexAddress(c.Chain.TSSSignerAddress) {
		errs = append(errs, errors.New("TSS_SIGNER_ADDRESS is required with TSS_SIGNER_URL"))
	}
	if len(c.JWT.Secret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 16 characters"))
	}
	return errors.Join(errs...)
}

func setString(dst *string, env string) {
	if v, ok := os.LookupEnv(env); ok && v != "" {
		*dst = v
	}
}
