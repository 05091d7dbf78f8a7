// Package config defines the top-level configuration for the bnbmarket
// client and provides validation helpers.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
	"github.com/alanyoungcy/bnbmarket/internal/wallet"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BNBMARKET_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Network  NetworkConfig  `toml:"network"`
	Contract ContractConfig `toml:"contract"`
	Executor ExecutorConfig `toml:"executor"`
	Backend  BackendConfig  `toml:"backend"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Watch    WatchConfig    `toml:"watch"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig selects the signing key and how the headless wallet
// behaves.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	// Preferred is the vendor tried first when connecting.
	Preferred string `toml:"preferred"`
	// Identity is the vendor the keystore wallet announces itself as.
	Identity string `toml:"identity"`
	// AutoApprove accepts every wallet prompt; otherwise the terminal asks.
	AutoApprove    bool   `toml:"auto_approve"`
	UserAgent      string `toml:"user_agent"`
	DappURL        string `toml:"dapp_url"`
	PreferencePath string `toml:"preference_path"`
}

// NetworkConfig picks the chain the contract is deployed on.
type NetworkConfig struct {
	ChainID string `toml:"chain_id"`
	RPCURL  string `toml:"rpc_url"`
}

// ContractConfig holds the prediction market address.
type ContractConfig struct {
	Address string `toml:"address"`
}

// ExecutorConfig tunes transaction submission.
type ExecutorConfig struct {
	ReceiptPollInterval duration `toml:"receipt_poll_interval"`
	// ReceiptTimeout bounds the wait for a receipt; zero waits until the
	// request is cancelled.
	ReceiptTimeout   duration `toml:"receipt_timeout"`
	GasBufferPercent int      `toml:"gas_buffer_percent"`
}

// BackendConfig holds the market backend endpoints.
type BackendConfig struct {
	APIBaseURL string `toml:"api_base_url"`
	// SocketURL overrides the push endpoint derived from APIBaseURL.
	SocketURL string   `toml:"socket_url"`
	PageSize  int      `toml:"page_size"`
	Timeout   duration `toml:"timeout"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	PublicBaseURL  string `toml:"public_base_url"`
}

// ServerConfig holds the HTTP API parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit caps write requests per client per minute; 0 disables it.
	RateLimit int `toml:"rate_limit"`
}

// WatchConfig tunes the background loop of watch mode.
type WatchConfig struct {
	ResyncInterval duration `toml:"resync_interval"`
	ResyncBatch    int      `toml:"resync_batch"`
	LockTTL        duration `toml:"lock_ttl"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so TOML strings like "2s" decode.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sensible defaults.
func Defaults() Config {
	return Config{
		Wallet: WalletConfig{
			Preferred:      string(domain.WalletMetaMask),
			Identity:       string(domain.WalletMetaMask),
			UserAgent:      "bnbmarket/1.0",
			DappURL:        "http://localhost:3000",
			PreferencePath: "data/preferences.json",
		},
		Network: NetworkConfig{
			ChainID: "0x61",
		},
		Contract: ContractConfig{
			Address: "0xbFE71302361596be1F789fd789ad4eaF7cb63913",
		},
		Executor: ExecutorConfig{
			ReceiptPollInterval: duration{2 * time.Second},
			GasBufferPercent:    10,
		},
		Backend: BackendConfig{
			APIBaseURL: "http://localhost:5000/api",
			PageSize:   10,
			Timeout:    duration{30 * time.Second},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "bnbmarket:",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "bnbmarket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "bnbmarket-images",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   30,
		},
		Watch: WatchConfig{
			ResyncInterval: duration{time.Minute},
			ResyncBatch:    50,
			LockTTL:        duration{30 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"bet_placed", "liquidity_provided", "tx_failed", "sync_failed"},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server": true,
	"watch":  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsWallet reports whether mode signs transactions.
func NeedsWallet(mode string) bool {
	return strings.EqualFold(mode, "server")
}

// Validate checks the configuration for logical errors and returns a
// combined error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, watch)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if NeedsWallet(c.Mode) {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
	}
	if c.Wallet.Preferred != "" {
		if _, ok := domain.ParseWalletType(c.Wallet.Preferred); !ok {
			errs = append(errs, fmt.Sprintf("wallet: unknown preferred wallet %q (valid: metamask, trustwallet)", c.Wallet.Preferred))
		}
	}
	if _, ok := domain.ParseWalletType(c.Wallet.Identity); !ok {
		errs = append(errs, fmt.Sprintf("wallet: unknown identity %q (valid: metamask, trustwallet)", c.Wallet.Identity))
	}

	if c.Network.ChainID != "" {
		if _, ok := wallet.NormalizeChainID(c.Network.ChainID); !ok {
			errs = append(errs, fmt.Sprintf("network: invalid chain_id %q", c.Network.ChainID))
		}
	}
	if c.Network.RPCURL != "" && !isHTTPURL(c.Network.RPCURL) {
		errs = append(errs, "network: rpc_url must be an http(s) URL")
	}

	if !common.IsHexAddress(c.Contract.Address) {
		errs = append(errs, fmt.Sprintf("contract: invalid address %q", c.Contract.Address))
	}

	if c.Executor.ReceiptPollInterval.Duration <= 0 {
		errs = append(errs, "executor: receipt_poll_interval must be > 0")
	}
	if c.Executor.ReceiptTimeout.Duration < 0 {
		errs = append(errs, "executor: receipt_timeout must be >= 0")
	}
	if c.Executor.GasBufferPercent < 0 || c.Executor.GasBufferPercent > 100 {
		errs = append(errs, fmt.Sprintf("executor: gas_buffer_percent must be 0-100, got %d", c.Executor.GasBufferPercent))
	}

	if !isHTTPURL(c.Backend.APIBaseURL) {
		errs = append(errs, "backend: api_base_url must be an http(s) URL")
	}
	if c.Backend.SocketURL != "" {
		if u, err := url.Parse(c.Backend.SocketURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, "backend: socket_url must be a ws(s) URL")
		}
	}
	if c.Backend.PageSize < 1 || c.Backend.PageSize > 100 {
		errs = append(errs, fmt.Sprintf("backend: page_size must be 1-100, got %d", c.Backend.PageSize))
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must be >= 0")
	}

	if strings.EqualFold(c.Mode, "watch") {
		if c.Watch.ResyncInterval.Duration <= 0 {
			errs = append(errs, "watch: resync_interval must be > 0")
		}
		if c.Watch.LockTTL.Duration < time.Second {
			errs = append(errs, "watch: lock_ttl must be at least 1s")
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
