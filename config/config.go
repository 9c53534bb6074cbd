// Package config loads the faucetd runtime configuration from YAML.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support human-readable YAML values.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings such as "30s" or "24h".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a string")
	}
	if value.Value == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for faucetd.
type Config struct {
	ListenAddress string           `yaml:"listen"`
	Admin         AdminConfig      `yaml:"admin"`
	Storage       StorageConfig    `yaml:"storage"`
	Chain         ChainConfig      `yaml:"chain"`
	Wallet        WalletConfig     `yaml:"wallet"`
	Faucet        FaucetConfig     `yaml:"faucet"`
	Reconciler    ReconcilerConfig `yaml:"reconciler"`
}

// AdminConfig secures the operator endpoints.
type AdminConfig struct {
	BearerToken     string `yaml:"bearer_token"`
	BearerTokenFile string `yaml:"bearer_token_file"`
}

// StorageConfig selects and tunes the backing store.
type StorageConfig struct {
	Backend string        `yaml:"backend"`
	Redis   RedisConfig   `yaml:"redis"`
	LevelDB LevelDBConfig `yaml:"leveldb"`
}

// RedisConfig carries Redis connection settings.
type RedisConfig struct {
	Addr        string   `yaml:"addr"`
	Password    string   `yaml:"password"`
	PasswordEnv string   `yaml:"password_env"`
	DB          int      `yaml:"db"`
	DialTimeout Duration `yaml:"dial_timeout"`
	OpTimeout   Duration `yaml:"op_timeout"`
}

// LevelDBConfig locates the on-disk store for single-node deployments.
type LevelDBConfig struct {
	Path string `yaml:"path"`
}

// ChainConfig points at the chain gateway.
type ChainConfig struct {
	Endpoint  string   `yaml:"endpoint"`
	APIKey    string   `yaml:"api_key"`
	APIKeyEnv string   `yaml:"api_key_env"`
	Timeout   Duration `yaml:"timeout"`
}

// WalletConfig names where the seed phrase comes from. The mnemonic itself
// never lives in the YAML file.
type WalletConfig struct {
	MnemonicEnv    string   `yaml:"mnemonic_env"`
	MnemonicFile   string   `yaml:"mnemonic_file"`
	ReserveRetries int      `yaml:"reserve_retries"`
	DraftValidity  Duration `yaml:"draft_validity"`
}

// FaucetConfig is the issuance policy.
type FaucetConfig struct {
	DefaultAmount      string   `yaml:"default_amount"`
	MaxAmount          string   `yaml:"max_amount"`
	Window             Duration `yaml:"window"`
	MaxClaimsPerWindow int64    `yaml:"max_claims_per_window"`
	ConfirmTimeout     Duration `yaml:"confirm_timeout"`
	PollInitial        Duration `yaml:"poll_initial"`
	PollMax            Duration `yaml:"poll_max"`
	PauseOnStart       bool     `yaml:"pause"`
}

// ReconcilerConfig tunes the recovery sweep.
type ReconcilerConfig struct {
	Interval   Duration `yaml:"interval"`
	StaleAfter Duration `yaml:"stale_after"`
}

// Load reads, parses and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		ListenAddress: ":8080",
		Storage:       StorageConfig{Backend: "redis"},
		Faucet: FaucetConfig{
			DefaultAmount:      "1",
			MaxAmount:          "100",
			Window:             Duration{24 * time.Hour},
			MaxClaimsPerWindow: 1,
			ConfirmTimeout:     Duration{15 * time.Second},
			PollInitial:        Duration{time.Second},
			PollMax:            Duration{8 * time.Second},
		},
		Reconciler: ReconcilerConfig{
			Interval:   Duration{time.Minute},
			StaleAfter: Duration{2 * time.Minute},
		},
	}
}

func (c *Config) validate() error {
	switch strings.TrimSpace(c.Storage.Backend) {
	case "redis":
		if strings.TrimSpace(c.Storage.Redis.Addr) == "" {
			return fmt.Errorf("storage.redis.addr required for the redis backend")
		}
	case "leveldb":
		if strings.TrimSpace(c.Storage.LevelDB.Path) == "" {
			return fmt.Errorf("storage.leveldb.path required for the leveldb backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if strings.TrimSpace(c.Chain.Endpoint) == "" {
		return fmt.Errorf("chain.endpoint required")
	}
	if strings.TrimSpace(c.Wallet.MnemonicEnv) == "" && strings.TrimSpace(c.Wallet.MnemonicFile) == "" {
		return fmt.Errorf("wallet.mnemonic_env or wallet.mnemonic_file required")
	}
	if _, err := c.ParsedDefaultAmount(); err != nil {
		return err
	}
	max, err := c.ParsedMaxAmount()
	if err != nil {
		return err
	}
	def, _ := c.ParsedDefaultAmount()
	if def.Cmp(max) > 0 {
		return fmt.Errorf("faucet.default_amount exceeds faucet.max_amount")
	}
	if c.Faucet.MaxClaimsPerWindow <= 0 {
		return fmt.Errorf("faucet.max_claims_per_window must be positive")
	}
	return nil
}

func parseAmount(field, raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%s: invalid amount %q", field, raw)
	}
	return amount, nil
}

// ParsedDefaultAmount returns faucet.default_amount as an integer.
func (c *Config) ParsedDefaultAmount() (*big.Int, error) {
	return parseAmount("faucet.default_amount", c.Faucet.DefaultAmount)
}

// ParsedMaxAmount returns faucet.max_amount as an integer.
func (c *Config) ParsedMaxAmount() (*big.Int, error) {
	return parseAmount("faucet.max_amount", c.Faucet.MaxAmount)
}

// Mnemonic resolves the wallet seed phrase from its configured indirection.
func (c *Config) Mnemonic() (string, error) {
	if env := strings.TrimSpace(c.Wallet.MnemonicEnv); env != "" {
		if value := strings.TrimSpace(os.Getenv(env)); value != "" {
			return value, nil
		}
		return "", fmt.Errorf("wallet mnemonic env %s is empty", env)
	}
	if file := strings.TrimSpace(c.Wallet.MnemonicFile); file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read mnemonic file: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	return "", fmt.Errorf("wallet mnemonic not configured")
}

// ChainAPIKey resolves the gateway API key.
func (c *Config) ChainAPIKey() string {
	if env := strings.TrimSpace(c.Chain.APIKeyEnv); env != "" {
		if value := strings.TrimSpace(os.Getenv(env)); value != "" {
			return value
		}
	}
	return strings.TrimSpace(c.Chain.APIKey)
}

// RedisPassword resolves the Redis password.
func (c *Config) RedisPassword() string {
	if env := strings.TrimSpace(c.Storage.Redis.PasswordEnv); env != "" {
		if value := os.Getenv(env); value != "" {
			return value
		}
	}
	return c.Storage.Redis.Password
}

// AdminBearerToken resolves the operator bearer token, preferring the file
// indirection.
func (c *Config) AdminBearerToken() (string, error) {
	if file := strings.TrimSpace(c.Admin.BearerTokenFile); file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read bearer token file: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	return strings.TrimSpace(c.Admin.BearerToken), nil
}
