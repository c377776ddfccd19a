// Package config loads relay settings from the environment and an optional
// config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/layer-3/paymaster/adapters/ledger"
	"github.com/layer-3/paymaster/adapters/store"
	"github.com/layer-3/paymaster/service"
)

var (
	ErrNoPrivateKey    = errors.New("config: SERVER_PRIVATE_KEY is required")
	ErrBadPort         = errors.New("config: PORT must be between 1 and 65535")
	ErrBadBackend      = errors.New("config: STORE_BACKEND must be redis, bbolt or memory")
	ErrNoRedisURL      = errors.New("config: REDIS_URL is required for the redis backend")
	ErrNoBoltPath      = errors.New("config: BOLT_PATH is required for the bbolt backend")
	ErrBadLimit        = errors.New("config: sponsorship limits must not be negative")
	ErrBadInterval     = errors.New("config: intervals must be positive")
	ErrBadRateLimit    = errors.New("config: rate limits must be positive")
	ErrBadProgramID    = errors.New("config: ALLOWED_PROGRAM_IDS holds an invalid public key")
	ErrConflictingJWT  = errors.New("config: set only one of JWT_SECRET and JWT_SIGNING_KEY_PEM")
	ErrBadSolanaTarget = errors.New("config: SOLANA_RPC_URL or a known SOLANA_NETWORK is required")
	ErrBadLookback     = errors.New("config: FEE_LOOKBACK_SLOTS must be positive")
)

// Config is the full relay configuration
type Config struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`

	StoreBackend string `mapstructure:"store_backend"`
	RedisURL     string `mapstructure:"redis_url"`
	BoltPath     string `mapstructure:"bolt_path"`

	SolanaRPCURL  string `mapstructure:"solana_rpc_url"`
	SolanaNetwork string `mapstructure:"solana_network"`

	ServerPrivateKey       string   `mapstructure:"server_private_key"`
	ServerPrivateKeyOld    string   `mapstructure:"server_private_key_old"`
	ServerPrivateKeysExtra []string `mapstructure:"-"`

	JWTSecret        string `mapstructure:"jwt_secret"`
	JWTSigningKeyPEM string `mapstructure:"jwt_signing_key_pem"`

	AllowedProgramIDs  []string `mapstructure:"-"`
	BlacklistAddresses []string `mapstructure:"-"`

	MaxSponsoredTransactions int64         `mapstructure:"max_sponsored_transactions"`
	MaxSponsoredAmountSOL    float64       `mapstructure:"max_sponsored_amount_sol"`
	BudgetWindow             time.Duration `mapstructure:"budget_window"`

	RebroadcastInterval    time.Duration `mapstructure:"rebroadcast_interval"`
	FeeCacheTTL            time.Duration `mapstructure:"fee_cache_ttl"`
	FeeLookbackSlots       int           `mapstructure:"fee_lookback_slots"`
	BalanceCheckInterval   time.Duration `mapstructure:"balance_check_interval"`
	LowBalanceThresholdSOL float64       `mapstructure:"low_balance_threshold_sol"`

	RateLimitWindow time.Duration `mapstructure:"rate_limit_window"`
	RateLimitGlobal int64         `mapstructure:"rate_limit_global"`
	RateLimitStrict int64         `mapstructure:"rate_limit_strict"`
	TrustedProxies  []string      `mapstructure:"-"`

	EventsEnabled bool `mapstructure:"events_enabled"`
}

// SetDefaults registers every key with its default on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", 3000)
	v.SetDefault("log_level", "INFO")
	v.SetDefault("store_backend", store.BackendRedis)
	v.SetDefault("redis_url", "redis://localhost:6379/0")
	v.SetDefault("bolt_path", "paymaster.db")
	v.SetDefault("solana_rpc_url", "")
	v.SetDefault("solana_network", ledger.NetworkDevnet)
	v.SetDefault("server_private_key", "")
	v.SetDefault("server_private_key_old", "")
	v.SetDefault("server_private_keys_extra", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_signing_key_pem", "")
	v.SetDefault("allowed_program_ids", service.MemoProgramV1.String()+","+service.MemoProgramV2.String())
	v.SetDefault("blacklist_addresses", "")
	v.SetDefault("max_sponsored_transactions", 5)
	v.SetDefault("max_sponsored_amount_sol", 0.0001)
	v.SetDefault("budget_window", time.Duration(0))
	v.SetDefault("rebroadcast_interval", 2*time.Second)
	v.SetDefault("fee_cache_ttl", 2*time.Second)
	v.SetDefault("fee_lookback_slots", service.DefaultLookbackSlots)
	v.SetDefault("balance_check_interval", 60*time.Second)
	v.SetDefault("low_balance_threshold_sol", 1.0)
	v.SetDefault("rate_limit_window", 15*time.Minute)
	v.SetDefault("rate_limit_global", 100)
	v.SetDefault("rate_limit_strict", 10)
	v.SetDefault("trusted_proxies", "")
	v.SetDefault("events_enabled", true)
}

// Load reads configFile (when set) and the environment into a Config.
// Environment variables win over the file.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.ServerPrivateKeysExtra = stringList(v, "server_private_keys_extra")
	cfg.AllowedProgramIDs = stringList(v, "allowed_program_ids")
	cfg.BlacklistAddresses = stringList(v, "blacklist_addresses")
	cfg.TrustedProxies = stringList(v, "trusted_proxies")
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))

	return &cfg, nil
}

// Valid reports every problem with c at once
func (c *Config) Valid() error {
	var errs []error

	if c.ServerPrivateKey == "" {
		errs = append(errs, ErrNoPrivateKey)
	}

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, ErrBadPort)
	}

	switch c.StoreBackend {
	case store.BackendRedis:
		if c.RedisURL == "" {
			errs = append(errs, ErrNoRedisURL)
		}
	case store.BackendBolt:
		if c.BoltPath == "" {
			errs = append(errs, ErrNoBoltPath)
		}
	case store.BackendMemory:
	default:
		errs = append(errs, ErrBadBackend)
	}

	if _, err := c.RPCEndpoint(); err != nil {
		errs = append(errs, ErrBadSolanaTarget)
	}

	if c.MaxSponsoredTransactions < 0 || c.MaxSponsoredAmountSOL < 0 || c.BudgetWindow < 0 {
		errs = append(errs, ErrBadLimit)
	}

	if c.RebroadcastInterval <= 0 || c.FeeCacheTTL < 0 || c.BalanceCheckInterval <= 0 {
		errs = append(errs, ErrBadInterval)
	}

	if c.FeeLookbackSlots <= 0 {
		errs = append(errs, ErrBadLookback)
	}

	if c.RateLimitWindow <= 0 || c.RateLimitGlobal <= 0 || c.RateLimitStrict <= 0 {
		errs = append(errs, ErrBadRateLimit)
	}

	if _, err := c.AllowedPrograms(); err != nil {
		errs = append(errs, err)
	}

	if c.JWTSecret != "" && c.JWTSigningKeyPEM != "" {
		errs = append(errs, ErrConflictingJWT)
	}

	if len(errs) != 0 {
		return fmt.Errorf("config: invalid config: %w", errors.Join(errs...))
	}

	return nil
}

// RPCEndpoint resolves the Solana RPC URL
func (c *Config) RPCEndpoint() (string, error) {
	if c.SolanaRPCURL != "" {
		return c.SolanaRPCURL, nil
	}
	return ledger.EndpointFor(c.SolanaNetwork)
}

// Identities parses the relay keys, primary first
func (c *Config) Identities() (*service.IdentitySet, error) {
	secrets := append([]string{c.ServerPrivateKey}, c.ServerPrivateKeysExtra...)
	if c.ServerPrivateKeyOld != "" {
		secrets = append(secrets, c.ServerPrivateKeyOld)
	}

	keys := make([]solana.PrivateKey, 0, len(secrets))
	for i, secret := range secrets {
		key, err := service.ParsePrivateKey(secret)
		if err != nil {
			return nil, fmt.Errorf("relay key %d: %w", i, err)
		}
		keys = append(keys, key)
	}

	return service.NewIdentitySet(keys...)
}

// AllowedPrograms parses ALLOWED_PROGRAM_IDS
func (c *Config) AllowedPrograms() ([]solana.PublicKey, error) {
	out := make([]solana.PublicKey, 0, len(c.AllowedProgramIDs))
	for _, id := range c.AllowedProgramIDs {
		pk, err := solana.PublicKeyFromBase58(id)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrBadProgramID, id)
		}
		out = append(out, pk)
	}
	return out, nil
}

// Sponsorship builds the rules configuration
func (c *Config) Sponsorship() (service.SponsorshipConfig, error) {
	programs, err := c.AllowedPrograms()
	if err != nil {
		return service.SponsorshipConfig{}, err
	}

	return service.SponsorshipConfig{
		AllowedPrograms: programs,
		Blacklist:       c.BlacklistAddresses,
		MaxTransactions: c.MaxSponsoredTransactions,
		MaxCostSOL:      decimal.NewFromFloat(c.MaxSponsoredAmountSOL),
		BudgetWindow:    c.BudgetWindow,
	}, nil
}

// stringList reads a comma separated environment value or a list from the
// config file.
func stringList(v *viper.Viper, key string) []string {
	var raw []string
	switch val := v.Get(key).(type) {
	case string:
		raw = strings.Split(val, ",")
	case []string:
		raw = val
	case []interface{}:
		for _, item := range val {
			raw = append(raw, fmt.Sprint(item))
		}
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
