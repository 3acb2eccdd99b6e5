package config

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"stablevault/crypto"
)

// Duration wraps time.Duration so it can be written as "30s" in TOML and YAML.
type Duration struct {
	time.Duration
}

// UnmarshalText parses human readable duration strings.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration in time.Duration notation.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// Config captures runtime configuration for cdpd.
type Config struct {
	Service    ServiceConfig       `toml:"service" yaml:"service"`
	Storage    StorageConfig       `toml:"storage" yaml:"storage"`
	Auth       AuthConfig          `toml:"auth" yaml:"auth"`
	RateLimit  RateLimitConfig     `toml:"ratelimit" yaml:"ratelimit"`
	Oracle     OracleConfig        `toml:"oracle" yaml:"oracle"`
	Stablecoin TokenConfig         `toml:"stablecoin" yaml:"stablecoin"`
	Assets     []TokenConfig       `toml:"assets" yaml:"assets"`
	Genesis    []GenesisAllocation `toml:"genesis" yaml:"genesis"`
	Telemetry  TelemetryConfig     `toml:"telemetry" yaml:"telemetry"`
}

// ServiceConfig holds listener and logging settings.
type ServiceConfig struct {
	Name          string   `toml:"name" yaml:"name"`
	Environment   string   `toml:"environment" yaml:"environment"`
	ListenAddress string   `toml:"listen" yaml:"listen"`
	ReadTimeout   Duration `toml:"read_timeout" yaml:"read_timeout"`
	WriteTimeout  Duration `toml:"write_timeout" yaml:"write_timeout"`
	TLSCertFile   string   `toml:"tls_cert_file" yaml:"tls_cert_file"`
	TLSKeyFile    string   `toml:"tls_key_file" yaml:"tls_key_file"`
	LogLevel      string   `toml:"log_level" yaml:"log_level"`
	LogFile       string   `toml:"log_file" yaml:"log_file"`
}

// StorageConfig locates the state database and the event/oracle history store.
type StorageConfig struct {
	DataDir  string `toml:"data_dir" yaml:"data_dir"`
	EventsDB string `toml:"events_db" yaml:"events_db"`
	// IndexDSN locates the account index. A postgres:// URL selects
	// Postgres; anything else is treated as a SQLite path or DSN.
	IndexDSN string `toml:"index_dsn" yaml:"index_dsn"`
	// InMemory keeps all state in process memory. Intended for development.
	InMemory bool `toml:"in_memory" yaml:"in_memory"`
}

// AuthConfig configures bearer JWT verification.
type AuthConfig struct {
	HMACSecret    string   `toml:"hmac_secret" yaml:"hmac_secret"`
	HMACSecretEnv string   `toml:"hmac_secret_env" yaml:"hmac_secret_env"`
	Issuer        string   `toml:"issuer" yaml:"issuer"`
	Audience      string   `toml:"audience" yaml:"audience"`
	ScopeClaim    string   `toml:"scope_claim" yaml:"scope_claim"`
	ClockSkew     Duration `toml:"clock_skew" yaml:"clock_skew"`
}

// RateLimit bounds requests per client.
type RateLimit struct {
	RequestsPerMinute float64 `toml:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int     `toml:"burst" yaml:"burst"`
}

// RateLimitConfig holds the read and write API limits. A zero limit disables limiting.
type RateLimitConfig struct {
	Read  RateLimit `toml:"read" yaml:"read"`
	Write RateLimit `toml:"write" yaml:"write"`
}

// OracleConfig tunes the aggregation loop.
type OracleConfig struct {
	Interval Duration       `toml:"interval" yaml:"interval"`
	MaxAge   Duration       `toml:"max_age" yaml:"max_age"`
	MinFeeds int            `toml:"min_feeds" yaml:"min_feeds"`
	Sources  []SourceConfig `toml:"sources" yaml:"sources"`
}

// SourceConfig describes an upstream price source.
type SourceConfig struct {
	Name     string            `toml:"name" yaml:"name"`
	Type     string            `toml:"type" yaml:"type"`
	Endpoint string            `toml:"endpoint" yaml:"endpoint"`
	Timeout  Duration          `toml:"timeout" yaml:"timeout"`
	Prices   map[string]string `toml:"prices" yaml:"prices"`
}

// TokenConfig names a token ledger. An empty address is derived from the symbol.
type TokenConfig struct {
	Symbol  string `toml:"symbol" yaml:"symbol"`
	Address string `toml:"address" yaml:"address"`
}

// GenesisAllocation funds holder with a raw 18-decimal amount of a collateral asset at first boot.
type GenesisAllocation struct {
	Holder string `toml:"holder" yaml:"holder"`
	Asset  string `toml:"asset" yaml:"asset"`
	Amount string `toml:"amount" yaml:"amount"`
}

// TelemetryConfig configures OTLP exporters.
type TelemetryConfig struct {
	Endpoint    string  `toml:"endpoint" yaml:"endpoint"`
	Insecure    bool    `toml:"insecure" yaml:"insecure"`
	Headers     string  `toml:"headers" yaml:"headers"`
	Metrics     bool    `toml:"metrics" yaml:"metrics"`
	Traces      bool    `toml:"traces" yaml:"traces"`
	SampleRatio float64 `toml:"sample_ratio" yaml:"sample_ratio"`
}

// Load reads configuration from path. TOML is used unless the extension is
// .yaml or .yml. A missing TOML file is created with development defaults.
func Load(path string) (Config, error) {
	var cfg Config
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && !isYAML(path) {
		return createDefault(path)
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if isYAML(path) {
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	} else {
		meta, err := toml.Decode(string(raw), &cfg)
		if err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return cfg, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0].String())
		}
	}
	applyDefaults(&cfg)
	if err := cfg.resolveSecrets(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		cfg.Service.Name = "cdpd"
	}
	if strings.TrimSpace(cfg.Service.Environment) == "" {
		cfg.Service.Environment = "dev"
	}
	if cfg.Service.ListenAddress == "" {
		cfg.Service.ListenAddress = ":7080"
	}
	if cfg.Service.ReadTimeout.Duration == 0 {
		cfg.Service.ReadTimeout.Duration = 15 * time.Second
	}
	if cfg.Service.WriteTimeout.Duration == 0 {
		cfg.Service.WriteTimeout.Duration = 15 * time.Second
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = "info"
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "./cdpd-data"
	}
	if cfg.Storage.EventsDB == "" {
		cfg.Storage.EventsDB = filepath.Join(cfg.Storage.DataDir, "events.sqlite")
	}
	if cfg.Storage.IndexDSN == "" {
		cfg.Storage.IndexDSN = filepath.Join(cfg.Storage.DataDir, "accounts.sqlite")
	}
	if cfg.Auth.ScopeClaim == "" {
		cfg.Auth.ScopeClaim = "scope"
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.Oracle.Interval.Duration == 0 {
		cfg.Oracle.Interval.Duration = 30 * time.Second
	}
	if cfg.Oracle.MaxAge.Duration == 0 {
		cfg.Oracle.MaxAge.Duration = 2 * time.Minute
	}
	if cfg.Oracle.MinFeeds <= 0 {
		cfg.Oracle.MinFeeds = 1
	}
	for i := range cfg.Oracle.Sources {
		src := &cfg.Oracle.Sources[i]
		src.Type = strings.ToLower(strings.TrimSpace(src.Type))
		if src.Type == "" {
			src.Type = "static"
		}
		if src.Timeout.Duration == 0 {
			src.Timeout.Duration = 10 * time.Second
		}
	}
	if cfg.Stablecoin.Symbol == "" {
		cfg.Stablecoin.Symbol = "SVUSD"
	}
	for i := range cfg.Assets {
		cfg.Assets[i].Symbol = strings.ToUpper(strings.TrimSpace(cfg.Assets[i].Symbol))
	}
	for i := range cfg.Genesis {
		cfg.Genesis[i].Asset = strings.ToUpper(strings.TrimSpace(cfg.Genesis[i].Asset))
	}
}

func (cfg *Config) resolveSecrets() error {
	if strings.TrimSpace(cfg.Auth.HMACSecret) != "" {
		return nil
	}
	env := strings.TrimSpace(cfg.Auth.HMACSecretEnv)
	if env == "" {
		return nil
	}
	value := strings.TrimSpace(os.Getenv(env))
	if value == "" {
		return fmt.Errorf("auth: environment variable %s is empty", env)
	}
	cfg.Auth.HMACSecret = value
	return nil
}

// TokenAddress resolves the configured or derived ledger address of token.
func TokenAddress(token TokenConfig) (crypto.Address, error) {
	if strings.TrimSpace(token.Address) == "" {
		return crypto.AssetAddress(token.Symbol), nil
	}
	addr, err := crypto.DecodeAddress(token.Address)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("token %s: %w", token.Symbol, err)
	}
	if addr.Prefix() != crypto.AssetPrefix {
		return crypto.Address{}, fmt.Errorf("token %s: address must use prefix %s", token.Symbol, crypto.AssetPrefix)
	}
	return addr, nil
}

// createDefault writes a development configuration with a fresh HMAC secret
// next to path.
func createDefault(path string) (Config, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return Config{}, fmt.Errorf("generate secret: %w", err)
	}
	cfg := Config{
		Storage: StorageConfig{DataDir: filepath.Join(filepath.Dir(path), "cdpd-data")},
		Auth:    AuthConfig{HMACSecret: hex.EncodeToString(secret)},
		Oracle: OracleConfig{Sources: []SourceConfig{{
			Name:   "static",
			Type:   "static",
			Prices: map[string]string{"WETH": "2000", "WBTC": "30000"},
		}}},
		Assets: []TokenConfig{{Symbol: "WETH"}, {Symbol: "WBTC"}},
	}
	applyDefaults(&cfg)
	if err := persist(path, cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func persist(path string, cfg Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
