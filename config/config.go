// Package config loads gas station settings from a YAML file, a .env file and
// the process environment, in that order of increasing precedence.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/vitwit/gasstation/audit"
	"github.com/vitwit/gasstation/oracle"
	"github.com/vitwit/gasstation/types"
	"github.com/vitwit/gasstation/utils"
	"gopkg.in/yaml.v3"
)

type Config struct {
	StationID string   `yaml:"stationId" validate:"required"`
	CoinType  string   `yaml:"coinType" validate:"required"`
	Decimals  int      `yaml:"decimals" validate:"gte=0,lte=18"`
	GasPrice  string   `yaml:"gasPrice" validate:"required,numeric"`
	Admins    []string `yaml:"admins" validate:"min=1,dive,startswith=0x"`
	Treasury  string   `yaml:"treasury" validate:"omitempty,startswith=0x"`

	// Balances seeds the in-memory supplier: address -> decimal coin amount.
	Balances map[string]string `yaml:"balances"`

	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Database  DatabaseConfig  `yaml:"database"`
	Audit     AuditConfig     `yaml:"audit"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Identity  IdentityConfig  `yaml:"identity"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
}

type HTTPConfig struct {
	Addr              string        `yaml:"addr" validate:"required"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"omitempty,startswith=/"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// AuditConfig bounds the in-memory event history and sink publishing.
// Retention 0 keeps every event in memory.
type AuditConfig struct {
	Retention      int           `yaml:"retention" validate:"gte=0"`
	PublishTimeout time.Duration `yaml:"publishTimeout" validate:"gte=0"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" validate:"gte=0"`
	Burst int     `yaml:"burst" validate:"gte=0"`
}

// IdentityConfig selects how HTTP callers are authenticated: "header" trusts
// an upstream gateway, "signature" requires an EIP-191 signature per request.
type IdentityConfig struct {
	Mode    string        `yaml:"mode" validate:"oneof=header signature"`
	ChainID string        `yaml:"chainId" validate:"required,numeric"`
	MaxSkew time.Duration `yaml:"maxSkew"`
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		CoinType: types.DefaultCoinType.String(),
		Decimals: types.DefaultDecimals,
		Log:      LogConfig{Level: "info"},
		HTTP: HTTPConfig{
			Addr:              ":8000",
			ReadHeaderTimeout: 20 * time.Second,
			ShutdownTimeout:   5 * time.Second,
		},
		Metrics:  MetricsConfig{Enabled: true, Path: "/metrics"},
		Audit:    AuditConfig{Retention: audit.DefaultRetention, PublishTimeout: 5 * time.Second},
		Identity: IdentityConfig{Mode: "header", ChainID: "1", MaxSkew: 5 * time.Minute},
	}
}

// Load reads path (optional), then envFile (ignored when missing), then the
// process environment, and validates the result.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config file %s", path)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "failed to load env file %s", envFile)
		}
	}

	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides cfg with the variables found by lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	str("GAS_STATION_ID", &cfg.StationID)
	str("USDC_COIN_TYPE", &cfg.CoinType)
	str("GAS_PRICE", &cfg.GasPrice)
	str("TREASURY_ADDRESS", &cfg.Treasury)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("HTTP_ADDR", &cfg.HTTP.Addr)
	str("DATABASE_URL", &cfg.Database.URL)
	str("IDENTITY_MODE", &cfg.Identity.Mode)
	str("IDENTITY_CHAIN_ID", &cfg.Identity.ChainID)

	if v, ok := lookup("ADMIN_ADDRESSES"); ok && strings.TrimSpace(v) != "" {
		cfg.Admins = splitList(v)
	}

	if v, ok := lookup("METRICS_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrap(err, "METRICS_ENABLED")
		}
		cfg.Metrics.Enabled = b
	}
	if v, ok := lookup("PAY_RATE_LIMIT_RPS"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.Wrap(err, "PAY_RATE_LIMIT_RPS")
		}
		cfg.RateLimit.RPS = f
	}
	if v, ok := lookup("AUDIT_RETENTION"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "AUDIT_RETENTION")
		}
		cfg.Audit.Retention = n
	}
	if v, ok := lookup("PAY_RATE_LIMIT_BURST"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "PAY_RATE_LIMIT_BURST")
		}
		cfg.RateLimit.Burst = n
	}
	return nil
}

func splitList(v string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks struct constraints and that every address, the coin type
// and the price parse.
func (c *Config) Validate() error {
	if err := utils.ValidateStruct(c, types.CodeInvalidConfig); err != nil {
		return err
	}
	if _, err := c.InitParams(); err != nil {
		return err
	}
	if _, err := c.TreasuryAddress(); err != nil {
		return err
	}
	if _, err := c.SeedBalances(); err != nil {
		return err
	}
	return nil
}

// InitParams converts the station section into constructor parameters.
func (c *Config) InitParams() (types.InitParams, error) {
	price, err := oracle.ParsePrice(c.GasPrice)
	if err != nil {
		return types.InitParams{}, err
	}

	admins := make([]types.Address, 0, len(c.Admins))
	for _, raw := range c.Admins {
		a, err := types.HexToAddress(raw)
		if err != nil {
			return types.InitParams{}, err
		}
		admins = append(admins, a)
	}

	params := types.InitParams{
		ID:       c.StationID,
		CoinType: types.CoinType(c.CoinType),
		Price:    price,
		Admins:   admins,
	}
	if err := params.Validate(); err != nil {
		return types.InitParams{}, err
	}
	return params, nil
}

// TreasuryAddress returns the zero address when no treasury is configured.
func (c *Config) TreasuryAddress() (types.Address, error) {
	if c.Treasury == "" {
		return types.Address{}, nil
	}
	return types.HexToAddress(c.Treasury)
}

// SeedBalances parses Balances into smallest units.
func (c *Config) SeedBalances() (map[types.Address]uint64, error) {
	out := make(map[types.Address]uint64, len(c.Balances))
	for raw, amount := range c.Balances {
		addr, err := types.HexToAddress(raw)
		if err != nil {
			return nil, err
		}
		units, err := utils.ParseAmount(amount, c.Decimals)
		if err != nil {
			return nil, err
		}
		out[addr] += units
	}
	return out, nil
}
