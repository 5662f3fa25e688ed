package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

type Configuration struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Payment  PaymentConfig  `json:"payment"`
	Identity IdentityConfig `json:"identity"`
	Logging  LoggingConfig  `json:"logging"`
}

type ServerConfig struct {
	Port         string        `json:"port"`
	BaseURL      string        `json:"base_url"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

type DatabaseConfig struct {
	Host            string `json:"host"`
	Port            string `json:"port"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	Name            string `json:"name"`
	SSLMode         string `json:"ssl_mode"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	MaxOpenConns    int    `json:"max_open_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime"`
}

// PaymentConfig describes the per-document payment the creation endpoint
// demands and the facilitator that verifies and settles it.
type PaymentConfig struct {
	Network        string `json:"network"`
	Asset          string `json:"asset"`
	PriceAtomic    string `json:"price_atomic"`
	PayTo          string `json:"pay_to"`
	FacilitatorURL string `json:"facilitator_url"`
	MaxTimeoutSecs int    `json:"max_timeout_secs"`
	GasSponsored   bool   `json:"gas_sponsored"`
}

type IdentityConfig struct {
	OracleURL string `json:"oracle_url"`
}

type LoggingConfig struct {
	Level       string `json:"level"`
	Environment string `json:"environment"`
}

// LoadConfig reads a JSON configuration file and fills unset values with
// the defaults. The result is constructed once in main and passed into
// component constructors; nothing reads it as ambient state.
func LoadConfig(filePath string) (*Configuration, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := &Configuration{}
	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func DefaultConfig() *Configuration {
	cfg := &Configuration{}
	cfg.applyDefaults()
	return cfg
}

func (c *Configuration) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8000"
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = "http://localhost:" + c.Server.Port
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == "" {
		c.Database.Port = "5432"
	}
	if c.Database.Username == "" {
		c.Database.Username = "postgres"
	}
	if c.Database.Name == "" {
		c.Database.Name = "soulbound_signature"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 10
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 100
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 300
	}

	if c.Payment.Network == "" {
		c.Payment.Network = "base-sepolia"
	}
	if c.Payment.Asset == "" {
		c.Payment.Asset = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	}
	if c.Payment.PriceAtomic == "" {
		c.Payment.PriceAtomic = "10000"
	}
	if c.Payment.FacilitatorURL == "" {
		c.Payment.FacilitatorURL = "https://x402.org/facilitator"
	}
	if c.Payment.MaxTimeoutSecs == 0 {
		c.Payment.MaxTimeoutSecs = 300
	}

	if c.Identity.OracleURL == "" {
		c.Identity.OracleURL = "http://localhost:8100"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "development"
	}
}

// LogConfig logs the effective configuration with secrets redacted.
func LogConfig(cfg *Configuration, logger *zap.Logger) {
	logger.Info("Application configuration",
		zap.String("port", cfg.Server.Port),
		zap.String("base_url", cfg.Server.BaseURL),
		zap.String("database_host", cfg.Database.Host),
		zap.String("database_name", cfg.Database.Name),
		zap.String("payment_network", cfg.Payment.Network),
		zap.String("payment_price_atomic", cfg.Payment.PriceAtomic),
		zap.String("payment_pay_to", cfg.Payment.PayTo),
		zap.String("facilitator_url", cfg.Payment.FacilitatorURL),
		zap.String("identity_oracle_url", cfg.Identity.OracleURL),
	)
}
