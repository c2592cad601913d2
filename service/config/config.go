package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-playground/validator/v10"
)

// DefaultRecipientAddress is the address payments go to unless overridden.
const DefaultRecipientAddress = "4d5h8TgGHdoewTsarbDZkQJ1zccZtn3s7cGkQQMWnEcy"

var validate *validator.Validate

func init() {
	validate = validator.New()

	// Register custom validators
	validate.RegisterValidation("https_url", validateHTTPSURL)
	validate.RegisterValidation("solana_pubkey", validateSolanaPubkey)
}

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Solana configuration
	SolanaRPCURL     string `env:"SOLANA_RPC_URL" validate:"required,https_url"`
	SolanaCluster    string `env:"SOLANA_CLUSTER" validate:"oneof=mainnet mainnet-beta devnet testnet"`
	RecipientAddress string `env:"SENDSOL_RECIPIENT_ADDRESS" validate:"required,solana_pubkey"`
	KeypairPath      string `env:"SENDSOL_KEYPAIR_PATH"`

	// Polling configuration
	BalanceRefreshInterval   time.Duration `env:"BALANCE_REFRESH_INTERVAL" validate:"gt=0"`
	ReferenceRefreshInterval time.Duration `env:"REFERENCE_REFRESH_INTERVAL" validate:"gt=0"`
	ConfirmPollInterval      time.Duration `env:"CONFIRM_POLL_INTERVAL" validate:"gt=0"`

	// NATS configuration (optional; outcome events are not published when empty)
	NATSURL string `env:"NATS_URL" validate:"omitempty,url"`

	// Observability
	MetricsAddr string `env:"METRICS_ADDR"`
	LogLevel    string `env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Solana configuration
	cfg.SolanaRPCURL = strings.TrimSpace(os.Getenv("SOLANA_RPC_URL"))
	cfg.SolanaCluster = getEnvOrDefault("SOLANA_CLUSTER", "devnet")
	cfg.RecipientAddress = getEnvOrDefault("SENDSOL_RECIPIENT_ADDRESS", DefaultRecipientAddress)
	cfg.KeypairPath = os.Getenv("SENDSOL_KEYPAIR_PATH")

	// Polling configuration. A value that fails to parse is reported here and
	// replaced by its default so it is not reported again below.
	for _, d := range []struct {
		key, def string
		dst      *time.Duration
	}{
		{"BALANCE_REFRESH_INTERVAL", "10s", &cfg.BalanceRefreshInterval},
		{"REFERENCE_REFRESH_INTERVAL", "5s", &cfg.ReferenceRefreshInterval},
		{"CONFIRM_POLL_INTERVAL", "500ms", &cfg.ConfirmPollInterval},
	} {
		value, err := parseDuration(d.key, d.def)
		if err != nil {
			errs = append(errs, err)
			value, _ = time.ParseDuration(d.def)
		}
		*d.dst = value
	}

	// NATS configuration
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Observability
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	errs = append(errs, cfg.validationErrors()...)

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for CLI initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	if errs := c.validationErrors(); len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}
	return nil
}

// IsMainnet reports whether the configured cluster is mainnet.
func (c *Config) IsMainnet() bool {
	return c.SolanaCluster == "mainnet" || c.SolanaCluster == "mainnet-beta"
}

// validationErrors runs the struct tag validation and names each failure by
// its environment variable.
func (c *Config) validationErrors() []error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []error{err}
	}

	t := reflect.TypeOf(Config{})
	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		env := fe.Field()
		if f, ok := t.FieldByName(fe.StructField()); ok {
			if tag := f.Tag.Get("env"); tag != "" {
				env = tag
			}
		}
		errs = append(errs, fmt.Errorf("%s %s", env, describe(fe)))
	}
	return errs
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "https_url":
		return fmt.Sprintf("must be an https:// URL, got %q", fe.Value())
	case "solana_pubkey":
		return fmt.Sprintf("must be a base58 Solana address, got %q", fe.Value())
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fe.Value())
	case "gt":
		return "must be positive"
	case "url":
		return fmt.Sprintf("must be a URL, got %q", fe.Value())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// Custom validator functions
func validateHTTPSURL(fl validator.FieldLevel) bool {
	raw := fl.Field().String()
	if !strings.HasPrefix(raw, "https://") {
		return false
	}
	u, err := url.Parse(raw)
	return err == nil && u.Host != ""
}

func validateSolanaPubkey(fl validator.FieldLevel) bool {
	_, err := solana.PublicKeyFromBase58(fl.Field().String())
	return err == nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}
