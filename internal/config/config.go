package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port         string `mapstructure:"PORT"`
	Env          string `mapstructure:"ENV"`
	DatabaseURL  string `mapstructure:"DATABASE_URL"`
	DBMaxConns   int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns   int32  `mapstructure:"DB_MIN_CONNS"`
	RedisURL     string `mapstructure:"REDIS_URL"`
	NATSURL      string `mapstructure:"NATS_URL"`
	ProxyURL     string `mapstructure:"PROXY_URL"`
	HSKey        string `mapstructure:"HS_KEY"`
	ServerTZ     string `mapstructure:"SERVER_TIMEZONE"`
	CustomerCode string `mapstructure:"CUSTOMER_CODE"`

	// EPR service adapter, the outbound gateway to the trust integration
	// engine.
	EPRServiceAdapterURLBase   string `mapstructure:"EPR_SERVICE_ADAPTER_URL_BASE"`
	EPRServiceAdapterIssuer    string `mapstructure:"EPR_SERVICE_ADAPTER_ISSUER"`
	EPRServiceAdapterHSKey     string `mapstructure:"EPR_SERVICE_ADAPTER_HS_KEY"`
	MockEPRServiceAdapterScope string `mapstructure:"MOCK_EPR_SERVICE_ADAPTER_SCOPE"`
	JWTExpiryInSeconds         int    `mapstructure:"JWT_EXPIRY_IN_SECONDS"`

	// Trust-specific message transformation module.
	HL7TransformerModule string `mapstructure:"HL7_TRANSFORMER_MODULE"`

	// Trustomer API, the per-customer configuration service.
	TrustomerAPIHost        string `mapstructure:"DHOS_TRUSTOMER_API_HOST"`
	PolarisAPIKey           string `mapstructure:"POLARIS_API_KEY"`
	TrustomerConfigCacheTTL int    `mapstructure:"TRUSTOMER_CONFIG_CACHE_TTL_SEC"`

	// Mirth Connect, the optional CDA destination.
	MirthHostURLBase string `mapstructure:"MIRTH_HOST_URL_BASE"`
	MirthUsername    string `mapstructure:"MIRTH_USERNAME"`
	MirthPassword    string `mapstructure:"MIRTH_PASSWORD"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "3000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("NATS_URL", "nats://localhost:4222")
	v.SetDefault("SERVER_TIMEZONE", "Europe/London")
	v.SetDefault("HL7_TRANSFORMER_MODULE", "noop")
	v.SetDefault("JWT_EXPIRY_IN_SECONDS", 600)
	v.SetDefault("TRUSTOMER_CONFIG_CACHE_TTL_SEC", 3600)
	v.SetDefault("MIRTH_HOST_URL_BASE", "")
	v.SetDefault("MIRTH_USERNAME", "")
	v.SetDefault("MIRTH_PASSWORD", "")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"REDIS_URL", "NATS_URL", "PROXY_URL", "HS_KEY", "SERVER_TIMEZONE",
		"CUSTOMER_CODE", "EPR_SERVICE_ADAPTER_URL_BASE",
		"EPR_SERVICE_ADAPTER_ISSUER", "EPR_SERVICE_ADAPTER_HS_KEY",
		"MOCK_EPR_SERVICE_ADAPTER_SCOPE", "JWT_EXPIRY_IN_SECONDS",
		"HL7_TRANSFORMER_MODULE", "DHOS_TRUSTOMER_API_HOST",
		"POLARIS_API_KEY", "TRUSTOMER_CONFIG_CACHE_TTL_SEC",
		"MIRTH_HOST_URL_BASE", "MIRTH_USERNAME", "MIRTH_PASSWORD",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// JWTExpiry returns the lifetime for tokens minted towards the EPR
// service adapter.
func (c *Config) JWTExpiry() time.Duration {
	return time.Duration(c.JWTExpiryInSeconds) * time.Second
}

// TrustomerCacheTTL returns how long a fetched trustomer config is
// reused.
func (c *Config) TrustomerCacheTTL() time.Duration {
	return time.Duration(c.TrustomerConfigCacheTTL) * time.Second
}

// Timezone resolves SERVER_TIMEZONE. Inbound HL7 timestamps carry no
// offset, so the trust's local zone has to be configured.
func (c *Config) Timezone() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ServerTZ)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_TIMEZONE %q: %w", c.ServerTZ, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.HSKey == "" {
		return fmt.Errorf("HS_KEY is required")
	}
	if c.EPRServiceAdapterURLBase == "" {
		return fmt.Errorf("EPR_SERVICE_ADAPTER_URL_BASE is required")
	}
	if c.EPRServiceAdapterIssuer == "" {
		return fmt.Errorf("EPR_SERVICE_ADAPTER_ISSUER is required")
	}
	if c.EPRServiceAdapterHSKey == "" {
		return fmt.Errorf("EPR_SERVICE_ADAPTER_HS_KEY is required")
	}
	if c.IsProduction() && c.MockEPRServiceAdapterScope != "" {
		return fmt.Errorf("MOCK_EPR_SERVICE_ADAPTER_SCOPE must not be set in production")
	}
	if c.CustomerCode == "" {
		return fmt.Errorf("CUSTOMER_CODE is required")
	}
	if c.TrustomerAPIHost == "" {
		return fmt.Errorf("DHOS_TRUSTOMER_API_HOST is required")
	}
	if _, err := c.Timezone(); err != nil {
		return err
	}
	return nil
}
