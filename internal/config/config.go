package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	AssetsDir      string   `mapstructure:"ASSETS_DIR"`
	AssetBackend   string   `mapstructure:"ASSET_BACKEND"`
	MinioEndpoint  string   `mapstructure:"MINIO_ENDPOINT"`
	MinioAccessKey string   `mapstructure:"MINIO_ACCESS_KEY"`
	MinioSecretKey string   `mapstructure:"MINIO_SECRET_KEY"`
	MinioBucket    string   `mapstructure:"MINIO_BUCKET"`
	MinioUseSSL    bool     `mapstructure:"MINIO_USE_SSL"`
	DefaultTopic   string   `mapstructure:"DEFAULT_TOPIC"`
	FHIRServerURL  string   `mapstructure:"FHIR_SERVER_URL"`
	HTTPLogLevel   string   `mapstructure:"HTTP_LOG_LEVEL"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir  string   `mapstructure:"MIGRATIONS_DIR"`
	AMQPURL        string   `mapstructure:"AMQP_URL"`
	SyncQueue      string   `mapstructure:"SYNC_QUEUE"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	BodyLimit      string   `mapstructure:"BODY_LIMIT"`
	LargeBodyLimit string   `mapstructure:"LARGE_BODY_LIMIT"`
}

var keys = []string{
	"PORT", "ENV", "ASSETS_DIR", "ASSET_BACKEND",
	"MINIO_ENDPOINT", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY", "MINIO_BUCKET", "MINIO_USE_SSL",
	"DEFAULT_TOPIC", "FHIR_SERVER_URL", "HTTP_LOG_LEVEL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR",
	"AMQP_URL", "SYNC_QUEUE",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "CORS_ORIGINS",
	"BODY_LIMIT", "LARGE_BODY_LIMIT",
}

// Load reads .env from the working directory, if present, and the process
// environment. Environment values win.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("ASSETS_DIR", "assets")
	v.SetDefault("ASSET_BACKEND", "fs")
	v.SetDefault("MINIO_BUCKET", "emcare-assets")
	v.SetDefault("DEFAULT_TOPIC", "emcare.b23.classification")
	v.SetDefault("FHIR_SERVER_URL", "https://fhir.dk.swisstph-mis.ch/matchbox/fhir/")
	v.SetDefault("HTTP_LOG_LEVEL", "")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("SYNC_QUEUE", "emcare_bundle_sync")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("LARGE_BODY_LIMIT", "16M")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// A missing .env is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	origins := v.GetString("CORS_ORIGINS")
	cfg.CORSOrigins = nil
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedHTTPLogLevel returns HTTP_LOG_LEVEL, or BODY in development and
// BASIC elsewhere when it is unset.
func (c *Config) ResolvedHTTPLogLevel() string {
	if c.HTTPLogLevel != "" {
		return strings.ToUpper(c.HTTPLogLevel)
	}
	if c.IsDev() {
		return "BODY"
	}
	return "BASIC"
}

// Validate checks that the configuration is usable. Outside development a
// signing key of at least 32 bytes is required so tokens are enforced.
func (c *Config) Validate() error {
	switch c.Env {
	case "development", "test", "production":
	default:
		return fmt.Errorf("ENV must be \"development\", \"test\" or \"production\", got %q", c.Env)
	}

	switch c.AssetBackend {
	case "fs":
		if c.AssetsDir == "" {
			return fmt.Errorf("ASSETS_DIR is required when ASSET_BACKEND is \"fs\"")
		}
	case "minio":
		if c.MinioEndpoint == "" || c.MinioBucket == "" {
			return fmt.Errorf("MINIO_ENDPOINT and MINIO_BUCKET are required when ASSET_BACKEND is \"minio\"")
		}
	default:
		return fmt.Errorf("ASSET_BACKEND must be \"fs\" or \"minio\", got %q", c.AssetBackend)
	}

	switch c.ResolvedHTTPLogLevel() {
	case "NONE", "BASIC", "BODY":
	default:
		return fmt.Errorf("HTTP_LOG_LEVEL must be NONE, BASIC or BODY, got %q", c.HTTPLogLevel)
	}

	if !strings.HasPrefix(c.FHIRServerURL, "http://") && !strings.HasPrefix(c.FHIRServerURL, "https://") {
		return fmt.Errorf("FHIR_SERVER_URL must be an http(s) URL, got %q", c.FHIRServerURL)
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	if !c.IsDev() && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY of at least 32 bytes is required when ENV=%q", c.Env)
	}
	return nil
}

// Warnings lists settings that are allowed but worth flagging at startup.
func (c *Config) Warnings() []string {
	var out []string
	if c.IsDev() {
		out = append(out, "development mode: unauthenticated requests are accepted as dev-user")
	}
	if c.DatabaseURL == "" {
		out = append(out, "DATABASE_URL not set: value sets are kept in memory")
	}
	if c.AMQPURL == "" {
		out = append(out, "AMQP_URL not set: extracted bundles are uploaded synchronously")
	}
	return out
}
