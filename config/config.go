// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/xancrypt/xancrypt/domain/admission"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Limits     LimitsConfig     `yaml:"limits"`
	Storage    StorageConfig    `yaml:"storage"`
	Conversion ConversionConfig `yaml:"conversion"`
	Auth       AuthConfig       `yaml:"auth"`
	Admin      AdminConfig      `yaml:"admin"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	OpenAPI    OpenAPIConfig    `yaml:"openapi"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	SecureCookies   bool          `yaml:"secure_cookies"` // mark the deviceId cookie Secure (HTTPS only)
	TLS             TLSConfig     `yaml:"tls"`
}

// TLSConfig configures HTTPS termination.
type TLSConfig struct {
	Mode     string   `yaml:"mode"` // "off", "file" or "acme"
	CertFile string   `yaml:"cert_file,omitempty"`
	KeyFile  string   `yaml:"key_file,omitempty"`
	Domains  []string `yaml:"domains,omitempty"` // acme only
	Email    string   `yaml:"email,omitempty"`
	CacheDir string   `yaml:"cache_dir,omitempty"`
	Staging  bool     `yaml:"staging,omitempty"`
	HTTPAddr string   `yaml:"http_addr,omitempty"` // acme HTTP-01 challenges and redirects
}

// LimitsConfig configures the per-identity quota.
type LimitsConfig struct {
	MaxFiles int           `yaml:"max_files"`
	Window   time.Duration `yaml:"window"`
}

// Admission returns the limits as an admission config.
func (l LimitsConfig) Admission() admission.Config {
	return admission.Config{MaxFiles: l.MaxFiles, Window: l.Window}
}

// StorageConfig selects the usage ledger backend.
type StorageConfig struct {
	Driver      string `yaml:"driver"` // "sqlite", "postgres", "redis" or "memory"
	DSN         string `yaml:"dsn"`    // file path, postgres:// or redis:// URL
	RedisPrefix string `yaml:"redis_prefix,omitempty"`
}

// ConversionConfig configures the conversion pipeline.
type ConversionConfig struct {
	WorkDir        string        `yaml:"work_dir"`
	OutputDir      string        `yaml:"output_dir"`
	Retention      time.Duration `yaml:"retention"` // how long archives stay downloadable
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	RegistrySize   int           `yaml:"registry_size"` // max archives tracked at once
}

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret,omitempty"` // empty generates a per-process secret
	TokenExpiry time.Duration `yaml:"token_expiry"`
	Issuer      string        `yaml:"issuer"`
}

// AdminConfig configures the admin API.
type AdminConfig struct {
	TokenHash string `yaml:"token_hash,omitempty"` // bcrypt hash of X-Admin-Token; empty disables /admin
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format     string `yaml:"format"` // "json" or "console"
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"` // Enable /metrics endpoint
}

// OpenAPIConfig configures OpenAPI/Swagger documentation.
type OpenAPIConfig struct {
	Enabled bool `yaml:"enabled"` // Enable /swagger endpoints
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse builds a configuration from YAML, applying environment expansion,
// XANCRYPT_* overrides, defaults and validation.
func Parse(data []byte) (*Config, error) {
	data = []byte(expandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(&cfg)

	setDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// expandEnv substitutes ${VAR} and $VAR references to variables that are set.
// Unset references are kept verbatim so bcrypt hashes survive.
func expandEnv(s string) string {
	return os.Expand(s, func(name string) string {
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return "$" + name
	})
}

// LoadFromEnv creates configuration entirely from environment variables.
// Metrics and OpenAPI are enabled unless turned off.
//
// Environment variables:
//
//	XANCRYPT_SERVER_HOST          - Server host (default: 0.0.0.0)
//	XANCRYPT_SERVER_PORT          - Server port (default: 8080)
//	XANCRYPT_SECURE_COOKIES       - Mark cookies Secure (default: false)
//	XANCRYPT_TLS_MODE             - off, file or acme (default: off)
//	XANCRYPT_TLS_CERT_FILE        - Certificate for file mode
//	XANCRYPT_TLS_KEY_FILE         - Private key for file mode
//	XANCRYPT_TLS_DOMAINS          - Comma-separated acme domains
//	XANCRYPT_TLS_EMAIL            - acme account email
//	XANCRYPT_LIMITS_MAX_FILES     - Files per window (default: 5)
//	XANCRYPT_LIMITS_WINDOW        - Window length (default: 7h)
//	XANCRYPT_STORAGE_DRIVER       - sqlite, postgres, redis or memory (default: sqlite)
//	XANCRYPT_STORAGE_DSN          - Store location (default: xancrypt.db)
//	XANCRYPT_WORK_DIR             - Job staging directory
//	XANCRYPT_OUTPUT_DIR           - Archive directory (default: downloads)
//	XANCRYPT_RETENTION            - Archive lifetime (default: 1h)
//	XANCRYPT_MAX_UPLOAD_BYTES     - Upload size cap (default: 32 MiB)
//	XANCRYPT_JWT_SECRET           - Bearer token signing secret
//	XANCRYPT_ADMIN_TOKEN_HASH     - bcrypt hash of the admin token
//	XANCRYPT_LOG_LEVEL            - Log level: debug, info, warn, error (default: info)
//	XANCRYPT_LOG_FORMAT           - Log format: json or console (default: json)
//	XANCRYPT_LOG_FILE             - Also write logs to this file, rotated
//	XANCRYPT_METRICS_ENABLED      - Enable /metrics endpoint (default: true)
//	XANCRYPT_OPENAPI_ENABLED      - Enable Swagger UI (default: true)
func LoadFromEnv() (*Config, error) {
	cfg := Config{
		Metrics: MetricsConfig{Enabled: true},
		OpenAPI: OpenAPIConfig{Enabled: true},
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback loads from path when the file exists and falls back to
// environment variables otherwise.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies XANCRYPT_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("XANCRYPT_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("XANCRYPT_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	envDuration("XANCRYPT_SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("XANCRYPT_SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("XANCRYPT_SERVER_REQUEST_TIMEOUT", &cfg.Server.RequestTimeout)
	if v := os.Getenv("XANCRYPT_SECURE_COOKIES"); v != "" {
		cfg.Server.SecureCookies = parseBool(v)
	}
	if v := os.Getenv("XANCRYPT_TLS_MODE"); v != "" {
		cfg.Server.TLS.Mode = v
	}
	if v := os.Getenv("XANCRYPT_TLS_CERT_FILE"); v != "" {
		cfg.Server.TLS.CertFile = v
	}
	if v := os.Getenv("XANCRYPT_TLS_KEY_FILE"); v != "" {
		cfg.Server.TLS.KeyFile = v
	}
	if v := os.Getenv("XANCRYPT_TLS_DOMAINS"); v != "" {
		cfg.Server.TLS.Domains = splitList(v)
	}
	if v := os.Getenv("XANCRYPT_TLS_EMAIL"); v != "" {
		cfg.Server.TLS.Email = v
	}

	// Limits
	if v := os.Getenv("XANCRYPT_LIMITS_MAX_FILES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MaxFiles = n
		}
	}
	envDuration("XANCRYPT_LIMITS_WINDOW", &cfg.Limits.Window)

	// Storage
	if v := os.Getenv("XANCRYPT_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("XANCRYPT_STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("XANCRYPT_STORAGE_REDIS_PREFIX"); v != "" {
		cfg.Storage.RedisPrefix = v
	}

	// Conversion
	if v := os.Getenv("XANCRYPT_WORK_DIR"); v != "" {
		cfg.Conversion.WorkDir = v
	}
	if v := os.Getenv("XANCRYPT_OUTPUT_DIR"); v != "" {
		cfg.Conversion.OutputDir = v
	}
	envDuration("XANCRYPT_RETENTION", &cfg.Conversion.Retention)
	if v := os.Getenv("XANCRYPT_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Conversion.MaxUploadBytes = n
		}
	}

	// Auth and admin
	if v := os.Getenv("XANCRYPT_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	envDuration("XANCRYPT_TOKEN_EXPIRY", &cfg.Auth.TokenExpiry)
	if v := os.Getenv("XANCRYPT_ADMIN_TOKEN_HASH"); v != "" {
		cfg.Admin.TokenHash = v
	}

	// Logging configuration
	if v := os.Getenv("XANCRYPT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("XANCRYPT_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("XANCRYPT_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}

	// Metrics and OpenAPI
	if v := os.Getenv("XANCRYPT_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("XANCRYPT_OPENAPI_ENABLED"); v != "" {
		cfg.OpenAPI.Enabled = parseBool(v)
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// splitList splits a comma-separated list, dropping empty items.
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 120 * time.Second
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Server.TLS.Mode == "" {
		cfg.Server.TLS.Mode = "off"
	}
	if cfg.Server.TLS.Mode == "acme" {
		if cfg.Server.TLS.CacheDir == "" {
			cfg.Server.TLS.CacheDir = "certs"
		}
		if cfg.Server.TLS.HTTPAddr == "" {
			cfg.Server.TLS.HTTPAddr = ":80"
		}
	}

	if cfg.Limits.MaxFiles == 0 {
		cfg.Limits.MaxFiles = admission.DefaultMaxFiles
	}
	if cfg.Limits.Window == 0 {
		cfg.Limits.Window = admission.DefaultWindow
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverSQLite
	}
	if cfg.Storage.DSN == "" && cfg.Storage.Driver == DriverSQLite {
		cfg.Storage.DSN = "xancrypt.db"
	}

	if cfg.Conversion.WorkDir == "" {
		cfg.Conversion.WorkDir = filepath.Join(os.TempDir(), "xancrypt")
	}
	if cfg.Conversion.OutputDir == "" {
		cfg.Conversion.OutputDir = "downloads"
	}
	if cfg.Conversion.Retention == 0 {
		cfg.Conversion.Retention = time.Hour
	}
	if cfg.Conversion.MaxUploadBytes == 0 {
		cfg.Conversion.MaxUploadBytes = 32 << 20
	}
	if cfg.Conversion.RegistrySize == 0 {
		cfg.Conversion.RegistrySize = 1024
	}

	if cfg.Auth.TokenExpiry == 0 {
		cfg.Auth.TokenExpiry = 24 * time.Hour
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "xancrypt"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.File != "" {
		if cfg.Logging.MaxSizeMB == 0 {
			cfg.Logging.MaxSizeMB = 100
		}
		if cfg.Logging.MaxBackups == 0 {
			cfg.Logging.MaxBackups = 3
		}
		if cfg.Logging.MaxAgeDays == 0 {
			cfg.Logging.MaxAgeDays = 28
		}
	}
}

// Validate checks a configuration with defaults applied.
func Validate(cfg *Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535, got %d", cfg.Server.Port)
	}

	switch cfg.Server.TLS.Mode {
	case "off":
	case "file":
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.cert_file and server.tls.key_file are required when server.tls.mode is \"file\"")
		}
	case "acme":
		if len(cfg.Server.TLS.Domains) == 0 {
			return fmt.Errorf("server.tls.domains is required when server.tls.mode is \"acme\"")
		}
	default:
		return fmt.Errorf("server.tls.mode must be one of: off, file, acme, got %q", cfg.Server.TLS.Mode)
	}

	if cfg.Limits.MaxFiles < 1 {
		return fmt.Errorf("limits.max_files must be positive, got %d", cfg.Limits.MaxFiles)
	}
	if cfg.Limits.Window <= 0 {
		return fmt.Errorf("limits.window must be positive, got %s", cfg.Limits.Window)
	}

	switch cfg.Storage.Driver {
	case DriverSQLite, DriverMemory:
	case DriverPostgres, DriverRedis:
		if cfg.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required when storage.driver is %q", cfg.Storage.Driver)
		}
	default:
		return fmt.Errorf("storage.driver must be one of: sqlite, postgres, redis, memory, got %q", cfg.Storage.Driver)
	}

	if cfg.Conversion.Retention < 0 {
		return fmt.Errorf("conversion.retention must not be negative")
	}
	if cfg.Conversion.MaxUploadBytes < 0 {
		return fmt.Errorf("conversion.max_upload_bytes must not be negative")
	}
	if cfg.Conversion.RegistrySize < 0 {
		return fmt.Errorf("conversion.registry_size must not be negative")
	}

	if _, err := zerolog.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	return nil
}
