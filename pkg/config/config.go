// Package config loads and validates the relay's static configuration.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (RELAY_*) (highest priority)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
//
// The only CLI flag, --config, selects the file; no setting has a flag
// of its own.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/veilchat/relay/internal/logger"
	"github.com/veilchat/relay/pkg/blob"
	"github.com/veilchat/relay/pkg/relay/store"
)

// DefaultJWTSecret is the development-only signing secret. Production
// startup refuses to run with it.
const DefaultJWTSecret = "insecure-development-secret-change-me"

// tokenTTLPattern is the accepted session-token lifetime format:
// a number followed by s, m, h, or d.
var tokenTTLPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

// Environment selects deployment-specific strictness.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// ServerConfig contains the HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lte=65535" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// AuthConfig contains session-token and key-directory settings.
type AuthConfig struct {
	// JWTSecret signs session tokens. Must not equal the default in
	// production.
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32" yaml:"jwt_secret"`

	// TokenTTL is the session token lifetime, in the form \d+[smhd].
	TokenTTL string `mapstructure:"token_ttl" yaml:"token_ttl"`

	// LowKeyThreshold is the configured one-time-key replenish count. It
	// is loaded and validated only; the verify response's low-key flag
	// uses its own fixed threshold of 20.
	LowKeyThreshold int `mapstructure:"low_key_threshold" validate:"gte=0" yaml:"low_key_threshold"`
}

// BlobConfig contains the blob-store collaborator settings.
type BlobConfig struct {
	Enabled         bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	Region          string `mapstructure:"region" yaml:"region"`
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style" yaml:"use_path_style"`
	InsecureSkipTLS bool   `mapstructure:"insecure_skip_tls" yaml:"insecure_skip_tls"`
}

// ToBlobConfig converts to the blob package's config type.
func (c *BlobConfig) ToBlobConfig() blob.Config {
	return blob.Config{
		Endpoint:        c.Endpoint,
		Region:          c.Region,
		Bucket:          c.Bucket,
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		UsePathStyle:    c.UsePathStyle,
		InsecureSkipTLS: c.InsecureSkipTLS,
	}
}

// Config represents the relay configuration.
type Config struct {
	// Environment is "development" or "production".
	Environment Environment `mapstructure:"environment" validate:"required,oneof=development production" yaml:"environment"`

	Logging  LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Server   ServerConfig  `mapstructure:"server" yaml:"server"`
	Database store.Config  `mapstructure:"database" yaml:"database"`
	Auth     AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Blob     BlobConfig    `mapstructure:"blob" yaml:"blob"`
}

var configValidator = validator.New()

// GetDefaultConfig returns the development defaults.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Environment: EnvDevelopment,
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stdout",
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Auth: AuthConfig{
			JWTSecret:       DefaultJWTSecret,
			TokenTTL:        "7d",
			LowKeyThreshold: 10,
		},
	}
	cfg.Database.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills in missing values on a loaded config.
func ApplyDefaults(cfg *Config) {
	defaults := GetDefaultConfig()

	if cfg.Environment == "" {
		cfg.Environment = defaults.Environment
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = defaults.Logging.Output
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaults.Server.ReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaults.Server.WriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaults.Server.IdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = defaults.Server.ShutdownTimeout
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = defaults.Auth.JWTSecret
	}
	if cfg.Auth.TokenTTL == "" {
		cfg.Auth.TokenTTL = defaults.Auth.TokenTTL
	}
	if cfg.Auth.LowKeyThreshold == 0 {
		cfg.Auth.LowKeyThreshold = defaults.Auth.LowKeyThreshold
	}
	cfg.Database.ApplyDefaults()

	// Postgres pools are sized wider in production.
	if cfg.Database.Type == store.DatabaseTypePostgres &&
		cfg.Environment == EnvProduction && cfg.Database.Postgres.MaxOpenConns <= 10 {
		cfg.Database.Postgres.MaxOpenConns = 20
	}
}

// Validate checks the configuration, including the production-only
// secret and TTL constraints that must fail startup.
func Validate(cfg *Config) error {
	if err := configValidator.Struct(cfg); err != nil {
		return err
	}

	if err := cfg.Database.Validate(); err != nil {
		return err
	}

	if _, err := ParseTokenTTL(cfg.Auth.TokenTTL); err != nil {
		return err
	}

	if cfg.Environment == EnvProduction && cfg.Auth.JWTSecret == DefaultJWTSecret {
		return fmt.Errorf("auth.jwt_secret must be changed from its default in production")
	}

	if cfg.Blob.Enabled && cfg.Blob.Bucket == "" {
		return fmt.Errorf("blob.bucket is required when the blob store is enabled")
	}

	return nil
}

// ParseTokenTTL converts the \d+[smhd] lifetime format into a duration.
func ParseTokenTTL(ttl string) (time.Duration, error) {
	m := tokenTTLPattern.FindStringSubmatch(ttl)
	if m == nil {
		return 0, fmt.Errorf("invalid token TTL %q: expected a number followed by s, m, h, or d", ttl)
	}

	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid token TTL %q: %w", ttl, err)
	}

	switch m[2] {
	case "s":
		return time.Duration(n) * time.Second, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	default:
		return time.Duration(n) * 24 * time.Hour, nil
	}
}

// Load reads the configuration from the given path (or the default
// location when empty), layering environment variables on top.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	// AutomaticEnv only consults the environment for keys viper already
	// knows, so every default key is registered up front.
	if data, err := yaml.Marshal(GetDefaultConfig()); err == nil {
		var defaults map[string]any
		if yaml.Unmarshal(data, &defaults) == nil {
			for key, value := range defaults {
				v.SetDefault(key, value)
			}
		}
	}

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := Config{}
	if !configFileFound {
		cfg = *GetDefaultConfig()
	}
	// Environment overrides apply with or without a file.
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	// The log level follows config-file edits at runtime; everything
	// else requires a restart.
	if configFileFound {
		v.OnConfigChange(func(_ fsnotify.Event) {
			logger.SetLevel(v.GetString("logging.level"))
		})
		v.WatchConfig()
	}

	return &cfg, nil
}

// setupViper configures environment variables and the config file search.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the RELAY_ prefix with underscores.
	// Example: RELAY_LOGGING_LEVEL=DEBUG, RELAY_AUTH_JWT_SECRET=...
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getConfigDir())
	v.AddConfigPath(".")
}

// readConfigFile attempts to read the configuration file.
// Returns whether a file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns the mapstructure hooks used for decoding.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// getConfigDir returns the default configuration directory.
func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "relay")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "relay")
}

// GetDefaultConfigPath returns the default config file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the
// default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// SaveConfig writes the configuration to path in YAML. Permissions are
// restricted because the file carries the signing secret.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// InitConfig writes a default config file at path. Refuses to overwrite
// unless force is set.
func InitConfig(path string, force bool) error {
	if path == "" {
		path = GetDefaultConfigPath()
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}
	return SaveConfig(GetDefaultConfig(), path)
}

// ApplyLogging initializes the logger from the config.
func ApplyLogging(cfg *Config) error {
	return logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}
