package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilchat/relay/pkg/relay/store"
)

func TestParseTokenTTL(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"30s", 30 * time.Second, false},
		{"15m", 15 * time.Minute, false},
		{"12h", 12 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"", 0, true},
		{"7", 0, true},
		{"d7", 0, true},
		{"7w", 0, true},
		{"1.5h", 0, true},
		{"-1d", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTokenTTL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "7d", cfg.Auth.TokenTTL)
	assert.Equal(t, 10, cfg.Auth.LowKeyThreshold)
	assert.Equal(t, store.DatabaseTypeSQLite, cfg.Database.Type)

	require.NoError(t, Validate(cfg))
}

func TestValidate(t *testing.T) {
	t.Run("production rejects the default secret", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Environment = EnvProduction

		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "jwt_secret")
	})

	t.Run("production accepts a real secret", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Environment = EnvProduction
		cfg.Auth.JWTSecret = "a-real-production-secret-thats-long-enough"

		require.NoError(t, Validate(cfg))
	})

	t.Run("short secret rejected everywhere", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Auth.JWTSecret = "short"

		assert.Error(t, Validate(cfg))
	})

	t.Run("malformed token ttl rejected", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Auth.TokenTTL = "one week"

		assert.Error(t, Validate(cfg))
	})

	t.Run("blob enabled requires bucket", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Blob.Enabled = true

		assert.Error(t, Validate(cfg))
	})
}

func TestProductionPoolSizing(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Environment = EnvProduction
	cfg.Auth.JWTSecret = "a-real-production-secret-thats-long-enough"
	cfg.Database = store.Config{
		Type: store.DatabaseTypePostgres,
		Postgres: store.PostgresConfig{
			Host: "db", Database: "relay", User: "relay",
		},
	}

	ApplyDefaults(cfg)

	assert.Equal(t, 20, cfg.Database.Postgres.MaxOpenConns)
	assert.Equal(t, 2, cfg.Database.Postgres.MinIdleConns)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
environment: development
server:
  port: 9999
auth:
  jwt_secret: test-secret-key-that-is-32-chars-long!!
  token_ttl: 12h
database:
  type: sqlite
  sqlite:
    path: ` + filepath.Join(dir, "relay.db") + `
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "12h", cfg.Auth.TokenTTL)
	// Defaults fill the gaps.
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, 10, cfg.Auth.LowKeyThreshold)
}

func TestInitConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	require.NoError(t, InitConfig(path, false))

	// Refuses to overwrite without force.
	assert.Error(t, InitConfig(path, false))
	assert.NoError(t, InitConfig(path, true))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Environment)
}
