package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CARDSYNC_DATABASE__DSN", "postgres://localhost/cards")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Address)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 3, cfg.Parsing.RetryLimit)
	assert.Equal(t, time.Second, cfg.Parsing.BaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Parsing.RequestTimeout)
	assert.Equal(t, 10000, cfg.Parsing.CardsPerPage)
	assert.Equal(t, "https://mangabuff.ru", cfg.Upstream.BaseURL)
	assert.Equal(t, "profile.json", cfg.Profile.Path)
	assert.Equal(t, 36, cfg.Status.PageSize)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_Layers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
database:
  dsn: postgres://file/cards
parsing:
  retry_limit: 5
  base_delay: 2s
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	t.Setenv("CARDSYNC_PARSING__RETRY_LIMIT", "7")
	t.Setenv("CARDSYNC_SERVER__ALLOWED_ORIGINS", "http://a.example, http://b.example")

	cfg, err := Load([]string{"-c", path, "-a", "127.0.0.1:9000"})
	require.NoError(t, err)

	assert.Equal(t, "postgres://file/cards", cfg.Database.DSN)
	assert.Equal(t, 7, cfg.Parsing.RetryLimit, "env beats file")
	assert.Equal(t, 2*time.Second, cfg.Parsing.BaseDelay)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Address, "flag beats everything")
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.Server.AllowedOrigins)
}

func TestLoad_ConfigPathFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("status:\n  page_size: 12\n"), 0o600))
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load([]string{"-d", "postgres://flag/cards"})
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Status.PageSize)
	assert.Equal(t, "postgres://flag/cards", cfg.Database.DSN)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load([]string{"-c", filepath.Join(t.TempDir(), "absent.yaml"), "-d", "x"})
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no dsn", mutate: func(c *Config) { c.Database.DSN = "" }, wantErr: "database.dsn"},
		{name: "zero retries", mutate: func(c *Config) { c.Parsing.RetryLimit = 0 }, wantErr: "retry_limit"},
		{name: "zero page", mutate: func(c *Config) { c.Parsing.CardsPerPage = 0 }, wantErr: "cards_per_page"},
		{name: "negative delay", mutate: func(c *Config) { c.Parsing.BaseDelay = -time.Second }, wantErr: "base_delay"},
		{name: "zero listing page", mutate: func(c *Config) { c.Status.PageSize = 0 }, wantErr: "page_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Database.DSN = "postgres://x"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	assert.Equal(t, "parsing.base_delay", envTransformFunc("CARDSYNC_PARSING__BASE_DELAY"))
	assert.Equal(t, "database.dsn", envTransformFunc("CARDSYNC_DATABASE__DSN"))
	assert.Equal(t, "", envTransformFunc(ConfigPathEnvVar))
}

func TestLoad_WithoutDatabase(t *testing.T) {
	t.Setenv("CARDSYNC_DATABASE__DSN", "")

	_, err := Load(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.dsn")

	cfg, err := Load(nil, WithoutDatabase())
	require.NoError(t, err)
	assert.Empty(t, cfg.Database.DSN)
	assert.Equal(t, "https://mangabuff.ru", cfg.Upstream.BaseURL)
}
