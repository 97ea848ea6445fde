package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CONFIG_FILE", filepath.Join(dir, "missing.toml"))
	t.Setenv("ENV_FILE", filepath.Join(dir, "missing.env"))
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "medscan", cfg.App.Name)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr())
	assert.Equal(t, 6, cfg.Auth.MinPasswordLength)
	assert.Equal(t, 10, cfg.Prediction.DefaultLimit)
	assert.Equal(t, 50, cfg.Prediction.MaxLimit)
	assert.True(t, cfg.Prediction.Persist)
	assert.False(t, cfg.GoogleEnabled())
	assert.False(t, cfg.MailEnabled())
	assert.Equal(t, "support@medscan.local", cfg.SMTP.ContactTo)
	assert.Equal(t, 2, cfg.RateLimit.ContactPerMinute)
}

func TestLoadLayering(t *testing.T) {
	dir := isolate(t)

	tomlPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte(`
[app]
port = 9090

[inference]
base_url = "http://inference.internal"

[prediction]
persist = false
`), 0o600))
	t.Setenv("CONFIG_FILE", tomlPath)

	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("MYSQL_DB=from_dotenv\nAPP_PORT=9191\n"), 0o600))
	t.Setenv("ENV_FILE", envPath)

	// the process environment beats .env
	t.Setenv("APP_PORT", "9292")
	t.Cleanup(func() { os.Unsetenv("MYSQL_DB") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9292, cfg.App.Port)
	assert.Equal(t, "http://inference.internal", cfg.Inference.BaseURL)
	assert.False(t, cfg.Prediction.Persist)
	assert.Equal(t, "from_dotenv", cfg.MySQL.DB)
	assert.Contains(t, cfg.MySQLDSN(), "/from_dotenv?")
}

func TestLoadRejectsBadTOML(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[app\nport = "), 0o600))
	t.Setenv("CONFIG_FILE", path)

	_, err := Load()
	assert.ErrorContains(t, err, "decode config file failed")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"default secret in prod", func(c *Config) { c.App.Env = "prod" }, "jwt_secret"},
		{"custom secret in prod", func(c *Config) { c.App.Env = "prod"; c.Auth.JWTSecret = "s3cret" }, ""},
		{"empty secret", func(c *Config) { c.Auth.JWTSecret = "" }, "jwt_secret"},
		{"bad port", func(c *Config) { c.App.Port = 70000 }, "app.port"},
		{"limit above max", func(c *Config) { c.Prediction.DefaultLimit = 80 }, "prediction limits"},
		{"zero password length", func(c *Config) { c.Auth.MinPasswordLength = 0 }, "min_password_length"},
		{"negative burst", func(c *Config) { c.RateLimit.Burst = -1 }, "ratelimit"},
		{"negative contact rate", func(c *Config) { c.RateLimit.ContactPerMinute = -1 }, "ratelimit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
