// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accountd/accountd/pkg/errutil"
)

func validConfig() *Config {
	cfg := Default()
	cfg.DatabaseURL = "postgres://localhost/accountd"
	cfg.SecretKey = strings.Repeat("s", MinSecretKeyLength)
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "127.0.0.1:8080", cfg.HTTPAddr)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, time.Hour, cfg.TokenMaxAge)
	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.SecretKey)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accountd.yaml")
	content := `
http_addr: "0.0.0.0:9999"
base_url: "https://accounts.example.com"
token_max_age: 30m
smtp:
  host: mail.example.com
  port: 2525
  from: noreply@example.com
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9999", cfg.HTTPAddr)
	assert.Equal(t, "https://accounts.example.com", cfg.BaseURL)
	assert.Equal(t, 30*time.Minute, cfg.TokenMaxAge)
	assert.Equal(t, "mail.example.com", cfg.SMTP.Host)
	assert.Equal(t, 2525, cfg.SMTP.Port)
	// Untouched keys keep their defaults.
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := Load("/nonexistent/accountd.yaml", nil)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_FILE_FAILED")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accountd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_addr: \"0.0.0.0:9999\"\n"), 0o600))

	t.Setenv("ACCOUNTD_HTTP_ADDR", "127.0.0.1:7777")
	t.Setenv("ACCOUNTD_DATABASE_URL", "postgres://env/db")
	t.Setenv("ACCOUNTD_SMTP_HOST", "smtp.env.example.com")

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7777", cfg.HTTPAddr)
	assert.Equal(t, "postgres://env/db", cfg.DatabaseURL)
	assert.Equal(t, "smtp.env.example.com", cfg.SMTP.Host)
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	t.Setenv("ACCOUNTD_HTTP_ADDR", "127.0.0.1:7777")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("http-addr", "127.0.0.1:8080", "")
	flags.String("smtp-host", "", "")
	require.NoError(t, flags.Parse([]string{"--http-addr", "127.0.0.1:6666", "--smtp-host", "smtp.flag.example.com"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:6666", cfg.HTTPAddr)
	assert.Equal(t, "smtp.flag.example.com", cfg.SMTP.Host)
}

func TestLoadUnchangedFlagDoesNotClobber(t *testing.T) {
	t.Setenv("ACCOUNTD_HTTP_ADDR", "127.0.0.1:7777")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("http-addr", "127.0.0.1:8080", "")
	require.NoError(t, flags.Parse(nil))

	cfg, err := Load("", flags)
	require.NoError(t, err)

	// The flag default must not override the env value.
	assert.Equal(t, "127.0.0.1:7777", cfg.HTTPAddr)
}

func TestLoadServeFlagSetWithNoArgsKeepsDefaults(t *testing.T) {
	t.Setenv("ACCOUNTD_DATABASE_URL", "postgres://env/db")
	t.Setenv("ACCOUNTD_SECRET_KEY", strings.Repeat("s", MinSecretKeyLength))

	// The serve command registers every flag with a zero default and lets
	// this package supply the real ones. Parsing no arguments must leave
	// the built-in defaults intact.
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.String("http-addr", "", "")
	flags.String("metrics-addr", "", "")
	flags.String("base-url", "", "")
	flags.String("log-format", "", "")
	flags.Duration("token-max-age", 0, "")
	flags.String("smtp-host", "", "")
	flags.Int("smtp-port", 0, "")
	flags.String("smtp-username", "", "")
	flags.String("smtp-from", "", "")
	require.NoError(t, flags.Parse(nil))

	cfg, err := Load("", flags)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.HTTPAddr)
	assert.Equal(t, "127.0.0.1:9100", cfg.MetricsAddr)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, time.Hour, cfg.TokenMaxAge)
	assert.Equal(t, 587, cfg.SMTP.Port)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		require.NoError(t, validConfig().Validate())
	})

	t.Run("missing database url", func(t *testing.T) {
		cfg := validConfig()
		cfg.DatabaseURL = ""
		err := cfg.Validate()
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	})

	t.Run("short secret key", func(t *testing.T) {
		cfg := validConfig()
		cfg.SecretKey = "short"
		require.Error(t, cfg.Validate())
	})

	t.Run("bad log format", func(t *testing.T) {
		cfg := validConfig()
		cfg.LogFormat = "xml"
		require.Error(t, cfg.Validate())
	})

	t.Run("non-positive token max age", func(t *testing.T) {
		cfg := validConfig()
		cfg.TokenMaxAge = 0
		require.Error(t, cfg.Validate())
	})

	t.Run("relative base url", func(t *testing.T) {
		cfg := validConfig()
		cfg.BaseURL = "/accounts"
		require.Error(t, cfg.Validate())
	})
}

func TestMailEnabled(t *testing.T) {
	cfg := Default()
	assert.False(t, cfg.MailEnabled())
	cfg.SMTP.Host = "mail.example.com"
	assert.True(t, cfg.MailEnabled())
}
