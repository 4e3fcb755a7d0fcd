// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

// Package config loads service configuration from defaults, an optional
// YAML file, ACCOUNTD_-prefixed environment variables, and command-line
// flags, in that order of precedence.
package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// envPrefix namespaces all environment variables read by Load.
const envPrefix = "ACCOUNTD_"

// MinSecretKeyLength is the minimum byte length accepted for the token
// signing secret. Anything shorter weakens the HMAC beyond repair.
const MinSecretKeyLength = 32

// SMTPConfig holds outbound mail settings.
type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
}

// Config holds the full service configuration.
type Config struct {
	HTTPAddr    string        `koanf:"http_addr"`
	MetricsAddr string        `koanf:"metrics_addr"`
	BaseURL     string        `koanf:"base_url"`
	LogFormat   string        `koanf:"log_format"`
	DatabaseURL string        `koanf:"database_url"`
	SecretKey   string        `koanf:"secret_key"`
	TokenMaxAge time.Duration `koanf:"token_max_age"`
	SMTP        SMTPConfig    `koanf:"smtp"`
}

// Default values applied before any file, env, or flag source.
const (
	defaultHTTPAddr    = "127.0.0.1:8080"
	defaultMetricsAddr = "127.0.0.1:9100"
	defaultBaseURL     = "http://localhost:8080"
	defaultLogFormat   = "json"
	defaultTokenAge    = time.Hour
	defaultSMTPPort    = 587
)

// Default returns a Config populated with built-in defaults.
// DatabaseURL and SecretKey have no defaults and must be supplied.
func Default() *Config {
	return &Config{
		HTTPAddr:    defaultHTTPAddr,
		MetricsAddr: defaultMetricsAddr,
		BaseURL:     defaultBaseURL,
		LogFormat:   defaultLogFormat,
		TokenMaxAge: defaultTokenAge,
		SMTP: SMTPConfig{
			Port: defaultSMTPPort,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty), ACCOUNTD_-prefixed environment variables, and flags.
// Later sources override earlier ones. A nil flags set skips the flag layer.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_FILE_FAILED").
				With("path", path).
				Wrap(err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_ENV_FAILED").Wrap(err)
	}

	if flags != nil {
		p := posflag.ProviderWithFlag(flags, ".", nil, func(f *pflag.Flag) (string, any) {
			// Only flags the user actually set participate. Dropping the
			// rest keeps their zero defaults from shadowing earlier sources
			// or the built-in defaults.
			if !f.Changed {
				return "", nil
			}
			return flagKey(f.Name), posflag.FlagVal(flags, f)
		})
		if err := k.Load(p, nil); err != nil {
			return nil, oops.Code("CONFIG_FLAG_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.Code("CONFIG_PARSE_FAILED").Wrap(err)
	}
	return cfg, nil
}

// envKey maps ACCOUNTD_SMTP_HOST to smtp.host and ACCOUNTD_DATABASE_URL
// to database_url. Only the smtp_ prefix nests; other keys stay flat.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	if rest, found := strings.CutPrefix(s, "smtp_"); found {
		return "smtp." + rest
	}
	return s
}

// flagKey maps smtp-host to smtp.host and http-addr to http_addr.
func flagKey(name string) string {
	name = strings.ReplaceAll(name, "-", "_")
	if rest, found := strings.CutPrefix(name, "smtp_"); found {
		return "smtp." + rest
	}
	return name
}

// Validate checks that the configuration can actually run the service.
func (c *Config) Validate() error {
	errb := oops.Code("CONFIG_INVALID")

	if c.HTTPAddr == "" {
		return errb.Errorf("http_addr is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return errb.With("log_format", c.LogFormat).
			Errorf("log_format must be 'json' or 'text'")
	}
	if c.DatabaseURL == "" {
		return errb.Errorf("database_url is required (set ACCOUNTD_DATABASE_URL)")
	}
	if len(c.SecretKey) < MinSecretKeyLength {
		return errb.Errorf("secret_key must be at least %d bytes (set ACCOUNTD_SECRET_KEY)", MinSecretKeyLength)
	}
	if c.TokenMaxAge <= 0 {
		return errb.With("token_max_age", c.TokenMaxAge.String()).
			Errorf("token_max_age must be positive")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errb.With("base_url", c.BaseURL).
			Errorf("base_url must be an absolute URL")
	}
	return nil
}

// MailEnabled reports whether an SMTP host is configured. Without one the
// service logs outbound messages instead of sending them.
func (c *Config) MailEnabled() bool {
	return c.SMTP.Host != ""
}
