// Package config loads mailminder's runtime configuration from viper, which
// merges command-line flags, MAILMINDER_* environment variables and an
// optional config.yaml.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Configuration keys. Flags use the same names.
const (
	KeyHTTPAddr          = "http.addr"
	KeyHTTPBaseURL       = "http.base_url"
	KeyDatabaseDriver    = "database.driver"
	KeyDatabaseDSN       = "database.dsn"
	KeyGoogleClientID    = "google.client_id"
	KeyGoogleSecret      = "google.client_secret"
	KeyGoogleRedirectURL = "google.redirect_url"
	KeySessionSecret     = "session.secret"
	KeySessionTTL        = "session.ttl"
	KeySessionSecure     = "session.cookie_secure"
	KeyNATSURL           = "nats.url"
	KeyNATSSubjectPrefix = "nats.subject_prefix"
	KeyIngestLimit       = "ingest.limit"
	KeyIngestConcurrency = "ingest.concurrency"
	KeyMetricsEnabled    = "metrics.enabled"
	KeyMetricsAddr       = "metrics.addr"
	KeyLogLevel          = "log.level"
	KeyLogFormat         = "log.format"
)

// EnvPrefix is prepended to every environment variable, e.g. MAILMINDER_DATABASE_DSN.
const EnvPrefix = "MAILMINDER"

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// Config is the validated runtime configuration.
type Config struct {
	HTTP     HTTPConfig
	Database DatabaseConfig
	Google   GoogleConfig
	Session  SessionConfig
	NATS     NATSConfig
	Ingest   IngestConfig
	Metrics  MetricsConfig
	Log      LogConfig
}

type HTTPConfig struct {
	Addr    string
	BaseURL string
}

type DatabaseConfig struct {
	Driver string
	DSN    string
}

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type SessionConfig struct {
	Secret       string
	TTL          time.Duration
	CookieSecure bool
}

// NATSConfig enables ingestion events when URL is set.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

type IngestConfig struct {
	Limit       int
	Concurrency int
}

type MetricsConfig struct {
	Enabled bool
	Addr    string
}

type LogConfig struct {
	Level  string
	Format string
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyHTTPAddr, ":8080")
	v.SetDefault(KeyHTTPBaseURL, "http://localhost:8080")
	v.SetDefault(KeyDatabaseDriver, DriverSQLite)
	v.SetDefault(KeyDatabaseDSN, "mailminder.db")
	v.SetDefault(KeySessionTTL, 24*time.Hour)
	v.SetDefault(KeySessionSecure, false)
	v.SetDefault(KeyNATSSubjectPrefix, "mailminder")
	v.SetDefault(KeyIngestLimit, 20)
	v.SetDefault(KeyIngestConcurrency, 10)
	v.SetDefault(KeyMetricsEnabled, true)
	v.SetDefault(KeyMetricsAddr, ":9090")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
}

// ConfigureEnv makes v read MAILMINDER_* variables, mapping "." to "_".
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads every key from v. It does not validate; call Validate or
// ValidateServe depending on what the caller needs.
func Load(v *viper.Viper) Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:    v.GetString(KeyHTTPAddr),
			BaseURL: strings.TrimRight(v.GetString(KeyHTTPBaseURL), "/"),
		},
		Database: DatabaseConfig{
			Driver: v.GetString(KeyDatabaseDriver),
			DSN:    v.GetString(KeyDatabaseDSN),
		},
		Google: GoogleConfig{
			ClientID:     v.GetString(KeyGoogleClientID),
			ClientSecret: v.GetString(KeyGoogleSecret),
			RedirectURL:  v.GetString(KeyGoogleRedirectURL),
		},
		Session: SessionConfig{
			Secret:       v.GetString(KeySessionSecret),
			TTL:          v.GetDuration(KeySessionTTL),
			CookieSecure: v.GetBool(KeySessionSecure),
		},
		NATS: NATSConfig{
			URL:           v.GetString(KeyNATSURL),
			SubjectPrefix: v.GetString(KeyNATSSubjectPrefix),
		},
		Ingest: IngestConfig{
			Limit:       v.GetInt(KeyIngestLimit),
			Concurrency: v.GetInt(KeyIngestConcurrency),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool(KeyMetricsEnabled),
			Addr:    v.GetString(KeyMetricsAddr),
		},
		Log: LogConfig{
			Level:  v.GetString(KeyLogLevel),
			Format: v.GetString(KeyLogFormat),
		},
	}
}

// Validate checks the settings every command depends on.
func (c Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("%s must be %q or %q, got %q", KeyDatabaseDriver, DriverSQLite, DriverPostgres, c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, fmt.Errorf("%s is required", KeyDatabaseDSN))
	}
	if c.Ingest.Limit < 1 || c.Ingest.Limit > 500 {
		errs = append(errs, fmt.Errorf("%s must be between 1 and 500, got %d", KeyIngestLimit, c.Ingest.Limit))
	}
	if c.Ingest.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %d", KeyIngestConcurrency, c.Ingest.Concurrency))
	}

	return errors.Join(errs...)
}

// ValidateServe additionally checks what the HTTP server needs: OAuth client
// credentials, a session signing secret and a parseable base URL.
func (c Config) ValidateServe() error {
	errs := []error{c.Validate()}

	if c.Google.ClientID == "" || c.Google.ClientSecret == "" {
		errs = append(errs, fmt.Errorf("%s and %s are required", KeyGoogleClientID, KeyGoogleSecret))
	}
	if len(c.Session.Secret) < 32 {
		errs = append(errs, fmt.Errorf("%s must be at least 32 bytes", KeySessionSecret))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeySessionTTL))
	}
	if _, err := url.ParseRequestURI(c.HTTP.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("%s is not a valid URL: %w", KeyHTTPBaseURL, err))
	}

	return errors.Join(errs...)
}

// OAuthRedirectURL returns the configured redirect URL, defaulting to
// <base_url>/auth/callback.
func (c Config) OAuthRedirectURL() string {
	if c.Google.RedirectURL != "" {
		return c.Google.RedirectURL
	}
	return c.HTTP.BaseURL + "/auth/callback"
}
