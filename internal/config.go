package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/offbalance/internal/api"
	"github.com/starford/offbalance/internal/chart"
	"github.com/starford/offbalance/internal/dataset"
	"github.com/starford/offbalance/internal/session"
	"github.com/starford/offbalance/internal/source"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Archive kinds.
const (
	ArchiveNone = "none"
	ArchiveFS   = "fs"
	ArchiveS3   = "s3"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Source  SourceConfig      `yaml:"source"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	Archive ArchiveConfig     `yaml:"archive"`
	Session SessionConfig     `yaml:"session"`
	UI      UIConfig          `yaml:"ui"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []validation.Validatable{
		&c.App, &c.Source, &c.SQLite, &c.Archive, &c.Session, &c.UI, &c.Auth,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SourceConfig describes where the dataset is downloaded from.
type SourceConfig struct {
	URL             string        `yaml:"url"`
	DateColumn      string        `yaml:"date_column"`
	Timeout         time.Duration `yaml:"timeout"`
	UserAgent       string        `yaml:"user_agent"`
	FallbackToCache bool          `yaml:"fallback_to_cache"`
	// Watch reloads notices for file:// sources when the file changes.
	Watch bool `yaml:"watch"`
}

// Validate validates the source configuration.
func (c *SourceConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URL, validation.Required, validation.By(fetchableURL)),
		validation.Field(&c.DateColumn, validation.Required),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

func fetchableURL(v any) error {
	s, _ := v.(string)
	u, err := url.Parse(s)
	if err != nil {
		return errors.New("must be a valid URL")
	}
	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return errors.New("must include a host")
		}
	case "file":
		if u.Path == "" {
			return errors.New("must include a path")
		}
	default:
		return errors.New("scheme must be http, https or file")
	}
	return nil
}

// Options converts the section into fetcher options.
func (c *SourceConfig) Options() source.Options {
	return source.Options{
		URL:             c.URL,
		DateColumn:      c.DateColumn,
		UserAgent:       c.UserAgent,
		Timeout:         c.Timeout,
		FallbackToCache: c.FallbackToCache,
	}
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// ArchiveConfig selects where raw downloads are copied.
type ArchiveConfig struct {
	Kind    string `yaml:"kind"`
	Dir     string `yaml:"dir"`
	Bucket  string `yaml:"bucket"`
	Region  string `yaml:"region"`
	Prefix  string `yaml:"prefix"`
	Profile string `yaml:"profile"`
}

// Validate validates the archive configuration.
func (c *ArchiveConfig) Validate() error {
	if c.Kind == "" {
		c.Kind = ArchiveNone
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Kind, validation.In(ArchiveNone, ArchiveFS, ArchiveS3)),
		validation.Field(&c.Dir, validation.When(c.Kind == ArchiveFS, validation.Required)),
		validation.Field(&c.Bucket, validation.When(c.Kind == ArchiveS3, validation.Required)),
		validation.Field(&c.Region, validation.When(c.Kind == ArchiveS3, validation.Required)),
	)
}

// SessionConfig controls visitor session lifetime.
type SessionConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Validate validates the session configuration.
func (c *SessionConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.TTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.SweepInterval, validation.Required, validation.Min(time.Second)),
	)
}

// UIConfig controls the page.
type UIConfig struct {
	Title       string `yaml:"title"`
	TableRows   int    `yaml:"table_rows"`
	ChartFormat string `yaml:"chart_format"`
}

// Validate validates the UI configuration.
func (c *UIConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.TableRows, validation.Min(1)),
		validation.Field(&c.ChartFormat, validation.In(string(chart.PNG), string(chart.SVG))),
	)
}

// Options converts the section into page options.
func (c *UIConfig) Options() api.UIOptions {
	return api.UIOptions{
		Title:       c.Title,
		TableRows:   c.TableRows,
		ChartFormat: chart.Format(c.ChartFormat),
	}
}

// AuthConfig holds authentication configuration for the JSON API.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Source: SourceConfig{
			URL:             source.DefaultURL,
			DateColumn:      dataset.DefaultDateColumn,
			Timeout:         source.DefaultTimeout,
			UserAgent:       source.DefaultUserAgent,
			FallbackToCache: true,
		},
		SQLite: SQLiteConfig{
			Path: "./offbalance.db",
		},
		Archive: ArchiveConfig{
			Kind: ArchiveNone,
		},
		Session: SessionConfig{
			TTL:           session.DefaultTTL,
			SweepInterval: time.Minute,
		},
		UI: UIConfig{
			Title:       api.DefaultTitle,
			TableRows:   200,
			ChartFormat: string(chart.PNG),
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
