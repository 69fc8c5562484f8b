// Package config loads asana2sql settings.
//
// Precedence, highest first: command-line flags, ASANA2SQL_* environment
// variables (a .env file is loaded into the environment first), the config
// file, defaults. Nested keys map to environment names by replacing "." with
// "_", so asana.access_token is ASANA2SQL_ASANA_ACCESS_TOKEN.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Mschirtzinger/asana2sql/internal/asana"
	"github.com/Mschirtzinger/asana2sql/internal/workspace"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "ASANA2SQL"

// Source kinds.
const (
	SourceAPI      = "api"
	SourceSnapshot = "snapshot"
)

// Config is the effective configuration.
type Config struct {
	ProjectID     int64                `mapstructure:"project_id"`
	TableName     string               `mapstructure:"table_name"`
	DeriveFields  bool                 `mapstructure:"derive_fields"`
	ModifiedSince string               `mapstructure:"modified_since"`
	Tables        workspace.TableNames `mapstructure:"tables"`
	Asana         AsanaConfig          `mapstructure:"asana"`
	Source        SourceConfig         `mapstructure:"source"`
	Database      DatabaseConfig       `mapstructure:"database"`
	Log           LogConfig            `mapstructure:"log"`
	Daemon        DaemonConfig         `mapstructure:"daemon"`
}

type AsanaConfig struct {
	AccessToken string        `mapstructure:"access_token"`
	BaseURL     string        `mapstructure:"base_url"`
	Verify      bool          `mapstructure:"verify"`
	RateLimit   float64       `mapstructure:"rate_limit"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type SourceConfig struct {
	Kind string `mapstructure:"kind"`
	Dir  string `mapstructure:"dir"`
}

type DatabaseConfig struct {
	Driver  string `mapstructure:"driver"`
	DSN     string `mapstructure:"dsn"`
	DumpSQL bool   `mapstructure:"dump_sql"`
	Dry     bool   `mapstructure:"dry"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type DaemonConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	Debounce      time.Duration `mapstructure:"debounce"`
	DashboardPort int           `mapstructure:"dashboard_port"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Tables: workspace.TableNames{}.WithDefaults(),
		Asana: AsanaConfig{
			BaseURL:   asana.DefaultBaseURL,
			Verify:    true,
			RateLimit: asana.DefaultRateLimit,
			Timeout:   30 * time.Second,
		},
		Source:   SourceConfig{Kind: SourceAPI},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "asana2sql.db"},
		Log:      LogConfig{Level: "info", MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 28},
		Daemon:   DaemonConfig{Interval: 5 * time.Minute, Debounce: 500 * time.Millisecond},
	}
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	def := Defaults()
	flattenInto(def.Settings(false), "", func(key string, value any) {
		v.SetDefault(key, value)
	})
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func flattenInto(m map[string]any, prefix string, set func(string, any)) {
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			flattenInto(sub, key, set)
			continue
		}
		set(key, val)
	}
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// SearchPaths lists the directories searched for asana2sql.{toml,yaml,json}.
func SearchPaths() []string {
	paths := []string{"."}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, "asana2sql"))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "asana2sql"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".asana2sql"))
	}
	return paths
}

// ReadFile reads the config file at path, or searches SearchPaths when path
// is empty. Finding no file is not an error. It returns the file used.
func ReadFile(v *viper.Viper, path string) (string, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("asana2sql")
		for _, p := range SearchPaths() {
			v.AddConfigPath(p)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read config: %w", err)
	}
	return v.ConfigFileUsed(), nil
}

// Decode returns the effective configuration held by v.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigurationError{Reason: err.Error()}
	}
	cfg.Tables = cfg.Tables.WithDefaults()
	return &cfg, nil
}

// Validate checks settings every command depends on.
func (c *Config) Validate() error {
	switch c.Source.Kind {
	case SourceAPI:
	case SourceSnapshot:
		if c.Source.Dir == "" {
			return Errorf("source.dir", "required for a snapshot source")
		}
	default:
		return Errorf("source.kind", "must be %q or %q, got %q", SourceAPI, SourceSnapshot, c.Source.Kind)
	}
	switch c.Database.Driver {
	case "sqlite", "libsql":
	default:
		return Errorf("database.driver", "must be sqlite or libsql, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return Errorf("database.dsn", "required")
	}
	if c.Asana.RateLimit < 0 {
		return Errorf("asana.rate_limit", "cannot be negative")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Daemon.Interval < 0 {
		return Errorf("daemon.interval", "cannot be negative")
	}
	return nil
}

// RequireProject checks the settings a pass needs on top of Validate.
func (c *Config) RequireProject() error {
	if c.ProjectID <= 0 {
		return Errorf("project_id", "required")
	}
	if c.Source.Kind == SourceAPI && c.Asana.AccessToken == "" {
		return Errorf("asana.access_token", "required for the api source (set %s_ASANA_ACCESS_TOKEN)", EnvPrefix)
	}
	return nil
}

// Settings returns the configuration as a nested map keyed like the config
// file. Durations are rendered as strings. With redact set, the access
// token is masked.
func (c *Config) Settings(redact bool) map[string]any {
	token := c.Asana.AccessToken
	if redact && token != "" {
		token = "<redacted>"
	}
	t := c.Tables
	return map[string]any{
		"project_id":     c.ProjectID,
		"table_name":     c.TableName,
		"derive_fields":  c.DeriveFields,
		"modified_since": c.ModifiedSince,
		"tables": map[string]any{
			"projects":                 t.Projects,
			"project_memberships":      t.ProjectMemberships,
			"users":                    t.Users,
			"followers":                t.Followers,
			"custom_fields":            t.CustomFields,
			"custom_field_enum_values": t.CustomFieldEnumValues,
			"custom_field_values":      t.CustomFieldValues,
		},
		"asana": map[string]any{
			"access_token": token,
			"base_url":     c.Asana.BaseURL,
			"verify":       c.Asana.Verify,
			"rate_limit":   c.Asana.RateLimit,
			"timeout":      c.Asana.Timeout.String(),
		},
		"source": map[string]any{
			"kind": c.Source.Kind,
			"dir":  c.Source.Dir,
		},
		"database": map[string]any{
			"driver":   c.Database.Driver,
			"dsn":      c.Database.DSN,
			"dump_sql": c.Database.DumpSQL,
			"dry":      c.Database.Dry,
		},
		"log": map[string]any{
			"level":        c.Log.Level,
			"file":         c.Log.File,
			"max_size_mb":  c.Log.MaxSizeMB,
			"max_backups":  c.Log.MaxBackups,
			"max_age_days": c.Log.MaxAgeDays,
		},
		"daemon": map[string]any{
			"interval":       c.Daemon.Interval.String(),
			"debounce":       c.Daemon.Debounce.String(),
			"dashboard_port": c.Daemon.DashboardPort,
		},
	}
}
