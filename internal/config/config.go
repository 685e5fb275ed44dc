// Package config loads the service settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/nlstn/go-sensorthings/internal/model"
	"gopkg.in/yaml.v3"
)

// Settings is the complete service configuration.
type Settings struct {
	// ServiceRootURL is the externally visible base URL, without version.
	ServiceRootURL string `yaml:"service_root_url" env:"STA_SERVICE_ROOT_URL"`
	APIVersion     string `yaml:"api_version" env:"STA_API_VERSION"`

	DefaultTop     int  `yaml:"default_top" env:"STA_DEFAULT_TOP"`
	MaxTop         int  `yaml:"max_top" env:"STA_MAX_TOP"`
	DefaultCount   bool `yaml:"default_count" env:"STA_DEFAULT_COUNT"`
	MaxExpandDepth int  `yaml:"max_expand_depth" env:"STA_MAX_EXPAND_DEPTH"`
	// MaxDataSize limits the string and JSON bytes of one response. Zero
	// disables the limit.
	MaxDataSize int64 `yaml:"max_data_size" env:"STA_MAX_DATA_SIZE"`

	CustomLinks             CustomLinksConfig `yaml:"custom_links"`
	RelativeNavigationLinks bool              `yaml:"relative_navigation_links" env:"STA_RELATIVE_NAVIGATION_LINKS"`
	StrictDeserialization   bool              `yaml:"strict_deserialization" env:"STA_STRICT_DESERIALIZATION"`
	IDKind                  string            `yaml:"id_kind" env:"STA_ID_KIND"`

	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// CustomLinksConfig controls links generated inside properties objects.
type CustomLinksConfig struct {
	Enabled      bool `yaml:"enabled" env:"STA_CUSTOM_LINKS_ENABLED"`
	RecurseDepth int  `yaml:"recurse_depth" env:"STA_CUSTOM_LINKS_RECURSE_DEPTH"`
}

// DatabaseConfig selects and tunes the persistence connection.
type DatabaseConfig struct {
	// Dialect is "sqlite" or "postgres".
	Dialect         string        `yaml:"dialect" env:"STA_DATABASE_DIALECT"`
	DSN             string        `yaml:"dsn" env:"STA_DATABASE_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"STA_DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"STA_DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"STA_DATABASE_CONN_MAX_LIFETIME"`
	AutoMigrate     bool          `yaml:"auto_migrate" env:"STA_DATABASE_AUTO_MIGRATE"`
}

// MQTTConfig configures change notifications over MQTT.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled" env:"STA_MQTT_ENABLED"`
	Broker      string `yaml:"broker" env:"STA_MQTT_BROKER"`
	ClientID    string `yaml:"client_id" env:"STA_MQTT_CLIENT_ID"`
	Username    string `yaml:"username" env:"STA_MQTT_USERNAME"`
	Password    string `yaml:"password" env:"STA_MQTT_PASSWORD"`
	QoS         int    `yaml:"qos" env:"STA_MQTT_QOS"`
	TopicPrefix string `yaml:"topic_prefix" env:"STA_MQTT_TOPIC_PREFIX"`
	Workers     int    `yaml:"workers" env:"STA_MQTT_WORKERS"`
	QueueSize   int    `yaml:"queue_size" env:"STA_MQTT_QUEUE_SIZE"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"STA_LOG_LEVEL"`
	Format string `yaml:"format" env:"STA_LOG_FORMAT"`
	Output string `yaml:"output" env:"STA_LOG_OUTPUT"`
}

// Default returns the settings used for values absent from file and
// environment.
func Default() *Settings {
	return &Settings{
		ServiceRootURL: "http://localhost:8080/FROST-Server",
		APIVersion:     "v1.1",
		DefaultTop:     100,
		MaxTop:         1000,
		MaxExpandDepth: 5,
		MaxDataSize:    25_000_000,
		CustomLinks: CustomLinksConfig{
			RecurseDepth: 5,
		},
		StrictDeserialization: true,
		IDKind:                "integer",
		Database: DatabaseConfig{
			Dialect:         "sqlite",
			DSN:             "file:sensorthings.db",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			AutoMigrate:     true,
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "sensorthings",
			QoS:         1,
			TopicPrefix: "v1.1",
			Workers:     2,
			QueueSize:   1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads the YAML file at path over the defaults, applies STA_*
// environment overrides and validates the result.
func Load(path string) (*Settings, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := FromEnvironment(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// FromEnvironment overrides the fields of cfg whose STA_* variable is set.
func FromEnvironment(cfg *Settings) error {
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("reading environment: %w", err)
	}
	return nil
}

// ServiceRoot returns the versioned base URL, as in
// "http://localhost:8080/FROST-Server/v1.1".
func (c *Settings) ServiceRoot() string {
	root := strings.TrimSuffix(c.ServiceRootURL, "/")
	if c.APIVersion == "" {
		return root
	}
	return root + "/" + c.APIVersion
}

// Validate checks the configuration for errors.
func (c *Settings) Validate() error {
	var errs []string

	if c.ServiceRootURL == "" {
		errs = append(errs, "service_root_url is required")
	}
	if c.DefaultTop < 0 {
		errs = append(errs, "default_top must not be negative")
	}
	if c.MaxTop < 0 {
		errs = append(errs, "max_top must not be negative")
	}
	if c.MaxTop > 0 && c.DefaultTop > c.MaxTop {
		errs = append(errs, "default_top must not exceed max_top")
	}
	if c.MaxExpandDepth < 0 {
		errs = append(errs, "max_expand_depth must not be negative")
	}
	if c.MaxDataSize < 0 {
		errs = append(errs, "max_data_size must not be negative")
	}
	if c.CustomLinks.RecurseDepth < 0 {
		errs = append(errs, "custom_links.recurse_depth must not be negative")
	}
	if _, err := model.ParseIDKind(c.IDKind); err != nil {
		errs = append(errs, fmt.Sprintf("id_kind %q is not one of integer, string, uuid", c.IDKind))
	}

	switch strings.ToLower(c.Database.Dialect) {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("database.dialect %q is not one of sqlite, postgres", c.Database.Dialect))
	}
	if c.Database.DSN == "" {
		errs = append(errs, "database.dsn is required")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, "mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
