// Package config loads the query API configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/query-api/internal/cache"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/query-api/internal/planner"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/shared/store"
)

// EnvPrefix prefixes environment overrides, e.g. QUERY_DATABASE_DSN.
const EnvPrefix = "QUERY"

type Config struct {
	Server struct {
		HTTPPort        string        `mapstructure:"http_port"`
		GRPCPort        string        `mapstructure:"grpc_port"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		HealthInterval  time.Duration `mapstructure:"health_interval"`
	} `mapstructure:"server"`
	Database store.Config    `mapstructure:"database"`
	Cache    cache.Options   `mapstructure:"cache"`
	Planner  planner.Options `mapstructure:"planner"`
	Events   struct {
		AlertHours       int `mapstructure:"alert_hours"`
		MaintenanceHours int `mapstructure:"maintenance_hours"`
		MaxHours         int `mapstructure:"max_hours"`
	} `mapstructure:"events"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", "8000")
	v.SetDefault("server.grpc_port", "")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.health_interval", "5s")
	v.SetDefault("database.driver", store.DriverSQLite)
	v.SetDefault("database.dsn", "file:database.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", "30s")
	v.SetDefault("planner.realtime_batches", 60)
	v.SetDefault("planner.max_batches", 20000)
	v.SetDefault("planner.history_points", 360)
	v.SetDefault("planner.realtime_ttl", "2s")
	v.SetDefault("planner.history_ttl", "30s")
	v.SetDefault("events.alert_hours", 12)
	v.SetDefault("events.maintenance_hours", 24)
	v.SetDefault("events.max_hours", 168)
	v.SetDefault("log.level", "info")
}

// Load reads defaults, an optional config file and QUERY_* overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Server.HTTPPort == "" {
		return errors.New("server.http_port is required")
	}
	if c.Database.Driver != store.DriverPostgres && c.Database.Driver != store.DriverSQLite {
		return fmt.Errorf("database.driver %q is not %s or %s", c.Database.Driver, store.DriverPostgres, store.DriverSQLite)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.Events.MaxHours < 1 {
		return fmt.Errorf("events.max_hours must be positive, got %d", c.Events.MaxHours)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}
