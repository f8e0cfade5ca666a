// Package config loads the dashboard configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/view"
)

// EnvPrefix prefixes every environment override, e.g. MONITOR_WINDOW_MAX_POINTS.
const EnvPrefix = "MONITOR"

// Config is the dashboard configuration.
type Config struct {
	API struct {
		BaseURL string        `mapstructure:"base_url"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"api"`
	Poll struct {
		Interval         time.Duration `mapstructure:"interval"`
		PanelInterval    time.Duration `mapstructure:"panel_interval"`
		Range            string        `mapstructure:"range"`
		Limit            int           `mapstructure:"limit"`
		AlertHours       int           `mapstructure:"alert_hours"`
		MaintenanceHours int           `mapstructure:"maintenance_hours"`
	} `mapstructure:"poll"`
	Window struct {
		MaxPoints         int    `mapstructure:"max_points"`
		Sizes             []int  `mapstructure:"sizes"`
		SeriesMode        string `mapstructure:"series_mode"`
		ValueMode         string `mapstructure:"value_mode"`
		TrackIdleEntities bool   `mapstructure:"track_idle_entities"`
		Strict            bool   `mapstructure:"strict"`
	} `mapstructure:"window"`
	Export struct {
		Dir    string `mapstructure:"dir"`
		Width  int    `mapstructure:"width"`
		Height int    `mapstructure:"height"`
	} `mapstructure:"export"`
	Metrics struct {
		Port string `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Log struct {
		Level string `mapstructure:"level"`
		File  string `mapstructure:"file"`
	} `mapstructure:"log"`
}

// Modes returns the display configuration.
func (c *Config) Modes() view.Modes {
	return view.Modes{
		SeriesMode: view.SeriesMode(c.Window.SeriesMode),
		ValueMode:  view.ValueMode(c.Window.ValueMode),
		MaxPoints:  c.Window.MaxPoints,
	}
}

// Ranges lists the time ranges the query API understands.
var Ranges = []string{"realtime", "1h", "6h", "24h"}

// Validate checks enumerated fields and bounds.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be positive, got %s", c.Poll.Interval)
	}
	if len(c.Window.Sizes) == 0 {
		return errors.New("window.sizes must not be empty")
	}
	allowed := false
	for _, s := range c.Window.Sizes {
		if s < 1 {
			return fmt.Errorf("window.sizes contains %d", s)
		}
		if s == c.Window.MaxPoints {
			allowed = true
		}
	}
	if !allowed {
		return fmt.Errorf("window.max_points %d is not one of %v", c.Window.MaxPoints, c.Window.Sizes)
	}
	knownRange := false
	for _, r := range Ranges {
		if r == c.Poll.Range {
			knownRange = true
		}
	}
	if !knownRange {
		return fmt.Errorf("poll.range %q is not one of %v", c.Poll.Range, Ranges)
	}
	if err := c.Modes().Validate(); err != nil {
		return fmt.Errorf("window: %w", err)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:8000")
	v.SetDefault("api.timeout", "2s")
	v.SetDefault("poll.interval", "5s")
	v.SetDefault("poll.panel_interval", "10s")
	v.SetDefault("poll.range", "realtime")
	v.SetDefault("poll.limit", 0)
	v.SetDefault("poll.alert_hours", 12)
	v.SetDefault("poll.maintenance_hours", 24)
	v.SetDefault("window.max_points", 40)
	v.SetDefault("window.sizes", []int{20, 40, 60})
	v.SetDefault("window.series_mode", string(view.Aggregate))
	v.SetDefault("window.value_mode", string(view.Cumulative))
	v.SetDefault("window.track_idle_entities", true)
	v.SetDefault("window.strict", false)
	v.SetDefault("export.dir", ".")
	v.SetDefault("export.width", 1024)
	v.SetDefault("export.height", 480)
	v.SetDefault("metrics.port", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "monitor.log")
}

// Load reads defaults, an optional config file and environment overrides.
// With an empty path the file is searched as config.yaml in ./config and the
// working directory; a missing file is not an error.
func Load(path string) (*Config, *viper.Viper, error) {
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
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Watch calls onChange with the re-read configuration whenever the config
// file changes. Invalid edits are logged and ignored. It is a no-op when no
// config file was found.
func Watch(v *viper.Viper, logger *logrus.Logger, onChange func(*Config)) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			logger.WithError(err).WithField("file", e.Name).Warn("Ignoring config change")
			return
		}
		logger.WithField("file", e.Name).Info("Config reloaded")
		onChange(cfg)
	})
	v.WatchConfig()
}
