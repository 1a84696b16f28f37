package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"spotwatch/internal/catalog"
	"spotwatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Logging      logging.Config     `mapstructure:"logging"`
	Database     DatabaseConfig     `mapstructure:"database"`
	AWS          AWSConfig          `mapstructure:"aws"`
	Sampler      SamplerConfig      `mapstructure:"sampler"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Notification NotificationConfig `mapstructure:"notification"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Export       ExportConfig       `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN selects the in-memory store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// AWSConfig covers the EC2 provider.
type AWSConfig struct {
	Profile            string        `mapstructure:"profile"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	ProductDescription string        `mapstructure:"product_description"`
	ImageID            string        `mapstructure:"image_id"`
	KeyName            string        `mapstructure:"key_name"`
	SecurityGroupIDs   []string      `mapstructure:"security_group_ids"`
	SubnetID           string        `mapstructure:"subnet_id"`
}

// SamplerConfig governs price sampling.
type SamplerConfig struct {
	Regions          []string      `mapstructure:"regions"`
	Families         []string      `mapstructure:"families"`
	Lookback         time.Duration `mapstructure:"lookback"`
	ReferenceWindow  time.Duration `mapstructure:"reference_window"`
	Workers          int           `mapstructure:"workers"`
	RegionTimeout    time.Duration `mapstructure:"region_timeout"`
	SignificantScore float64       `mapstructure:"significant_score"`
}

// SchedulerConfig governs the watch loop cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
	PollResources   bool          `mapstructure:"poll_resources"`
}

// NotificationConfig defines channel adapters and the system alert route.
type NotificationConfig struct {
	SystemOwner     string        `mapstructure:"system_owner"`
	MinAnomalyScore float64       `mapstructure:"min_anomaly_score"`
	ChannelTimeout  time.Duration `mapstructure:"channel_timeout"`
	Email           EmailConfig   `mapstructure:"email"`
	SMS             SMSConfig     `mapstructure:"sms"`
	Chat            ChatConfig    `mapstructure:"chat"`
}

// EmailConfig describes the SMTP relay.
type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// SMSConfig describes the HTTP SMS gateway.
type SMSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BaseURL  string `mapstructure:"base_url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// ChatConfig tunes webhook delivery.
type ChatConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	UserAgent string `mapstructure:"user_agent"`
}

// MetricsConfig exposes the Prometheus endpoint while watching.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SPOTWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "spotwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("aws.request_timeout", "15s")
	v.SetDefault("aws.product_description", "Linux/UNIX")

	v.SetDefault("sampler.regions", []string{"us-east-1"})
	v.SetDefault("sampler.families", []string{"m5.large", "c5.large"})
	v.SetDefault("sampler.lookback", "1h")
	v.SetDefault("sampler.reference_window", "24h")
	v.SetDefault("sampler.workers", 4)
	v.SetDefault("sampler.region_timeout", "30s")
	v.SetDefault("sampler.significant_score", 0.7)

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x73707774))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", true)
	v.SetDefault("scheduler.poll_resources", true)

	v.SetDefault("notification.min_anomaly_score", 0.7)
	v.SetDefault("notification.channel_timeout", "10s")
	v.SetDefault("notification.email.port", 587)
	v.SetDefault("notification.chat.enabled", true)
	v.SetDefault("notification.chat.user_agent", "spotwatch/1.0")

	v.SetDefault("metrics.listen_addr", "")

	v.SetDefault("export.max_data_points", 5000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Sampler.Workers < 1 {
		return fmt.Errorf("sampler.workers must be at least 1")
	}
	if c.Sampler.Lookback <= 0 || c.Sampler.ReferenceWindow <= 0 {
		return fmt.Errorf("sampler.lookback and sampler.reference_window must be greater than zero")
	}
	if c.Sampler.SignificantScore < 0 || c.Sampler.SignificantScore > 1 {
		return fmt.Errorf("sampler.significant_score must be within [0, 1]")
	}
	if err := catalog.ValidateRegions(c.Sampler.Regions); err != nil {
		return fmt.Errorf("sampler.regions: %w", err)
	}
	if err := catalog.ValidateFamilies(c.Sampler.Families); err != nil {
		return fmt.Errorf("sampler.families: %w", err)
	}
	if c.AWS.RequestTimeout <= 0 {
		return fmt.Errorf("aws.request_timeout must be greater than zero")
	}
	if c.Notification.Email.Enabled {
		if c.Notification.Email.Host == "" {
			return fmt.Errorf("notification.email.host is required when email is enabled")
		}
		if c.Notification.Email.From == "" {
			return fmt.Errorf("notification.email.from is required when email is enabled")
		}
	}
	if c.Notification.SMS.Enabled && c.Notification.SMS.BaseURL == "" {
		return fmt.Errorf("notification.sms.base_url is required when sms is enabled")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
