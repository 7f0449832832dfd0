// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/JakeFAU/opportunity-crawler/internal/crawler"
	"github.com/JakeFAU/opportunity-crawler/internal/database"
)

// Provider names.
const (
	ProviderMemory   = "memory"
	ProviderPostgres = "postgres"
	ProviderFile     = "file"
	ProviderNoop     = "noop"
	ProviderPubSub   = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Verify   VerifyConfig   `mapstructure:"verify"`
	Database DatabaseConfig `mapstructure:"database"`
	Registry RegistryConfig `mapstructure:"registry"`
	Events   EventsConfig   `mapstructure:"events"`
	Server   ServerConfig   `mapstructure:"server"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CrawlerConfig governs fetching and politeness.
type CrawlerConfig struct {
	UserAgent           string        `mapstructure:"user_agent"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxBytes            int64         `mapstructure:"max_bytes"`
	DefaultMinDelay     time.Duration `mapstructure:"default_min_delay"`
	RobotsTTL           time.Duration `mapstructure:"robots_ttl"`
	RobotsMode          string        `mapstructure:"robots_mode"`
	BackoffBase         time.Duration `mapstructure:"backoff_base"`
	BackoffMax          time.Duration `mapstructure:"backoff_max"`
	BlockPenalty        float64       `mapstructure:"block_penalty"`
	BlockedHosts        []string      `mapstructure:"blocked_hosts"`
	GlobalRPS           float64       `mapstructure:"global_rps"`
	DiscoverConcurrency int           `mapstructure:"discover_concurrency"`
	MaxRequestsPerRun   int           `mapstructure:"max_requests_per_run"`
	ContentHashChars    int           `mapstructure:"content_hash_chars"`
}

// VerifyConfig sizes verification batches.
type VerifyConfig struct {
	BatchLimit int `mapstructure:"batch_limit"`
}

// DatabaseConfig selects and sizes the opportunity store.
type DatabaseConfig struct {
	Provider        string        `mapstructure:"provider"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// RegistryConfig selects where sources come from.
type RegistryConfig struct {
	Provider string `mapstructure:"provider"`
	Path     string `mapstructure:"path"`
}

// EventsConfig selects the status-change publisher.
type EventsConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	APIKey          string        `mapstructure:"api_key"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ScheduleConfig holds cron specs; an empty spec disables that workflow.
type ScheduleConfig struct {
	Discover    string `mapstructure:"discover"`
	Verify      string `mapstructure:"verify"`
	Reap        string `mapstructure:"reap"`
	ProgramType string `mapstructure:"program_type"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OPPCRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := crawler.DefaultConfig()
	v.SetDefault("crawler.user_agent", d.UserAgent)
	v.SetDefault("crawler.timeout", d.Timeout)
	v.SetDefault("crawler.max_bytes", d.MaxBytes)
	v.SetDefault("crawler.default_min_delay", d.DefaultMinDelay)
	v.SetDefault("crawler.robots_ttl", d.RobotsTTL)
	v.SetDefault("crawler.robots_mode", d.RobotsMode)
	v.SetDefault("crawler.backoff_base", d.BackoffBase)
	v.SetDefault("crawler.backoff_max", d.BackoffMax)
	v.SetDefault("crawler.block_penalty", d.BlockPenalty)
	v.SetDefault("crawler.blocked_hosts", []string{})
	v.SetDefault("crawler.global_rps", 0)
	v.SetDefault("crawler.discover_concurrency", d.DiscoverConcurrency)
	v.SetDefault("crawler.max_requests_per_run", d.MaxRequestsPerRun)
	v.SetDefault("crawler.content_hash_chars", d.ContentHashChars)
	v.SetDefault("verify.batch_limit", d.VerifyLimit)
	v.SetDefault("database.provider", ProviderMemory)
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.migrate", true)
	v.SetDefault("registry.provider", ProviderFile)
	v.SetDefault("registry.path", "sources.yaml")
	v.SetDefault("events.provider", ProviderNoop)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("schedule.discover", "0 3 * * *")
	v.SetDefault("schedule.verify", "0 */6 * * *")
	v.SetDefault("schedule.reap", "30 0 * * *")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := c.CrawlerSettings().Validate(); err != nil {
		return err
	}
	if c.Crawler.MaxBytes <= 0 {
		return fmt.Errorf("crawler.max_bytes must be > 0")
	}
	if c.Verify.BatchLimit <= 0 {
		return fmt.Errorf("verify.batch_limit must be > 0")
	}
	switch c.Database.Provider {
	case ProviderMemory:
	case ProviderPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set when database.provider is %q", ProviderPostgres)
		}
	default:
		return fmt.Errorf("database.provider must be %q or %q", ProviderMemory, ProviderPostgres)
	}
	switch c.Registry.Provider {
	case ProviderFile:
		if c.Registry.Path == "" {
			return fmt.Errorf("registry.path must be set when registry.provider is %q", ProviderFile)
		}
	case ProviderPostgres:
		if c.Database.Provider != ProviderPostgres {
			return fmt.Errorf("registry.provider %q requires database.provider %q", ProviderPostgres, ProviderPostgres)
		}
	default:
		return fmt.Errorf("registry.provider must be %q or %q", ProviderFile, ProviderPostgres)
	}
	switch c.Events.Provider {
	case ProviderNoop, ProviderMemory:
	case ProviderPubSub:
		if c.Events.ProjectID == "" || c.Events.TopicID == "" {
			return fmt.Errorf("events.project_id and events.topic_id must be set when events.provider is %q", ProviderPubSub)
		}
	default:
		return fmt.Errorf("events.provider must be one of %q, %q, %q", ProviderNoop, ProviderMemory, ProviderPubSub)
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	for name, spec := range map[string]string{
		"schedule.discover": c.Schedule.Discover,
		"schedule.verify":   c.Schedule.Verify,
		"schedule.reap":     c.Schedule.Reap,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// CrawlerSettings converts the crawler and verify sections into crawler.Config.
func (c Config) CrawlerSettings() crawler.Config {
	return crawler.Config{
		UserAgent:           c.Crawler.UserAgent,
		Timeout:             c.Crawler.Timeout,
		MaxBytes:            c.Crawler.MaxBytes,
		DefaultMinDelay:     c.Crawler.DefaultMinDelay,
		RobotsTTL:           c.Crawler.RobotsTTL,
		RobotsMode:          c.Crawler.RobotsMode,
		BackoffBase:         c.Crawler.BackoffBase,
		BackoffMax:          c.Crawler.BackoffMax,
		BlockPenalty:        c.Crawler.BlockPenalty,
		BlockedHosts:        c.Crawler.BlockedHosts,
		GlobalRPS:           c.Crawler.GlobalRPS,
		DiscoverConcurrency: c.Crawler.DiscoverConcurrency,
		MaxRequestsPerRun:   c.Crawler.MaxRequestsPerRun,
		VerifyLimit:         c.Verify.BatchLimit,
		ContentHashChars:    c.Crawler.ContentHashChars,
	}
}

// DatabaseSettings converts the database section into database.Config.
func (c Config) DatabaseSettings() database.Config {
	return database.Config{
		DSN:             c.Database.DSN,
		MaxConns:        c.Database.MaxConns,
		MinConns:        c.Database.MinConns,
		MaxConnLifetime: c.Database.MaxConnLifetime,
	}
}
