package crawler

import (
	"fmt"
	"time"
)

// Defaults for fetch and politeness settings.
const (
	DefaultUserAgent         = "OpportunityCrawler/1.0 (+https://github.com/JakeFAU/opportunity-crawler)"
	DefaultAccept            = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	DefaultTimeout           = 20 * time.Second
	DefaultMaxBytes          = 450000
	DefaultMinDelay          = 2 * time.Second
	DefaultRobotsTTL         = 6 * time.Hour
	DefaultMaxRequestsPerRun = 25
	DefaultVerifyLimit       = 100
	DefaultBlockPenalty      = 2.0
)

// Robots modes.
const (
	RobotsModeLegacy   = "legacy"
	RobotsModeStandard = "standard"
)

// Config holds the settings for discovery and verification runs. It is
// decoupled from Viper so the crawler can be constructed directly in tests.
type Config struct {
	UserAgent           string
	Timeout             time.Duration
	MaxBytes            int64
	DefaultMinDelay     time.Duration
	RobotsTTL           time.Duration
	RobotsMode          string
	BackoffBase         time.Duration
	BackoffMax          time.Duration
	BlockPenalty        float64
	BlockedHosts        []string
	GlobalRPS           float64
	DiscoverConcurrency int
	MaxRequestsPerRun   int
	VerifyLimit         int
	ContentHashChars    int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		UserAgent:           DefaultUserAgent,
		Timeout:             DefaultTimeout,
		MaxBytes:            DefaultMaxBytes,
		DefaultMinDelay:     DefaultMinDelay,
		RobotsTTL:           DefaultRobotsTTL,
		RobotsMode:          RobotsModeLegacy,
		BackoffBase:         1500 * time.Millisecond,
		BackoffMax:          60 * time.Second,
		BlockPenalty:        DefaultBlockPenalty,
		DiscoverConcurrency: 1,
		MaxRequestsPerRun:   DefaultMaxRequestsPerRun,
		VerifyLimit:         DefaultVerifyLimit,
		ContentHashChars:    20000,
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = d.MaxBytes
	}
	if c.DefaultMinDelay < 0 {
		c.DefaultMinDelay = 0
	}
	if c.RobotsTTL <= 0 {
		c.RobotsTTL = d.RobotsTTL
	}
	if c.RobotsMode == "" {
		c.RobotsMode = d.RobotsMode
	}
	if c.BlockPenalty <= 0 {
		c.BlockPenalty = d.BlockPenalty
	}
	if c.DiscoverConcurrency <= 0 {
		c.DiscoverConcurrency = 1
	}
	if c.MaxRequestsPerRun <= 0 {
		c.MaxRequestsPerRun = d.MaxRequestsPerRun
	}
	if c.VerifyLimit <= 0 {
		c.VerifyLimit = d.VerifyLimit
	}
	if c.ContentHashChars <= 0 {
		c.ContentHashChars = d.ContentHashChars
	}
	return c
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.UserAgent == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("crawler.timeout must be > 0")
	}
	if c.MaxBytes <= 0 {
		return fmt.Errorf("crawler.max_bytes must be > 0")
	}
	if c.DefaultMinDelay < 0 {
		return fmt.Errorf("crawler.default_min_delay must be >= 0")
	}
	if c.RobotsMode != RobotsModeLegacy && c.RobotsMode != RobotsModeStandard {
		return fmt.Errorf("crawler.robots_mode must be %q or %q", RobotsModeLegacy, RobotsModeStandard)
	}
	if c.BackoffBase < 0 || c.BackoffMax < 0 {
		return fmt.Errorf("crawler.backoff_base and crawler.backoff_max must be >= 0")
	}
	if c.BackoffMax > 0 && c.BackoffMax < c.BackoffBase {
		return fmt.Errorf("crawler.backoff_max must be >= crawler.backoff_base")
	}
	if c.GlobalRPS < 0 {
		return fmt.Errorf("crawler.global_rps must be >= 0")
	}
	if c.DiscoverConcurrency < 0 {
		return fmt.Errorf("crawler.discover_concurrency must be >= 0")
	}
	return nil
}
