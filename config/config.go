package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds estimator, transport and service configuration.
type Config struct {
	APIURL      string
	SearchURL   string
	RelayPrefix string
	APILimit    int

	APITimeout   time.Duration
	PageTimeout  time.Duration
	RelayTimeout time.Duration

	MobileUserAgent  string
	DesktopUserAgent string

	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration

	JitterMin time.Duration
	JitterMax time.Duration

	CacheSize int
	CacheTTL  time.Duration

	Workers      int
	BatchSize    int
	OutputFile   string
	OutputFormat string // csv, json, or dual

	ListenAddr     string
	DefaultFeeRate int

	LineChannelSecret string
	LineAccessToken   string

	Verbose bool
}

// DefaultConfig returns defaults targeting the public marketplace endpoints.
func DefaultConfig() *Config {
	return &Config{
		APIURL:           "https://api.mercari.jp/search_index/search",
		SearchURL:        "https://jp.mercari.com/search",
		RelayPrefix:      "https://r.jina.ai/",
		APILimit:         10,
		APITimeout:       10 * time.Second,
		PageTimeout:      15 * time.Second,
		RelayTimeout:     20 * time.Second,
		MobileUserAgent:  "Mercari_r/2111 (iPhone OS 16.5; ja-JP; iPhone14,2)",
		DesktopUserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		MaxRetries:       3,
		RetryBackoff:     500 * time.Millisecond,
		RetryBackoffMax:  4 * time.Second,
		JitterMin:        500 * time.Millisecond,
		JitterMax:        1500 * time.Millisecond,
		CacheSize:        256,
		CacheTTL:         10 * time.Minute,
		Workers:          2,
		BatchSize:        16,
		OutputFile:       "output/estimates.csv",
		OutputFormat:     "csv",
		ListenAddr:       ":8080",
		DefaultFeeRate:   20,
		Verbose:          false,
	}
}

// NotificationsEnabled reports whether both LINE credentials are present.
func (c *Config) NotificationsEnabled() bool {
	return c.LineChannelSecret != "" && c.LineAccessToken != ""
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"api URL":      c.APIURL,
		"search URL":   c.SearchURL,
		"relay prefix": c.RelayPrefix,
	} {
		if raw == "" {
			return fmt.Errorf("%s cannot be empty", name)
		}
		parsed, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("%s must include a host", name)
		}
	}

	if c.APILimit <= 0 {
		return fmt.Errorf("api limit must be positive")
	}
	if c.APITimeout <= 0 || c.PageTimeout <= 0 || c.RelayTimeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MobileUserAgent == "" || c.DesktopUserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.JitterMin < 0 {
		return fmt.Errorf("jitter min cannot be negative")
	}
	if c.JitterMax < c.JitterMin {
		return fmt.Errorf("jitter max (%s) cannot be below jitter min (%s)", c.JitterMax, c.JitterMin)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache size cannot be negative")
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache ttl cannot be negative")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.DefaultFeeRate < 0 || c.DefaultFeeRate > 100 {
		return fmt.Errorf("default fee rate must be between 0 and 100")
	}

	return nil
}
