package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the process configuration, read from environment variables.
type Config struct {
	// ServerListenAddr specifies the network address that the HTTP server will listen on.
	ServerListenAddr string `env:"SERVER_LISTEN_ADDR" envDefault:":3594"`
	// SiteBaseURL is the origin of the scraped site.
	SiteBaseURL string `env:"SITE_BASE_URL" envDefault:"https://jut.su"`
	// UserAgent is sent with every request to the site.
	UserAgent string `env:"USER_AGENT" envDefault:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"`
	// PageThrottle is the delay between two listing page requests.
	PageThrottle time.Duration `env:"PAGE_THROTTLE" envDefault:"250ms"`

	// CachePath is the catalog file.
	CachePath string `env:"CACHE_PATH" envDefault:"./data/cache.json"`
	// DownloadDir receives one file per downloaded episode.
	DownloadDir string `env:"DOWNLOAD_DIR" envDefault:"./data/anime"`
	// PagesCacheDir holds the memoized show pages.
	PagesCacheDir string `env:"PAGES_CACHE_DIR" envDefault:"./data/pages"`
	// PagesCacheTTL is how long a memoized episode list stays valid.
	PagesCacheTTL time.Duration `env:"PAGES_CACHE_TTL" envDefault:"24h"`

	// ProgressChannel is the websocket channel download progress is published to.
	ProgressChannel string `env:"PROGRESS_CHANNEL" envDefault:"downloads"`

	LogLevel           string `env:"LOG_LEVEL" envDefault:"info"`
	ServiceEnvironment string `env:"SERVICE_ENVIRONMENT" envDefault:"lcl"`
	// OTELExporterEndpoint enables OTLP export of logs, metrics and traces when set.
	OTELExporterEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to env.ParseAs: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.SiteBaseURL)
	if err != nil {
		return fmt.Errorf("failed to parse SITE_BASE_URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("SITE_BASE_URL must be an absolute URL, got %q", c.SiteBaseURL)
	}
	c.SiteBaseURL = fmt.Sprintf("%s://%s", u.Scheme, u.Host)

	if c.PageThrottle < 0 {
		return fmt.Errorf("PAGE_THROTTLE must not be negative, got %s", c.PageThrottle)
	}

	if c.PagesCacheTTL <= 0 {
		return fmt.Errorf("PAGES_CACHE_TTL must be positive, got %s", c.PagesCacheTTL)
	}

	return nil
}
