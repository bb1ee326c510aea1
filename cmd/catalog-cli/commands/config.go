package commands

import (
	"fmt"
	"net/url"
	"time"

	"catalog-scraper/internal/scrapers/catalog"
	"catalog-scraper/lib/configutil"
)

const envPrefix = "CATALOG"

// Config is read from a json5 file (merged with its .local override), then
// from CATALOG_* environment variables (and .env), then from flags.
type Config struct {
	SeedURL string `json:"seed_url" envconfig:"SEED_URL"`
	Output  string `json:"output" envconfig:"OUTPUT"`

	MaxPages        int     `json:"max_pages" envconfig:"MAX_PAGES"`
	DelayMinSeconds float64 `json:"delay_min_seconds" envconfig:"DELAY_MIN_SECONDS"`
	DelayMaxSeconds float64 `json:"delay_max_seconds" envconfig:"DELAY_MAX_SECONDS"`

	MaxRetries         int               `json:"max_retries" envconfig:"MAX_RETRIES"`
	BackoffUnitSeconds float64           `json:"backoff_unit_seconds" envconfig:"BACKOFF_UNIT_SECONDS"`
	MaxBackoffSeconds  float64           `json:"max_backoff_seconds" envconfig:"MAX_BACKOFF_SECONDS"`
	TimeoutSeconds     float64           `json:"timeout_seconds" envconfig:"TIMEOUT_SECONDS"`
	RequestsPerSecond  float64           `json:"requests_per_second" envconfig:"REQUESTS_PER_SECOND"`
	ChallengeTitle     string            `json:"challenge_title" envconfig:"CHALLENGE_TITLE"`
	Headers            map[string]string `json:"headers" envconfig:"HEADERS"`

	Concurrency int `json:"concurrency" envconfig:"CONCURRENCY"`

	RespectRobots bool   `json:"respect_robots" envconfig:"RESPECT_ROBOTS"`
	RobotsAgent   string `json:"robots_agent" envconfig:"ROBOTS_AGENT"`

	// directory to dump every http exchange into, empty disables dumping
	DumpHttp string `json:"dump_http" envconfig:"DUMP_HTTP"`
}

func DefaultConfig() Config {
	return Config{
		SeedURL:            "https://shop.kz/offers/noutbuki/",
		Output:             "data/laptops_data.csv",
		MaxPages:           catalog.DefaultMaxPages,
		DelayMinSeconds:    catalog.DefaultDelayMin.Seconds(),
		DelayMaxSeconds:    catalog.DefaultDelayMax.Seconds(),
		MaxRetries:         catalog.DefaultMaxRetries,
		BackoffUnitSeconds: catalog.DefaultBackoffUnit.Seconds(),
		MaxBackoffSeconds:  catalog.DefaultMaxBackoff.Seconds(),
		TimeoutSeconds:     catalog.DefaultTimeout.Seconds(),
		RequestsPerSecond:  2,
		ChallengeTitle:     catalog.DefaultChallengeTitle,
		Concurrency:        catalog.DefaultConcurrency,
		RobotsAgent:        "catalog-scraper",
	}
}

// LoadConfig reads the config at path, a missing file leaves the defaults.
func LoadConfig(path string) (Config, error) {
	cfg, err := configutil.ReadConfigOr(path, DefaultConfig())
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	err = configutil.ApplyEnv(envPrefix, &cfg, ".env")
	if err != nil {
		return Config{}, fmt.Errorf("environment: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	seed, err := url.Parse(c.SeedURL)
	if err != nil || !seed.IsAbs() || (seed.Scheme != "http" && seed.Scheme != "https") {
		return fmt.Errorf("seed_url must be an absolute http(s) url, got %q", c.SeedURL)
	}
	if c.Output == "" {
		return fmt.Errorf("output must not be empty")
	}
	if c.MaxPages < 1 {
		return fmt.Errorf("max_pages must be at least 1, got %d", c.MaxPages)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.DelayMinSeconds < 0 || c.DelayMaxSeconds < c.DelayMinSeconds {
		return fmt.Errorf(
			"delay range [%g, %g] is invalid",
			c.DelayMinSeconds, c.DelayMaxSeconds,
		)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (c Config) FetcherOptions() catalog.FetcherOptions {
	return catalog.FetcherOptions{
		Headers:           c.Headers,
		MaxRetries:        c.MaxRetries,
		BackoffUnit:       seconds(c.BackoffUnitSeconds),
		MaxBackoff:        seconds(c.MaxBackoffSeconds),
		ChallengeTitle:    c.ChallengeTitle,
		Timeout:           seconds(c.TimeoutSeconds),
		RequestsPerSecond: c.RequestsPerSecond,
	}
}

func (c Config) CrawlerOptions() catalog.CrawlerOptions {
	return catalog.CrawlerOptions{
		SeedURL:  c.SeedURL,
		MaxPages: c.MaxPages,
		DelayMin: seconds(c.DelayMinSeconds),
		DelayMax: seconds(c.DelayMaxSeconds),
		NoDelay:  c.DelayMaxSeconds == 0,
	}
}
