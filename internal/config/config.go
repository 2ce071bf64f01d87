package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all crawler settings, populated from environment variables.
type Config struct {
	StorePath  string
	MirrorPath string
	ParkName   string
	Timezone   *time.Location

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Empty schedule means run once and exit.
	CrawlSchedule  string
	PushgatewayURL string

	// Chat completion extraction. An empty key disables LLM sources.
	OpenAIKey     string
	OpenAIModel   string
	OpenAIBaseURL string
	LLMTimeout    time.Duration

	OpenDataURL      string
	OpenDataAppToken string
	OpenDataLimit    int
	OpenDataEnabled  bool

	// Headless browser.
	ChromePath      string
	BrowserHeadless bool
	NavTimeout      time.Duration
	PageDelay       time.Duration
	SettleDelay     time.Duration

	SourcesFile string
	Sources     []SourceSpec

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int

	// Empty brokers disable change publishing.
	KafkaBrokers []string
	KafkaTopic   string

	// Empty DSN disables the Postgres change sink.
	PGDSN      string
	PGMaxConns int
	PGTable    string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	var mapboxTimeout, llmTimeout, navTimeout, pageDelay, settleDelay time.Duration
	for _, d := range []struct {
		key, def string
		dst      *time.Duration
	}{
		{"MAPBOX_TIMEOUT", "5s", &mapboxTimeout},
		{"LLM_TIMEOUT", "120s", &llmTimeout},
		{"NAV_TIMEOUT", "30s", &navTimeout},
		{"PAGE_DELAY", "1s", &pageDelay},
		{"SETTLE_DELAY", "3s", &settleDelay},
	} {
		if *d.dst, err = parseDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}
	if mapboxTimeout <= 0 {
		return nil, errors.New("invalid MAPBOX_TIMEOUT")
	}

	tz, err := time.LoadLocation(sharedcfg.EnvOrDefault("TIMEZONE", "America/New_York"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	openDataLimit, err := parsePositiveInt("OPEN_DATA_LIMIT", 500)
	if err != nil {
		return nil, err
	}

	pgMaxConns, err := parsePositiveInt("PG_MAX_CONNS", 2)
	if err != nil {
		return nil, err
	}
	if pgMaxConns > math.MaxInt32 {
		return nil, errors.New("invalid PG_MAX_CONNS: exceeds the pool limit")
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		StorePath:       sharedcfg.EnvOrDefault("STORE_PATH", "data/events.csv"),
		MirrorPath:      sharedcfg.EnvOrDefault("MIRROR_PATH", "public/data/events.csv"),
		ParkName:        sharedcfg.EnvOrDefault("PARK_NAME", "Central Park"),
		Timezone:        tz,
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		CrawlSchedule:   strings.TrimSpace(os.Getenv("CRAWL_SCHEDULE")),
		PushgatewayURL:  os.Getenv("PUSHGATEWAY_URL"),

		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   sharedcfg.EnvOrDefault("OPENAI_MODEL", "gpt-4o"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		LLMTimeout:    llmTimeout,

		OpenDataURL:      sharedcfg.EnvOrDefault("OPEN_DATA_URL", "https://data.cityofnewyork.us/resource/8end-qv57.json"),
		OpenDataAppToken: os.Getenv("OPEN_DATA_APP_TOKEN"),
		OpenDataLimit:    openDataLimit,
		OpenDataEnabled:  sharedcfg.EnvOrDefault("OPEN_DATA_ENABLED", "true") == "true",

		ChromePath:      os.Getenv("CHROME_PATH"),
		BrowserHeadless: sharedcfg.EnvOrDefault("BROWSER_HEADLESS", "true") == "true",
		NavTimeout:      navTimeout,
		PageDelay:       pageDelay,
		SettleDelay:     settleDelay,

		SourcesFile: os.Getenv("SOURCES_FILE"),

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: parseMapboxCacheSize(),

		KafkaBrokers: parseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "park-events"),

		PGDSN:      os.Getenv("PG_DSN"),
		PGMaxConns: pgMaxConns,
		PGTable:    sharedcfg.EnvOrDefault("PG_TABLE", "park_events"),
	}

	if cfg.StorePath == "" {
		return nil, errors.New("STORE_PATH is required")
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}

	if cfg.SourcesFile != "" {
		cfg.Sources, err = LoadSources(cfg.SourcesFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg.Sources = DefaultSources()
	}

	return cfg, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

// parseBrokers treats an unset KAFKA_BROKERS as "publishing disabled".
func parseBrokers(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return sharedcfg.ParseBrokers(s)
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
