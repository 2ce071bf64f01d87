package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cprunner/park-events-etl/internal/adapter/browser"
	"github.com/cprunner/park-events-etl/internal/adapter/csvstore"
	kafkaadapter "github.com/cprunner/park-events-etl/internal/adapter/kafka"
	"github.com/cprunner/park-events-etl/internal/adapter/llm"
	"github.com/cprunner/park-events-etl/internal/adapter/llmpage"
	"github.com/cprunner/park-events-etl/internal/adapter/mapbox"
	"github.com/cprunner/park-events-etl/internal/adapter/opendata"
	"github.com/cprunner/park-events-etl/internal/adapter/parks"
	"github.com/cprunner/park-events-etl/internal/adapter/postgres"
	"github.com/cprunner/park-events-etl/internal/adapter/racecal"
	"github.com/cprunner/park-events-etl/internal/config"
	"github.com/cprunner/park-events-etl/internal/domain"
	"github.com/cprunner/park-events-etl/internal/observability"
	"github.com/cprunner/park-events-etl/internal/pipeline"
)

// app holds the long-lived pieces of the crawler.
type app struct {
	cfg       *config.Config
	pipeline  *pipeline.Pipeline
	browser   *browser.Browser
	static    *browser.StaticFetcher
	completer *llm.Client
	area      domain.Area
	kafka     *kafkaadapter.Publisher
	pg        *postgres.Publisher
	metrics   *observability.Metrics
	logger    *slog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) (*app, error) {
	area := parkArea(cfg)

	// Initialize geocoder (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled && !area.Bounds.IsZero() {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	br := browser.New(browser.Options{
		ExecPath:   cfg.ChromePath,
		Headless:   cfg.BrowserHeadless,
		NavTimeout: cfg.NavTimeout,
	}, logger)
	static := browser.NewStaticFetcher("", cfg.NavTimeout, logger)
	completer := llm.NewClient(llm.Options{
		APIKey:  cfg.OpenAIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
		Timeout: cfg.LLMTimeout,
	}, metrics, logger)

	bindings, err := buildSources(cfg, area, br, static, completer, metrics, logger)
	if err != nil {
		return nil, err
	}

	store := csvstore.New(cfg.StorePath, cfg.MirrorPath, area.Location(), logger)

	a := &app{
		cfg:       cfg,
		browser:   br,
		static:    static,
		completer: completer,
		area:      area,
		metrics:   metrics,
		logger:    logger,
	}
	var sinks pipeline.Fanout
	if len(cfg.KafkaBrokers) > 0 {
		a.kafka = kafkaadapter.NewPublisher(cfg, logger)
		sinks = append(sinks, a.kafka)
		logger.Info("kafka change publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	if cfg.PGDSN != "" {
		a.pg, err = postgres.Open(ctx, postgres.Options{
			DSN:      cfg.PGDSN,
			MaxConns: cfg.PGMaxConns,
			Table:    cfg.PGTable,
		}, logger)
		if err != nil {
			logger.Warn("postgres change sink disabled", "error", err)
		} else {
			sinks = append(sinks, a.pg)
			logger.Info("postgres change sink enabled", "table", cfg.PGTable, "max_conns", cfg.PGMaxConns)
		}
	}
	var publisher pipeline.Publisher
	switch len(sinks) {
	case 0:
	case 1:
		publisher = sinks[0]
	default:
		publisher = sinks
	}

	filter := domain.NewFilter(area, geocoder, logger)
	a.pipeline = pipeline.New(bindings, pipeline.NewTransformer(filter), store, publisher, logger, metrics)
	return a, nil
}

// reloadSources swaps in a new source list from the sources file. A list
// that fails to build is logged and the current sources stay.
func (a *app) reloadSources(specs []config.SourceSpec) {
	next := *a.cfg
	next.Sources = specs
	bindings, err := buildSources(&next, a.area, a.browser, a.static, a.completer, a.metrics, a.logger)
	if err != nil {
		a.logger.Warn("sources reload rejected", "error", err)
		return
	}
	a.pipeline.SetSources(bindings)
	a.logger.Info("sources replaced", "sources", len(bindings))
}

// parkArea returns the configured park. Bounds are only known for the
// default park; other parks run without the geocoder rescue.
func parkArea(cfg *config.Config) domain.Area {
	area := domain.CentralPark(cfg.Timezone)
	if !strings.EqualFold(strings.TrimSpace(cfg.ParkName), area.Park) {
		area.Park = strings.TrimSpace(cfg.ParkName)
		area.Bounds = domain.BBox{}
	}
	return area
}

// buildSources turns the enabled source specs into pipeline bindings, in
// configuration order.
func buildSources(
	cfg *config.Config,
	area domain.Area,
	br *browser.Browser,
	static *browser.StaticFetcher,
	completer *llm.Client,
	metrics *observability.Metrics,
	logger *slog.Logger,
) ([]pipeline.Binding, error) {
	renderer := func(s config.SourceSpec) parks.Renderer {
		if s.Static {
			return static
		}
		return br
	}

	var bindings []pipeline.Binding
	for _, s := range cfg.Enabled() {
		var src pipeline.Source
		switch s.Type {
		case config.SourceOpenData:
			baseURL := s.URL
			if baseURL == "" {
				baseURL = cfg.OpenDataURL
			}
			src = opendata.New(opendata.Options{
				Name:     s.Name,
				BaseURL:  baseURL,
				AppToken: cfg.OpenDataAppToken,
				Limit:    cfg.OpenDataLimit,
				Timeout:  cfg.NavTimeout,
			}, area, logger)
		case config.SourceParks:
			src = parks.New(parks.Options{
				Name:      s.Name,
				BaseURL:   s.URL,
				MaxPages:  s.MaxPages,
				PageDelay: cfg.PageDelay,
			}, renderer(s), area, logger)
		case config.SourceRaceCal:
			src = racecal.New(racecal.Options{
				Name:        s.Name,
				URL:         s.URL,
				SettleDelay: cfg.SettleDelay,
			}, br, area, logger)
		case config.SourceLLM:
			src = llmpage.New(llmpage.Options{
				Name:        s.Name,
				URL:         s.URL,
				DetailLinks: s.DetailLinks,
				SettleDelay: cfg.SettleDelay,
			}, renderer(s), completer, area, metrics, logger)
		default:
			return nil, fmt.Errorf("source %s: unknown type %q", s.Name, s.Type)
		}
		bindings = append(bindings, pipeline.Binding{Source: src, Policy: s.Policy})
		logger.Info("source enabled", "source", s.Name, "type", s.Type, "policy", s.Policy)
	}
	return bindings, nil
}

// releaseBrowser stops Chrome after a run so an idle resident crawler holds
// no browser process.
func (a *app) releaseBrowser() {
	if err := a.browser.Release(); err != nil {
		a.logger.Warn("browser release failed", "error", err)
	}
}

func (a *app) close() {
	if err := a.browser.Close(); err != nil {
		a.logger.Error("browser close error", "error", err)
	}
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.logger.Error("kafka publisher close error", "error", err)
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
}
