// Package app builds the service graph from a Config and owns its
// lifecycle. Every component is constructed here and passed down
// explicitly.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/headline-goat/growthgoat/internal/analytics"
	"github.com/headline-goat/growthgoat/internal/catalog"
	"github.com/headline-goat/growthgoat/internal/config"
	"github.com/headline-goat/growthgoat/internal/experiment"
	"github.com/headline-goat/growthgoat/internal/funnel"
	"github.com/headline-goat/growthgoat/internal/geo"
	"github.com/headline-goat/growthgoat/internal/kv"
	"github.com/headline-goat/growthgoat/internal/logging"
	"github.com/headline-goat/growthgoat/internal/notify"
	"github.com/headline-goat/growthgoat/internal/session"
)

// App is the running service graph.
type App struct {
	Config  config.Config
	Logger  *zap.Logger
	Store   kv.Store
	Catalog *catalog.Catalog
	Sink    analytics.Sink
	Metrics *prometheus.Registry

	Assigner *experiment.Assigner
	Funnels  *funnel.Analytics
	Sessions *session.Registry

	// Push and Planner are nil when no push subject is configured.
	Push    *notify.WebPush
	Planner *notify.Planner

	StartTime time.Time

	closers []namedCloser
}

type namedCloser struct {
	name string
	c    io.Closer
}

// OpenStore connects the configured key-value backend.
func OpenStore(ctx context.Context, cfg config.Config) (kv.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return kv.NewMemory(), nil
	case config.StoreSQLite:
		return kv.OpenSQLite(cfg.DB)
	case config.StorePostgres:
		return kv.OpenPostgres(ctx, cfg.PostgresDSN)
	case config.StoreRedis:
		return kv.OpenRedis(ctx, cfg.RedisURL, cfg.RedisTTL)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// Open builds the service graph. On error everything opened so far is
// closed again.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	logger = logging.OrNop(logger)
	a := &App{Config: cfg, Logger: logger, StartTime: time.Now()}
	defer func() {
		if err != nil {
			if cerr := a.Close(ctx); cerr != nil {
				logger.Warn("failed to clean up after open error", zap.Error(cerr))
			}
		}
	}()

	a.Catalog, err = catalog.Load(cfg.Catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	a.Store, err = OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store, err)
	}
	a.closers = append(a.closers, namedCloser{"store", a.Store})

	if err := a.openSinks(cfg); err != nil {
		return nil, err
	}

	a.Assigner = experiment.NewAssigner(a.Catalog.Experiments, a.Store,
		experiment.WithSink(a.Sink),
		experiment.WithLogger(logger),
	)
	a.Funnels = funnel.New(a.Catalog.Funnels, a.Store,
		funnel.WithSink(a.Sink),
		funnel.WithLogger(logger),
	)

	sessionOpts := []session.Option{session.WithSink(a.Sink), session.WithLogger(logger)}
	if cfg.GeoURL != "" {
		lookup, err := geo.NewHTTPLookup(geo.Config{URL: cfg.GeoURL, Timeout: cfg.GeoTimeout}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to configure geolocation: %w", err)
		}
		sessionOpts = append(sessionOpts, session.WithLocator(lookup, cfg.GeoTimeout))
	}
	a.Sessions = session.NewRegistry(a.Store, a.Catalog.Triggers, a.Catalog.Offers, sessionOpts...)

	if cfg.PushSubject != "" {
		a.Push, err = notify.NewWebPush(a.Store, notify.WebPushConfig{
			Subject:      cfg.PushSubject,
			VAPIDPublic:  cfg.VAPIDPublic,
			VAPIDPrivate: cfg.VAPIDPrivate,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to configure web push: %w", err)
		}
		a.Planner = notify.NewPlanner(a.Push, a.Sink, logger)
	}

	logger.Info("service opened",
		zap.String("store", cfg.Store),
		zap.Int("experiments", len(a.Catalog.Experiments)),
		zap.Int("offers", len(a.Catalog.Offers)),
		zap.Int("funnels", len(a.Catalog.Funnels)),
		zap.Bool("push", a.Push != nil),
		zap.Bool("geo", cfg.GeoURL != ""),
	)
	return a, nil
}

func (a *App) openSinks(cfg config.Config) error {
	a.Metrics = prometheus.NewRegistry()
	a.Metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sinks := analytics.Multi{analytics.NewLog(a.Logger), analytics.NewMetrics(a.Metrics)}

	if cfg.NATSURL != "" {
		n, err := analytics.NewNATS(analytics.NATSConfig{URL: cfg.NATSURL, Subject: cfg.NATSSubject, Name: "growthgoat"}, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to connect analytics to nats: %w", err)
		}
		a.closers = append(a.closers, namedCloser{"nats", n})
		sinks = append(sinks, n)
	}
	if len(cfg.KafkaBrokers) > 0 {
		k, err := analytics.NewKafka(analytics.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic}, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to configure kafka analytics: %w", err)
		}
		a.closers = append(a.closers, namedCloser{"kafka", k})
		sinks = append(sinks, k)
	}

	a.Sink = sinks
	return nil
}

// Close saves live sessions and closes sinks and the store, in reverse
// order of opening. Every failure is reported.
func (a *App) Close(ctx context.Context) error {
	var result error
	if a.Sessions != nil {
		if err := a.Sessions.Close(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("sessions: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].c.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", a.closers[i].name, err))
		}
	}
	a.closers = nil
	return result
}
