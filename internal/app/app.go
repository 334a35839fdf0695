// Package app builds the long-lived services of the bulletin crawler from
// configuration and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/transit-bulletin-crawler/internal/api"
	"github.com/JakeFAU/transit-bulletin-crawler/internal/bulletin"
	"github.com/JakeFAU/transit-bulletin-crawler/internal/clock/system"
	"github.com/JakeFAU/transit-bulletin-crawler/internal/config"
	"github.com/JakeFAU/transit-bulletin-crawler/internal/extractor/gemini"
	"github.com/JakeFAU/transit-bulletin-crawler/internal/extractor/parser"
	collyfetcher "github.com/JakeFAU/transit-bulletin-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/transit-bulletin-crawler/internal/fetcher/feed"
	headlessfetcher "github.com/JakeFAU/transit-bulletin-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/transit-bulletin-crawler/internal/fetcher/selection"
	"github.com/JakeFAU/transit-bulletin-crawler/internal/hash/sha256"
	"github.com/JakeFAU/transit-bulletin-crawler/internal/id/uuid"
	"github.com/JakeFAU/transit-bulletin-crawler/internal/metrics"
	"github.com/JakeFAU/transit-bulletin-crawler/internal/pipeline"
	memorypublisher "github.com/JakeFAU/transit-bulletin-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/transit-bulletin-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/transit-bulletin-crawler/internal/reconcile"
	gcsstore "github.com/JakeFAU/transit-bulletin-crawler/internal/storage/gcs"
	localstore "github.com/JakeFAU/transit-bulletin-crawler/internal/storage/local"
	memorystore "github.com/JakeFAU/transit-bulletin-crawler/internal/storage/memory"
	postgresstore "github.com/JakeFAU/transit-bulletin-crawler/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/transit-bulletin-crawler/internal/storage/sqlite"
)

// App holds the services shared by the serve and scrape commands.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Store    bulletin.Store
	Pipeline *pipeline.Pipeline
	Server   *api.Server

	closers []func() error
}

// New validates cfg and wires every component. Services opened before a
// failure are closed before the error is returned.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", bulletin.ErrConfiguration, err)
	}
	metrics.Init()

	a := &App{Config: cfg, Logger: logger}
	ready := false
	defer func() {
		if !ready {
			_ = a.Close()
		}
	}()

	logger.Info("initializing application services",
		zap.String("storage", cfg.Storage.Provider),
		zap.String("source", cfg.Source.Kind),
		zap.String("extractor", cfg.Pipeline.Extractor),
		zap.String("publisher", cfg.Publisher.Provider),
	)

	store, err := a.buildStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Store = store

	source, err := a.buildSource()
	if err != nil {
		return nil, err
	}

	extractor, extractorErr := a.buildExtractor(ctx)
	if extractorErr != nil {
		logger.Warn("extractor unavailable; scrapes will fail until configured", zap.Error(extractorErr))
	}

	reconciler, err := reconcile.New(store, sha256.New(), system.New(), reconcile.Options{
		MaxConcurrency: cfg.Pipeline.MaxConcurrency,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init reconciler: %w", err)
	}

	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Source:       source,
		Reconciler:   reconciler,
		Logger:       logger,
		ExtractorErr: extractorErr,
	}
	if extractor != nil {
		deps.Extractor = extractor
	}
	if publisher != nil {
		deps.Publisher = publisher
	}
	p, err := pipeline.New(pipeline.Config{
		TargetURL:     cfg.Source.TargetURL,
		Mode:          cfg.Pipeline.Fingerprint,
		ExtractorName: cfg.Pipeline.Extractor,
		Topic:         cfg.Publisher.Topic,
	}, deps)
	if err != nil {
		return nil, fmt.Errorf("init pipeline: %w", err)
	}
	a.Pipeline = p
	a.Server = api.NewServer(p, uuid.New(), cfg, logger)

	ready = true
	logger.Info("application services initialized")
	return a, nil
}

func (a *App) buildStore(ctx context.Context) (bulletin.Store, error) {
	s := a.Config.Storage
	switch s.Provider {
	case "memory":
		return memorystore.New(), nil
	case "local":
		store, err := localstore.New(localstore.Config{BaseDir: s.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local store: %w", err)
		}
		return store, nil
	case "sqlite":
		store, err := sqlitestore.Open(ctx, s.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("init sqlite store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case "postgres":
		store, err := postgresstore.New(ctx, postgresstore.Config{DSN: s.PostgresDSN, Table: s.PostgresTable})
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate postgres store: %w", err)
		}
		return store, nil
	case "gcs":
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcsstore.New(client, gcsstore.Config{Bucket: s.GCSBucket, Prefix: s.Prefix})
		if err != nil {
			return nil, fmt.Errorf("init gcs store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown storage provider %q", bulletin.ErrConfiguration, s.Provider)
	}
}

func (a *App) buildSource() (bulletin.Source, error) {
	src := a.Config.Source
	sel := selection.Config{Selector: src.Selector, UseParent: src.UseParent}
	switch src.Kind {
	case "html":
		return collyfetcher.New(collyfetcher.Config{
			UserAgent:     src.UserAgent,
			RespectRobots: src.RespectRobots,
			Timeout:       a.Config.SourceTimeout(),
			Selection:     sel,
		}, a.Logger), nil
	case "headless":
		f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       src.HeadlessMaxParallel,
			UserAgent:         src.UserAgent,
			NavigationTimeout: a.Config.HeadlessNavTimeout(),
			Selection:         sel,
		}, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("init headless fetcher: %w", err)
		}
		a.closers = append(a.closers, func() error { f.Close(); return nil })
		return f, nil
	case "feed":
		return feed.New(feed.Config{UserAgent: src.UserAgent, Timeout: a.Config.SourceTimeout()}, a.Logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown source kind %q", bulletin.ErrConfiguration, src.Kind)
	}
}

// buildExtractor returns either an extractor or the reason there is none.
// A missing AI key is not fatal at startup.
func (a *App) buildExtractor(ctx context.Context) (bulletin.Extractor, error) {
	switch a.Config.Pipeline.Extractor {
	case "parser":
		return parser.New(), nil
	case "ai":
		ex, err := gemini.New(ctx, gemini.Config{APIKey: a.Config.AI.APIKey, Model: a.Config.AI.Model}, a.Logger)
		if err != nil {
			return nil, err
		}
		return ex, nil
	default:
		return nil, fmt.Errorf("%w: unknown extractor %q", bulletin.ErrConfiguration, a.Config.Pipeline.Extractor)
	}
}

func (a *App) buildPublisher(ctx context.Context) (bulletin.Publisher, error) {
	p := a.Config.Publisher
	switch p.Provider {
	case "none":
		return nil, nil
	case "memory":
		return memorypublisher.New(), nil
	case "pubsub":
		client, err := pubsub.NewClient(ctx, p.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		pub := pubsubpublisher.New(client)
		a.closers = append(a.closers, pub.Close)
		return pub, nil
	default:
		return nil, fmt.Errorf("%w: unknown publisher provider %q", bulletin.ErrConfiguration, p.Provider)
	}
}

// Close releases services in reverse order of creation and flushes the logger.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("error closing service", zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.closers = nil
	_ = a.Logger.Sync()
	return errors.Join(errs...)
}
