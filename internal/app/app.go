// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/opportunity-crawler/internal/clock/system"
	"github.com/JakeFAU/opportunity-crawler/internal/config"
	"github.com/JakeFAU/opportunity-crawler/internal/crawler"
	"github.com/JakeFAU/opportunity-crawler/internal/database"
	"github.com/JakeFAU/opportunity-crawler/internal/id/uuid"
	memorypublisher "github.com/JakeFAU/opportunity-crawler/internal/publisher/memory"
	pspublisher "github.com/JakeFAU/opportunity-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/opportunity-crawler/internal/registry"
	memorystore "github.com/JakeFAU/opportunity-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/opportunity-crawler/internal/storage/postgres"
)

// App holds the shared, long-lived services for one process: the store,
// the source registry, the event publisher, and the crawler built on them.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     crawler.Store
	registry  crawler.SourceRegistry
	publisher crawler.Publisher
	crawler   *crawler.Crawler

	pg     *pgstore.Store
	pubsub *pspublisher.Publisher
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetConfig returns the configuration the App was built from.
func (a *App) GetConfig() config.Config {
	return a.cfg
}

// GetCrawler returns the crawler wired to the configured providers.
func (a *App) GetCrawler() *crawler.Crawler {
	return a.crawler
}

// GetStore returns the opportunity store.
func (a *App) GetStore() crawler.Store {
	return a.store
}

// GetRegistry returns the source registry.
func (a *App) GetRegistry() crawler.SourceRegistry {
	return a.registry
}

// GetPublisher returns the status-change publisher.
func (a *App) GetPublisher() crawler.Publisher {
	return a.publisher
}

// New builds every provider named in cfg and fails fast if any of them
// cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	logger.Info("initializing application services",
		zap.String("database", cfg.Database.Provider),
		zap.String("registry", cfg.Registry.Provider),
		zap.String("events", cfg.Events.Provider),
	)

	if err := a.initStore(ctx); err != nil {
		return nil, err
	}
	if err := a.initRegistry(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		a.Close()
		return nil, err
	}

	c, err := crawler.New(cfg.CrawlerSettings(), crawler.Deps{
		Store:     a.store,
		Registry:  a.registry,
		Publisher: a.publisher,
		Clock:     system.New(),
		IDs:       uuid.New(),
		Logger:    logger.Named("crawler"),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build crawler: %w", err)
	}
	a.crawler = c

	logger.Info("application services initialized")
	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	switch a.cfg.Database.Provider {
	case config.ProviderPostgres:
		pool, err := database.Open(ctx, a.cfg.DatabaseSettings(), a.logger.Named("database"))
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		store, err := pgstore.NewStore(pool)
		if err != nil {
			pool.Close()
			return err
		}
		if a.cfg.Database.Migrate {
			if err := store.Migrate(ctx); err != nil {
				store.Close()
				return err
			}
			a.logger.Info("database schema applied")
		}
		a.pg = store
		a.store = store
	case config.ProviderMemory:
		a.logger.Info("using in-memory store; opportunities are lost on exit")
		a.store = memorystore.NewStore()
	default:
		return fmt.Errorf("unknown database provider: %s", a.cfg.Database.Provider)
	}
	return nil
}

func (a *App) initRegistry() error {
	switch a.cfg.Registry.Provider {
	case config.ProviderFile:
		f, err := registry.NewFile(a.cfg.Registry.Path)
		if err != nil {
			return fmt.Errorf("failed to initialize source registry: %w", err)
		}
		a.registry = f
	case config.ProviderPostgres:
		if a.pg == nil {
			return fmt.Errorf("registry provider %q requires the postgres database", config.ProviderPostgres)
		}
		a.registry = a.pg
	default:
		return fmt.Errorf("unknown registry provider: %s", a.cfg.Registry.Provider)
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	switch a.cfg.Events.Provider {
	case config.ProviderPubSub:
		p, err := pspublisher.Dial(ctx, a.cfg.Events.ProjectID, a.cfg.Events.TopicID)
		if err != nil {
			return fmt.Errorf("failed to initialize publisher: %w", err)
		}
		a.logger.Info("publishing status changes to Pub/Sub", zap.String("topic", a.cfg.Events.TopicID))
		a.pubsub = p
		a.publisher = p
	case config.ProviderMemory:
		a.publisher = memorypublisher.New()
	case config.ProviderNoop:
		a.publisher = nil
	default:
		return fmt.Errorf("unknown events provider: %s", a.cfg.Events.Provider)
	}
	return nil
}

// Ready reports whether the backing store can serve requests.
func (a *App) Ready(ctx context.Context) error {
	if a.pg == nil {
		return nil
	}
	return a.pg.Ping(ctx)
}

// ImportSources writes sources into the configured store's registry table.
// Only stores that hold sources accept them.
func (a *App) ImportSources(ctx context.Context, sources []crawler.Source) (int, error) {
	switch store := a.store.(type) {
	case *pgstore.Store:
		for i, src := range sources {
			if err := store.PutSource(ctx, src); err != nil {
				return i, err
			}
		}
	case *memorystore.Store:
		for _, src := range sources {
			store.PutSource(src)
		}
	default:
		return 0, errors.New("configured store does not hold sources")
	}
	return len(sources), nil
}

// Close releases every service in the container and flushes the logger.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("error closing publisher", zap.Error(err))
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
	// Sync fails on some terminals; nothing useful can be done about it.
	_ = a.logger.Sync()
}
