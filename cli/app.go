package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/examforge/examforge/engine/catalog"
	"github.com/examforge/examforge/engine/generation"
	"github.com/examforge/examforge/engine/infra/monitoring"
	"github.com/examforge/examforge/engine/infra/repo"
	"github.com/examforge/examforge/engine/infra/server"
	"github.com/examforge/examforge/engine/normalizer"
	"github.com/examforge/examforge/engine/orchestrator"
	"github.com/examforge/examforge/engine/provider"
	"github.com/examforge/examforge/engine/resultcache"
	"github.com/examforge/examforge/pkg/config"
	"github.com/examforge/examforge/pkg/logger"
)

// app is one fully wired engine.
type app struct {
	cfg          *config.Config
	store        *repo.Provider
	monitoring   *monitoring.Service
	ops          *server.Server
	orchestrator *orchestrator.Orchestrator
}

type appOptions struct {
	// withEngine also builds providers, the catalog and the orchestrator.
	withEngine bool
	// serveOps starts the metrics and health endpoint.
	serveOps bool
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close(ctx)
		}
	}()
	a.store, err = repo.Open(ctx, &cfg.Store)
	if err != nil {
		return nil, err
	}
	if err = a.store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrating task store: %w", err)
	}
	if !opts.withEngine {
		return a, nil
	}
	a.monitoring, err = monitoring.NewMonitoringService(ctx, &monitoring.Config{
		Enabled: cfg.Monitoring.Enabled,
		Path:    cfg.Monitoring.Path,
	})
	if err != nil {
		return nil, err
	}
	if opts.serveOps && cfg.Monitoring.Enabled {
		a.ops = server.New(ctx, server.Config{Addr: cfg.Monitoring.Addr}, a.monitoring, a.store.HealthCheck)
		if err = a.ops.Start(ctx); err != nil {
			return nil, err
		}
	}
	client, err := newClient(cfg, a.monitoring.Recorder())
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	a.orchestrator = orchestrator.New(a.store.TaskRepo(), cat, client,
		orchestrator.WithConfig(orchestrator.Config{
			PaperPoolFactor:     cfg.Generation.PaperPoolFactor,
			IntensivePoolFactor: cfg.Generation.IntensivePoolFactor,
			MaxConcurrentTasks:  cfg.Runtime.MaxConcurrentTasks,
		}),
		orchestrator.WithResultCache(resultcache.New(cfg.Cache.Size, cfg.Cache.TTL)),
		orchestrator.WithRecorder(a.monitoring.Recorder()),
	)
	logger.FromContext(ctx).Debug("Engine ready",
		"store_driver", a.store.Driver(),
		"catalog", cfg.Catalog.Path,
		"max_attempts", cfg.Generation.MaxAttempts,
	)
	return a, nil
}

// newClient builds the generation client. The fallback provider is optional
// and skipped when it has no URL.
func newClient(cfg *config.Config, rec monitoring.Recorder) (*generation.Client, error) {
	primary, err := provider.FromConfig(generation.SourcePrimary, &cfg.Provider.Primary)
	if err != nil {
		return nil, err
	}
	var fallback provider.Provider
	if cfg.Provider.Fallback.URL != "" {
		fallback, err = provider.FromConfig(generation.SourceFallback, &cfg.Provider.Fallback)
		if err != nil {
			return nil, err
		}
	}
	return generation.NewClient(primary, fallback,
		generation.ClientConfig{
			MaxAttempts: cfg.Generation.MaxAttempts,
			RetryDelay:  cfg.Generation.RetryDelay,
		},
		generation.WithNormalizer(normalizer.New(normalizer.WithMaxDepth(cfg.Generation.UnwrapDepth))),
		generation.WithRecorder(rec),
	), nil
}

func (a *app) close(ctx context.Context) {
	log := logger.FromContext(ctx)
	if a.orchestrator != nil {
		a.orchestrator.Wait()
	}
	var errs []error
	if a.ops != nil {
		errs = append(errs, a.ops.Shutdown(ctx))
	}
	if a.monitoring != nil {
		errs = append(errs, a.monitoring.Shutdown(ctx))
	}
	if a.store != nil {
		errs = append(errs, a.store.Close(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		log.Warn("Shutdown finished with errors", "error", err)
	}
}
