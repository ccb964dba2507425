// Package repo opens the task store selected by configuration and hands out
// its repository behind the task.Repository interface.
package repo

import (
	"context"
	"fmt"

	"github.com/examforge/examforge/engine/infra/memory"
	"github.com/examforge/examforge/engine/infra/postgres"
	"github.com/examforge/examforge/engine/infra/sqlite"
	"github.com/examforge/examforge/engine/task"
	"github.com/examforge/examforge/pkg/config"
	"github.com/examforge/examforge/pkg/logger"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Provider owns the driver connection. Callers only ever see interfaces.
type Provider struct {
	driver   string
	tasks    task.Repository
	sqlite   *sqlite.Store
	postgres *postgres.Store
	dsn      string
}

// Open connects to the configured driver. It does not migrate; call Migrate.
func Open(ctx context.Context, cfg *config.StoreConfig) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("repo: store config is required")
	}
	p := &Provider{driver: cfg.Driver}
	switch cfg.Driver {
	case DriverMemory:
		p.tasks = memory.NewTaskRepo()
	case DriverSQLite, "":
		p.driver = DriverSQLite
		store, err := sqlite.NewStoreWithConfig(ctx, &sqlite.Config{
			Path:         cfg.Path,
			MaxOpenConns: cfg.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		p.sqlite = store
		p.tasks = sqlite.NewTaskRepo(store.DB())
	case DriverPostgres:
		store, err := postgres.NewStore(ctx, &postgres.Config{
			ConnString: cfg.ConnString,
			MaxConns:   int32(min(cfg.MaxConns, 1<<15)), // #nosec G115 -- bounded above
		})
		if err != nil {
			return nil, err
		}
		p.postgres = store
		p.dsn = cfg.ConnString
		p.tasks = postgres.NewTaskRepo(store.Pool())
	default:
		return nil, fmt.Errorf("repo: unsupported store driver %q", cfg.Driver)
	}
	logger.FromContext(ctx).Debug("Task store ready", "store_driver", p.driver)
	return p, nil
}

func (p *Provider) Driver() string { return p.driver }

// TaskRepo returns the task repository of the open driver.
func (p *Provider) TaskRepo() task.Repository { return p.tasks }

// Migrate brings the schema up to date. The memory driver has no schema.
func (p *Provider) Migrate(ctx context.Context) error {
	switch {
	case p.sqlite != nil:
		return sqlite.ApplyMigrations(ctx, p.sqlite.DB())
	case p.postgres != nil:
		return postgres.ApplyMigrations(ctx, p.dsn)
	default:
		return nil
	}
}

func (p *Provider) HealthCheck(ctx context.Context) error {
	switch {
	case p.sqlite != nil:
		return p.sqlite.HealthCheck(ctx)
	case p.postgres != nil:
		return p.postgres.HealthCheck(ctx)
	default:
		return nil
	}
}

func (p *Provider) Close(ctx context.Context) error {
	switch {
	case p.sqlite != nil:
		return p.sqlite.Close(ctx)
	case p.postgres != nil:
		return p.postgres.Close(ctx)
	default:
		return nil
	}
}
