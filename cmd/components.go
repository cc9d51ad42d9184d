package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pagepilot-ai/pagepilot/internal/actuator"
	"github.com/pagepilot-ai/pagepilot/internal/config"
	"github.com/pagepilot-ai/pagepilot/internal/domproc"
	"github.com/pagepilot-ai/pagepilot/internal/engine"
	"github.com/pagepilot-ai/pagepilot/internal/llmclient"
	"github.com/pagepilot-ai/pagepilot/internal/memory"
	"github.com/pagepilot-ai/pagepilot/internal/skills"
	"github.com/pagepilot-ai/pagepilot/internal/store"
	"github.com/pagepilot-ai/pagepilot/internal/verifier"
)

func domProcessor(cfg config.Interface, logger *zap.Logger) engine.DOMProcessor {
	return domproc.NewNormalizer(cfg.DOM(), logger)
}

func outcomeVerifier(logger *zap.Logger) engine.OutcomeVerifier {
	return verifier.New(logger)
}

// components holds the wired engine and everything it needs shut down.
type components struct {
	engine   *engine.Engine
	actuator *actuator.CDPActuator
	janitor  *skills.Janitor
	dbPool   *pgxpool.Pool
	logger   *zap.Logger
}

// buildComponents is the composition root shared by the run, resume and
// export commands. The database backend is selected here; everything above
// the repositories is identical for both backends.
func buildComponents(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*components, error) {
	c := &components{logger: logger}

	var (
		taskRepo   engine.TaskRepository
		actionRepo engine.ActionRepository
		memRepo    memory.Repository
		skillLib   skills.Library
	)

	switch cfg.Database().Backend {
	case "postgres":
		if cfg.Database().URL == "" {
			return nil, fmt.Errorf("database URL is not configured (hint: check PAGEPILOT_DATABASE_URL)")
		}
		pool, err := pgxpool.New(ctx, cfg.Database().URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create database connection pool: %w", err)
		}
		c.dbPool = pool

		st, err := store.New(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		taskRepo = st.Tasks()
		actionRepo = st.Actions()
		memRepo = st.Memory()
		skillLib = skills.NewPostgresLibrary(pool, cfg.Skills(), logger)

	case "memory":
		inmem := store.NewInMemoryStore(logger)
		taskRepo = inmem
		actionRepo = inmem.TaskActions()
		memRepo = inmem.MemoryEntries()
		skillLib = skills.NewMemoryLibrary(cfg.Skills(), logger)

	default:
		return nil, fmt.Errorf("unknown database backend %q (supported: postgres, memory)", cfg.Database().Backend)
	}

	proposer, err := llmclient.NewFromConfig(cfg.LLM(), logger)
	if err != nil {
		c.Shutdown(ctx)
		return nil, err
	}

	memSvc := memory.NewService(memRepo, logger)
	domProc := domProcessor(cfg, logger)
	outcomeVerifier := outcomeVerifier(logger)
	c.actuator = actuator.New(cfg.Browser(), logger)

	c.engine, err = engine.New(cfg.Engine(), taskRepo, actionRepo, memSvc, skillLib,
		proposer, c.actuator, domProc, outcomeVerifier, logger)
	if err != nil {
		c.Shutdown(ctx)
		return nil, err
	}

	c.janitor = skills.NewJanitor(skillLib, cfg.Skills().SweepInterval, logger)
	c.janitor.Start()
	return c, nil
}

// Shutdown releases the browser and database resources.
func (c *components) Shutdown(ctx context.Context) {
	if c.janitor != nil {
		c.janitor.Stop()
	}
	if c.actuator != nil {
		if err := c.actuator.Shutdown(ctx); err != nil {
			c.logger.Warn("Actuator shutdown reported an error", zap.Error(err))
		}
	}
	if c.dbPool != nil {
		c.dbPool.Close()
	}
}
