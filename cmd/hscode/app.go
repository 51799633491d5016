package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Veraticus/hscode-copilot/internal/caller"
	"github.com/Veraticus/hscode-copilot/internal/common"
	"github.com/Veraticus/hscode-copilot/internal/config"
	"github.com/Veraticus/hscode-copilot/internal/engine"
	"github.com/Veraticus/hscode-copilot/internal/llm"
	"github.com/Veraticus/hscode-copilot/internal/metrics"
	"github.com/Veraticus/hscode-copilot/internal/search"
	"github.com/Veraticus/hscode-copilot/internal/service"
	"github.com/Veraticus/hscode-copilot/internal/storage"
	"github.com/Veraticus/hscode-copilot/internal/verification"
)

// idleSweeper is implemented by stores that evict idle sessions on demand.
type idleSweeper interface {
	DeleteIdleSessions(ctx context.Context, cutoff time.Time) (int, error)
}

// stores bundles the persistence backends selected by session.store.
type stores struct {
	sessions      service.SessionStore
	products      service.ProductStore
	verifications service.VerificationStore
	// sweeper is set when idle sessions must be evicted by the caller.
	sweeper idleSweeper
	kind    string
	closers []func() error
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Warn("Failed to close store", "error", err)
		}
	}
}

// openStores opens the configured backends. Memory stores evict idle sessions
// themselves; Redis expires them by TTL; SQLite needs a sweeper.
func openStores(ctx context.Context, c *config.Config) (*stores, error) {
	switch c.Session.Store {
	case config.StoreMemory:
		mem := storage.NewMemoryStore(storage.WithIdleEviction(c.Session.IdleTimeout, c.Session.CleanupInterval))
		return &stores{
			sessions:      mem,
			products:      mem,
			verifications: mem,
			kind:          config.StoreMemory,
			closers:       []func() error{func() error { mem.Stop(); return nil }},
		}, nil

	case config.StoreSQLite:
		db, err := openSQLite(ctx, c)
		if err != nil {
			return nil, err
		}
		return &stores{
			sessions:      db,
			products:      db,
			verifications: db,
			sweeper:       db,
			kind:          config.StoreSQLite,
			closers:       []func() error{db.Close},
		}, nil

	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", c.Redis.Addr, err)
		}

		db, err := openSQLite(ctx, c)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &stores{
			sessions:      storage.NewRedisSessionStore(client, c.Session.IdleTimeout),
			products:      db,
			verifications: db,
			kind:          config.StoreRedis,
			closers:       []func() error{client.Close, db.Close},
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown session store %q", common.ErrInvalidConfig, c.Session.Store)
	}
}

func openSQLite(ctx context.Context, c *config.Config) (*storage.SQLiteStorage, error) {
	db, err := storage.NewSQLiteStorage(c.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// newSource builds the cached HTTP candidate source.
func newSource(c *config.Config, logger *slog.Logger) (*search.CachedSource, error) {
	client, err := search.NewHTTPSource(c.SearchClient(), logger)
	if err != nil {
		return nil, err
	}
	return search.NewCachedSource(client, c.Search.CacheTTL), nil
}

func newAgent(c *config.Config, logger *slog.Logger) (service.VerificationAgent, error) {
	if c.Verification.Caller == config.CallerHTTP {
		return caller.NewHTTPAgent(c.HTTPCaller(), logger)
	}
	return caller.NewScriptedAgent(c.ScriptedCaller(), logger), nil
}

// app is the fully wired classification and verification stack.
type app struct {
	stores   *stores
	source   *search.CachedSource
	engine   *engine.Engine
	verifier *verification.Service
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func newApp(ctx context.Context, c *config.Config) (*app, error) {
	logger := slog.Default()

	st, err := openStores(ctx, c)
	if err != nil {
		return nil, err
	}

	a := &app{stores: st, metrics: metrics.New(), logger: logger}
	if err := a.wire(c); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(c *config.Config) error {
	source, err := newSource(c, a.logger)
	if err != nil {
		return err
	}
	a.source = source

	generator, err := llm.NewGenerator(c.LLM, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create question generator: %w", err)
	}

	var deriver service.QueryDeriver = generator
	if c.Classification.QueryMode == config.QueryModeLocal {
		deriver = engine.ContextQueryBuilder{}
	}

	a.engine, err = engine.New(engine.Deps{
		Sessions:  a.stores.sessions,
		Products:  a.stores.products,
		Source:    source,
		Generator: generator,
		Deriver:   deriver,
		Recorder:  a.metrics,
		Logger:    a.logger,
	}, c.Engine())
	if err != nil {
		return err
	}

	agent, err := newAgent(c, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create verification agent: %w", err)
	}
	a.verifier, err = verification.NewService(a.stores.verifications, agent, a.metrics, a.logger)
	return err
}

func (a *app) Close() {
	if a.source != nil {
		a.source.Close()
	}
	a.stores.Close()
}

// sweepIdle evicts idle sessions every interval until ctx is done.
func sweepIdle(ctx context.Context, sweeper idleSweeper, idle, interval time.Duration) error {
	if sweeper == nil || idle <= 0 {
		return nil
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			removed, err := sweeper.DeleteIdleSessions(ctx, now.Add(-idle))
			if err != nil && !errors.Is(err, context.Canceled) {
				common.LogWarn(slog.Default(), err, "Failed to evict idle sessions", nil)
				continue
			}
			if removed > 0 {
				common.LogInfo(nil, "Evicted idle sessions", common.Fields{"count": removed})
			} else {
				common.LogDebug(nil, "No idle sessions to evict", common.Fields{"cutoff": now.Add(-idle)})
			}
		}
	}
}
