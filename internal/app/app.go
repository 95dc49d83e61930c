// Package app assembles the catalog, store, processor chain and turn
// service from configuration. Both binaries build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bladealex9848/expert-nexus/internal/config"
	"github.com/bladealex9848/expert-nexus/internal/convlog"
	"github.com/bladealex9848/expert-nexus/internal/expert"
	"github.com/bladealex9848/expert-nexus/internal/metrics"
	"github.com/bladealex9848/expert-nexus/internal/processor"
	"github.com/bladealex9848/expert-nexus/internal/store"
	"github.com/bladealex9848/expert-nexus/internal/turn"
	"github.com/redis/go-redis/v9"
)

// redisNamespace prefixes every session key in Redis.
const redisNamespace = "nexus"

// App holds the assembled runtime.
type App struct {
	Catalog       *expert.Catalog
	DefaultExpert string
	Repo          store.Repository
	Service       *turn.Service
	ConvLog       convlog.Logger

	// AssistantHealth probes the remote assistant; nil without one.
	AssistantHealth func(ctx context.Context) error

	closers []func() error
}

// Options carries collaborators that are not derived from config.
type Options struct {
	Recorder metrics.Recorder
	Logger   *slog.Logger
	// Processor overrides the configured backends.
	Processor processor.Processor
}

// Build wires an App. On error everything opened so far is closed.
func Build(cfg *config.Config, opts Options) (_ *App, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	a := &App{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if a.Catalog, err = expert.LoadCatalog(cfg.Experts.File); err != nil {
		return nil, fmt.Errorf("load expert catalog: %w", err)
	}
	if a.DefaultExpert, err = a.Catalog.ResolveDefault(cfg.Experts.DefaultExpert, cfg.Experts.AssistantID); err != nil {
		return nil, err
	}

	repo, err := OpenStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	a.Repo = repo
	a.closers = append(a.closers, repo.Close)

	p := opts.Processor
	if p == nil {
		if p, err = a.buildProcessor(cfg, recorder, logger); err != nil {
			return nil, err
		}
	}

	cl, err := convlog.New(convlog.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init conversation logger: %w", err)
	}
	a.ConvLog = cl
	a.closers = append(a.closers, cl.Close)

	orch := turn.NewOrchestrator(a.Catalog, p, turn.Options{
		PreserveOnSuggestion: cfg.PreserveContextOnSuggestion,
		Recorder:             recorder,
		Logger:               logger,
	})
	a.Service, err = turn.NewService(orch, repo, turn.ServiceConfig{
		DefaultExpert: a.DefaultExpert,
		ConvLog:       cl,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenStore opens the configured session repository.
func OpenStore(cfg config.StoreConfig) (store.Repository, error) {
	switch cfg.Backend {
	case config.StoreRedis:
		repo, err := store.NewRedis(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, redisNamespace, cfg.SessionTTL)
		if err != nil {
			return nil, fmt.Errorf("init redis store: %w", err)
		}
		return repo, nil
	case config.StoreSQLite, "":
		if dir := filepath.Dir(cfg.DBPath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		repo, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("init sqlite store: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// buildProcessor composes the backend chain. The gRPC assistant is primary
// when configured; OpenAI is primary otherwise, or the fallback.
func (a *App) buildProcessor(cfg *config.Config, observer processor.Observer, logger *slog.Logger) (processor.Processor, error) {
	var primary, backup processor.Processor

	if cfg.Processor.GRPCAddr != "" {
		client, err := processor.NewGRPCClient(processor.DefaultGRPCConfig(cfg.Processor.GRPCAddr), logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { client.Close(); return nil })
		a.AssistantHealth = client.Health
		primary = client
	}
	if cfg.OpenAI.APIKey != "" {
		client, err := processor.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
		if err != nil {
			return nil, err
		}
		if primary == nil {
			primary = client
		} else {
			backup = client
		}
	}
	if primary == nil {
		return nil, errors.New("no assistant backend configured")
	}

	retry := processor.DefaultRetryConfig
	retry.MaxAttempts = cfg.Processor.MaxAttempts
	retry.InitialDelay = cfg.Processor.RetryDelay

	return processor.Chain(primary,
		processor.WithFailureWrapping(),
		processor.WithObserver(observer),
		processor.WithTimeout(cfg.Processor.Timeout),
		processor.WithFallback(backup, logger),
		processor.WithRetry(processor.NewRetryPolicy(retry, nil), logger),
	), nil
}
