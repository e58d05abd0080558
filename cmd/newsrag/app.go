package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/newsrag/config"
	"github.com/mohammad-safakhou/newsrag/internal/articles"
	"github.com/mohammad-safakhou/newsrag/internal/errs"
	"github.com/mohammad-safakhou/newsrag/internal/index"
	"github.com/mohammad-safakhou/newsrag/internal/rag"
	"github.com/mohammad-safakhou/newsrag/internal/retrieval"
	"github.com/mohammad-safakhou/newsrag/internal/store"
	"github.com/mohammad-safakhou/newsrag/internal/telemetry"
	"github.com/mohammad-safakhou/newsrag/provider"
	"github.com/mohammad-safakhou/newsrag/session"
	"github.com/mohammad-safakhou/newsrag/session/inmemory"
	redis_session "github.com/mohammad-safakhou/newsrag/session/redis"
	"github.com/mohammad-safakhou/newsrag/tools/embedding"
)

// app is everything a command needs, built once from config.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *telemetry.Metrics
	db       *store.Store
	rdb      *redis.Client
	store    articles.Store
	index    *index.Index
	lexical  *retrieval.Lexical
	sessions *session.Manager
	svc      *rag.Service

	closers []func() error
}

// offlineCompleter stands in when no LLM credentials are configured, so
// commands that never generate text still run.
type offlineCompleter struct{ err error }

func (o offlineCompleter) Complete(context.Context, string, string) (string, error) {
	return "", errs.GenerationUnavailable("completion provider not configured", o.err)
}

func newApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := telemetry.NewLogger(cfg.General)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, metrics: telemetry.NewMetrics()}
	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	if cfg.Articles.Source == "postgres" || cfg.Index.Persist == "postgres" {
		db, err := store.New(ctx, cfg.Storage.Postgres)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.db = db
		a.closers = append(a.closers, db.Close)
	}
	if cfg.Session.Store == string(session.RedisStore) {
		a.rdb = redis_session.NewClient(cfg.Storage.Redis)
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			_ = a.rdb.Close()
			a.rdb = nil
			return fmt.Errorf("redis ping: %w", err)
		}
	}

	llm, llmErr := provider.NewProvider(cfg.LLM)
	var completer provider.Completer = offlineCompleter{err: llmErr}
	if llmErr == nil {
		completer = llm
	}

	var embedder embedding.Embedder
	switch cfg.Embedding.Type {
	case "provider":
		if llmErr != nil {
			return fmt.Errorf("embedding.type provider: %w", llmErr)
		}
		if err := provider.CheckEmbeddingModel(cfg.LLM); err != nil {
			return fmt.Errorf("llm.embedding_model: %w", err)
		}
		embedder = embedding.NewProvider(llm, embedding.ProviderOptions{
			Version:       llm.Name(),
			Dimensions:    cfg.Embedding.Dimensions,
			BatchSize:     cfg.LLM.EmbedBatchSize,
			RatePerSecond: cfg.LLM.EmbedRatePerSecond,
			Logger:        a.logger,
			Metrics:       a.metrics,
		})
	default:
		embedder = embedding.NewHashing(cfg.Embedding.Dimensions)
	}

	var persister index.Persister
	switch cfg.Index.Persist {
	case "sqlite":
		p, err := index.OpenSQLite(cfg.Index.SQLitePath)
		if err != nil {
			return fmt.Errorf("open index database: %w", err)
		}
		persister = p
	case "postgres":
		persister = index.NewPostgresPersister(a.db.DB)
	}

	switch cfg.Articles.Source {
	case "postgres":
		a.store = articles.NewPostgres(a.db.DB)
	default:
		mem := articles.NewMemory()
		res, err := articles.LoadDir(cfg.Articles.DataDir)
		if err != nil {
			return fmt.Errorf("load articles from %s: %w", cfg.Articles.DataDir, err)
		}
		for _, rej := range res.Rejected {
			a.logger.Warn("article rejected", zap.Error(rej))
		}
		if err := mem.Upsert(ctx, res.Articles...); err != nil {
			return err
		}
		a.logger.Info("articles loaded",
			zap.Int("articles", len(res.Articles)),
			zap.Int("files", len(res.Files)),
			zap.Int("rejected", len(res.Rejected)))
		a.store = mem
	}

	idx, err := index.New(index.Options{
		Embedder:  embedder,
		Persister: persister,
		Logger:    a.logger,
		Metrics:   a.metrics,
	})
	if err != nil {
		if persister != nil {
			_ = persister.Close()
		}
		return err
	}
	a.index = idx
	a.closers = append(a.closers, idx.Close)

	if cfg.Retrieval.LexicalFallback {
		lex, err := retrieval.NewLexical()
		if err != nil {
			return err
		}
		a.lexical = lex
		a.closers = append(a.closers, lex.Close)
	}

	engine, err := retrieval.New(retrieval.Options{
		Index:    idx,
		Embedder: embedder,
		Store:    a.store,
		Lexical:  a.lexical,
		Config:   cfg.Retrieval,
		Logger:   a.logger,
		Metrics:  a.metrics,
	})
	if err != nil {
		return err
	}

	var sessStore session.Store
	switch session.StoreType(cfg.Session.Store) {
	case session.RedisStore:
		sessStore = redis_session.NewRedisSessionStore(a.rdb, cfg.Session.IdleTimeout, cfg.Session.TombstoneTTL)
	default:
		sessStore = inmemory.NewInMemorySessionStore(cfg.Session.IdleTimeout, cfg.Session.TombstoneTTL)
	}
	a.sessions, err = session.NewManager(session.Options{
		Store:   sessStore,
		Config:  cfg.Session,
		Logger:  a.logger,
		Metrics: a.metrics,
	})
	if err != nil {
		_ = sessStore.Close()
		return err
	}
	// the manager closes the session store, which owns the redis client
	a.closers = append(a.closers, a.sessions.Close)

	a.svc, err = rag.New(rag.Options{
		Config:    cfg,
		Store:     a.store,
		Embedder:  embedder,
		Index:     idx,
		Lexical:   a.lexical,
		Retriever: engine,
		Sessions:  a.sessions,
		Completer: completer,
		Logger:    a.logger,
		Metrics:   a.metrics,
	})
	return err
}

// warm loads or rebuilds the index; every query command needs it.
func (a *app) warm(ctx context.Context) error {
	stats, err := a.svc.Warm(ctx)
	if err != nil {
		return err
	}
	a.logger.Debug("warm", zap.Bool("rebuilt", stats.Rebuilt), zap.Duration("took", stats.Took))
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var all error
	for i := len(a.closers) - 1; i >= 0; i-- {
		all = errors.Join(all, a.closers[i]())
	}
	if a.sessions == nil && a.rdb != nil {
		all = errors.Join(all, a.rdb.Close())
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return all
}

// exitCode maps the error taxonomy onto process exit codes.
func exitCode(err error) int {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return 2
	case errs.KindSessionExpired:
		return 3
	case errs.KindRetrievalUnavailable, errs.KindGenerationUnavailable:
		return 4
	case errs.KindGenerationRejected:
		return 5
	default:
		return 1
	}
}
