package main

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/newsrag/internal/articles"
	"github.com/mohammad-safakhou/newsrag/internal/scheduler"
	"github.com/mohammad-safakhou/newsrag/internal/telemetry"
)

func serveCMD(cfgPath *string) *cobra.Command {
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the indexing daemon: warm, reap sessions, scheduled rebuilds and article ingestion",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.serve(ctx)
		},
	}
	return serve
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	if err := a.warm(ctx); err != nil {
		return err
	}
	a.sessions.Start(ctx)

	g := newComponents(ctx, a.logger)
	ctx = g.ctx

	if cfg.Index.RebuildCron != "" {
		refresher, err := scheduler.NewRefresher(scheduler.Options{
			Cron:    cfg.Index.RebuildCron,
			Rebuild: a.svc.Rebuild,
			Redis:   a.rdb,
			Logger:  a.logger,
		})
		if err != nil {
			return err
		}
		refresher.Start(ctx)
		defer refresher.Stop()
	}

	if cfg.Articles.Watch && cfg.Articles.Source == "files" {
		w := articles.NewWatcher(cfg.Articles.DataDir, cfg.Articles.Debounce, a.svc.IngestFiles, a.logger)
		g.run("watcher", w.Run)
	}
	if cfg.Feed.Kafka.Enabled {
		feed := articles.NewFeed(articles.NewKafkaReader(cfg.Feed.Kafka), a.svc.IngestFeed, a.logger)
		g.run("kafka feed", feed.Run)
	}
	if cfg.Telemetry.Enabled {
		g.run("metrics", func(ctx context.Context) error {
			return telemetry.Serve(ctx, a.metrics, cfg.Telemetry.MetricsPort, a.logger)
		})
	}

	a.logger.Info("newsrag serving",
		zap.String("articles", cfg.Articles.Source),
		zap.String("sessions", cfg.Session.Store),
		zap.String("rebuild_cron", cfg.Index.RebuildCron))

	return g.wait()
}

// components runs long-lived serve loops. The first failure cancels the
// rest.
type components struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	wg     sync.WaitGroup
	errCh  chan error
}

func newComponents(ctx context.Context, logger *zap.Logger) *components {
	ctx, cancel := context.WithCancel(ctx)
	return &components{ctx: ctx, cancel: cancel, logger: logger, errCh: make(chan error, 1)}
}

func (g *components) run(name string, fn func(context.Context) error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := fn(g.ctx); err != nil && !errors.Is(err, context.Canceled) {
			g.logger.Error("component stopped", zap.String("component", name), zap.Error(err))
			select {
			case g.errCh <- err:
			default:
			}
			g.cancel()
		}
	}()
}

// wait blocks until the parent context ends or a component fails, then
// stops every component and returns the first failure.
func (g *components) wait() error {
	var err error
	select {
	case <-g.ctx.Done():
	case err = <-g.errCh:
	}
	g.logger.Info("shutting down")
	g.cancel()
	g.wg.Wait()
	if err == nil {
		select {
		case err = <-g.errCh:
		default:
		}
	}
	return err
}
