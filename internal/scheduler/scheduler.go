// Package scheduler refreshes the index on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/newsrag/internal/index"
)

const lockKey = "newsrag:sched:rebuild"

// RebuildFunc performs one full rebuild.
type RebuildFunc func(ctx context.Context) (index.RebuildStats, error)

type Options struct {
	// Cron is a 5-field expression or a shortcut such as @daily.
	Cron    string
	Rebuild RebuildFunc
	// Redis, when set, guards each run with a lock so only one process
	// sharing the store rebuilds.
	Redis   *redis.Client
	LockTTL time.Duration
	Logger  *zap.Logger
	Now     func() time.Time
}

// Refresher runs Rebuild whenever the cron expression fires.
type Refresher struct {
	expr    *cronexpr.Expression
	spec    string
	rebuild RebuildFunc
	rdb     *redis.Client
	lockTTL time.Duration
	logger  *zap.Logger
	now     func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func NewRefresher(opts Options) (*Refresher, error) {
	expr, err := cronexpr.Parse(opts.Cron)
	if err != nil {
		return nil, fmt.Errorf("parse rebuild cron %q: %w", opts.Cron, err)
	}
	if opts.Rebuild == nil {
		return nil, fmt.Errorf("scheduler: rebuild func required")
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Refresher{
		expr:    expr,
		spec:    opts.Cron,
		rebuild: opts.Rebuild,
		rdb:     opts.Redis,
		lockTTL: opts.LockTTL,
		logger:  opts.Logger.Named("scheduler"),
		now:     opts.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Next returns the first run strictly after t.
func (r *Refresher) Next(t time.Time) time.Time {
	return r.expr.Next(t)
}

// Start schedules rebuilds until ctx ends or Stop is called.
func (r *Refresher) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		go r.loop(ctx)
	})
}

func (r *Refresher) loop(ctx context.Context) {
	defer close(r.done)
	for {
		next := r.Next(r.now())
		if next.IsZero() {
			r.logger.Warn("rebuild cron never fires again", zap.String("cron", r.spec))
			return
		}
		r.logger.Debug("next index rebuild", zap.Time("at", next))
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-r.stop:
			timer.Stop()
			return
		case <-timer.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("scheduled rebuild failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs a rebuild now. It reports ran=false when another process
// holds the lock.
func (r *Refresher) RunOnce(ctx context.Context) (ran bool, err error) {
	if r.rdb != nil {
		ok, err := r.rdb.SetNX(ctx, lockKey, r.now().Unix(), r.lockTTL).Result()
		if err != nil {
			return false, fmt.Errorf("acquire rebuild lock: %w", err)
		}
		if !ok {
			r.logger.Info("rebuild already running elsewhere, skipping")
			return false, nil
		}
		defer r.rdb.Del(context.WithoutCancel(ctx), lockKey)
	}
	stats, err := r.rebuild(ctx)
	if err != nil {
		return true, err
	}
	r.logger.Info("scheduled rebuild finished",
		zap.Int("indexed", stats.Indexed),
		zap.Int("failed", stats.Failed),
		zap.Duration("took", stats.Duration))
	return true, nil
}

// Stop ends the schedule and waits for an in-flight rebuild to return.
func (r *Refresher) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
		started := true
		r.startOnce.Do(func() { started = false })
		if started {
			<-r.done
		}
	})
}
