package rag

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/newsrag/internal/articles"
	"github.com/mohammad-safakhou/newsrag/internal/errs"
	"github.com/mohammad-safakhou/newsrag/internal/index"
	"github.com/mohammad-safakhou/newsrag/internal/week"
	"github.com/mohammad-safakhou/newsrag/models"
	"github.com/mohammad-safakhou/newsrag/tools/embedding"
)

// IngestStats reports one incremental ingest.
type IngestStats struct {
	Stored   int `json:"stored"`
	Indexed  int `json:"indexed"`
	Failed   int `json:"failed"`
	Deferred int `json:"deferred"`
}

// Ingest stores articles and indexes them. Articles that fail to embed stay
// stored and are picked up by the next rebuild. While the index has not
// been loaded, indexing is deferred to that first rebuild.
func (s *Service) Ingest(ctx context.Context, arts ...models.Article) (IngestStats, error) {
	var stats IngestStats
	if len(arts) == 0 {
		return stats, nil
	}
	if err := s.store.Upsert(ctx, arts...); err != nil {
		return stats, errs.Internal("store articles", err)
	}
	stats.Stored = len(arts)
	if s.lexical != nil {
		if err := s.lexical.Index(arts...); err != nil {
			s.logger.Warn("lexical index update failed", zap.Error(err))
		}
	}
	if !s.index.Loaded() {
		stats.Deferred = len(arts)
		return stats, nil
	}

	texts := make([]string, len(arts))
	for i, a := range arts {
		texts[i] = a.EmbeddingText()
	}
	results, err := s.embedder.EmbedMany(ctx, texts)
	if err != nil {
		stats.Failed = len(arts)
		return stats, errs.RetrievalUnavailable("embed ingested articles", err)
	}
	recs := make([]index.Record, 0, len(arts))
	for i, res := range results {
		if res.Err == nil && embedding.IsZero(res.Vector) {
			res.Err = index.ErrZeroVector
		}
		if res.Err != nil {
			stats.Failed++
			s.logger.Warn("article not indexed", zap.String("article_id", arts[i].ID), zap.Error(res.Err))
			continue
		}
		recs = append(recs, index.Record{ArticleID: arts[i].ID, Vector: res.Vector})
	}
	if err := s.index.UpsertMany(ctx, recs); err != nil {
		if errors.Is(err, index.ErrUnavailable) {
			stats.Deferred = len(recs)
			return stats, nil
		}
		return stats, errs.Internal("index ingested articles", err)
	}
	stats.Indexed = len(recs)
	return stats, nil
}

// IngestFiles loads changed article files and ingests them. It matches
// articles.ChangeHandler.
func (s *Service) IngestFiles(ctx context.Context, paths []string) {
	for _, path := range paths {
		res, err := articles.LoadFile(path)
		if err != nil {
			s.metrics.ObserveIngest("file", "error", 0)
			s.logger.Warn("load article file", zap.String("path", path), zap.Error(err))
			continue
		}
		for _, rej := range res.Rejected {
			s.logger.Debug("rejected article record", zap.Error(rej))
		}
		stats, err := s.Ingest(ctx, res.Articles...)
		if err != nil {
			s.metrics.ObserveIngest("file", "error", len(res.Articles))
			s.logger.Error("ingest article file", zap.String("path", path), zap.Error(err))
			continue
		}
		s.metrics.ObserveIngest("file", "ok", stats.Stored)
		s.logger.Info("ingested article file",
			zap.String("path", path),
			zap.Int("stored", stats.Stored),
			zap.Int("indexed", stats.Indexed),
			zap.Int("rejected", len(res.Rejected)))
	}
}

// IngestFeed matches articles.IngestFunc.
func (s *Service) IngestFeed(ctx context.Context, arts []models.Article) error {
	stats, err := s.Ingest(ctx, arts...)
	if err != nil {
		s.metrics.ObserveIngest("kafka", "error", len(arts))
		return err
	}
	s.metrics.ObserveIngest("kafka", "ok", stats.Stored)
	return nil
}

// Remove deletes an article from the store and both indexes. The store goes
// first so a rebuild running concurrently either never lists the article or
// sees the index removal replayed.
func (s *Service) Remove(ctx context.Context, id string) error {
	if _, ok, err := s.store.Get(ctx, id); err != nil {
		return errs.Internal("load article", err)
	} else if !ok {
		return errs.New(errs.KindValidation, "article "+id+" not found", models.ErrArticleNotFound)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return errs.Internal("delete article", err)
	}
	if err := s.index.Remove(ctx, id); err != nil {
		return errs.Internal("remove from index", err)
	}
	if s.lexical != nil {
		if err := s.lexical.Remove(id); err != nil {
			s.logger.Warn("lexical remove failed", zap.String("article_id", id), zap.Error(err))
		}
	}
	return nil
}

// Rebuild re-embeds the whole corpus and swaps it in atomically. Queries
// keep using the previous snapshot until the swap, and keep it if the
// rebuild fails. Articles ingested or removed while it runs are carried
// over into the new snapshot.
func (s *Service) Rebuild(ctx context.Context) (index.RebuildStats, error) {
	var listErr error
	list := func(ctx context.Context) ([]models.Article, error) {
		arts, err := s.store.List(ctx, week.Window{Unbounded: true})
		if err != nil {
			listErr = err
		}
		return arts, err
	}
	stats, err := s.index.RebuildFrom(ctx, list)
	if listErr != nil {
		return stats, errs.Internal("list articles", listErr)
	}
	if err != nil {
		return stats, errs.RetrievalUnavailable("rebuild index", err)
	}
	if s.lexical != nil {
		if err := s.lexical.ResetFrom(ctx, list); err != nil {
			s.logger.Warn("lexical rebuild failed", zap.Error(err))
		}
	}
	return stats, nil
}

// WarmStats reports how the index came up.
type WarmStats struct {
	Loaded  index.LoadStats    `json:"loaded"`
	Rebuilt bool               `json:"rebuilt"`
	Rebuild index.RebuildStats `json:"rebuild"`
	Took    time.Duration      `json:"took"`
}

// Warm brings the index up: persisted vectors are loaded first and a full
// rebuild runs when they do not cover the corpus, or always when
// index.rebuild_on_startup is set.
func (s *Service) Warm(ctx context.Context) (WarmStats, error) {
	start := time.Now()
	var out WarmStats
	arts, err := s.store.List(ctx, week.Window{Unbounded: true})
	if err != nil {
		return out, errs.Internal("list articles", err)
	}
	live := make(index.IDSet, len(arts))
	for _, a := range arts {
		live[a.ID] = struct{}{}
	}

	if !s.cfg.Index.RebuildOnStartup {
		out.Loaded, err = s.index.Load(ctx, live)
		if err != nil {
			s.logger.Warn("loading persisted index failed, rebuilding", zap.Error(err))
		}
	}
	if s.cfg.Index.RebuildOnStartup || err != nil || !s.index.Loaded() || !out.Loaded.Complete() {
		out.Rebuilt = true
		out.Rebuild, err = s.index.Rebuild(ctx, arts)
		if err != nil {
			return out, errs.RetrievalUnavailable("rebuild index", err)
		}
	}
	if s.lexical != nil {
		if err := s.lexical.Reset(arts); err != nil {
			s.logger.Warn("lexical rebuild failed", zap.Error(err))
		}
	}
	out.Took = time.Since(start)
	s.logger.Info("index ready",
		zap.Int("articles", len(arts)),
		zap.Int("entries", s.index.Len()),
		zap.Bool("rebuilt", out.Rebuilt),
		zap.Duration("took", out.Took))
	return out, nil
}
