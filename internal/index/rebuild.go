package index

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/newsrag/models"
	"github.com/mohammad-safakhou/newsrag/tools/embedding"
)

// RebuildStats summarises a full rebuild.
type RebuildStats struct {
	Articles int
	Indexed  int
	Failed   int
	Duration time.Duration
}

// Rebuild re-embeds every article and replaces the index in one step. The
// new snapshot is persisted before it is published; if embedding or
// persistence fails the previous snapshot stays live and untouched. Upserts
// and removals that land while the rebuild is embedding are replayed onto
// the new snapshot before it is published.
func (x *Index) Rebuild(ctx context.Context, articles []models.Article) (RebuildStats, error) {
	return x.RebuildFrom(ctx, func(context.Context) ([]models.Article, error) { return articles, nil })
}

// RebuildFrom is Rebuild over the corpus returned by list. list runs after
// the rebuild starts tracking writes, so an article stored concurrently is
// either listed or replayed.
func (x *Index) RebuildFrom(ctx context.Context, list func(context.Context) ([]models.Article, error)) (RebuildStats, error) {
	start := time.Now()
	var stats RebuildStats

	x.mu.Lock()
	x.rebuilds++
	mark := len(x.journal)
	x.mu.Unlock()
	defer func() {
		x.mu.Lock()
		x.rebuilds--
		if x.rebuilds == 0 {
			x.journal = nil
		}
		x.mu.Unlock()
	}()

	articles, err := list(ctx)
	if err != nil {
		x.metrics.ObserveRebuild("error", time.Since(start))
		return stats, fmt.Errorf("index: rebuild list: %w", err)
	}
	stats.Articles = len(articles)

	texts := make([]string, len(articles))
	for i, a := range articles {
		texts[i] = a.EmbeddingText()
	}
	results, err := x.embedder.EmbedMany(ctx, texts)
	if err != nil {
		x.metrics.ObserveRebuild("error", time.Since(start))
		return stats, fmt.Errorf("index: rebuild embed: %w", err)
	}

	version := x.ModelVersion()
	seen := make(map[string]int, len(articles))
	ids := make([]string, 0, len(articles))
	vecs := make([][]float32, 0, len(articles))
	for i, res := range results {
		id := articles[i].ID
		if res.Err == nil && embedding.IsZero(res.Vector) {
			res.Err = ErrZeroVector
		}
		if res.Err != nil {
			stats.Failed++
			x.logger.Warn("skipping article in rebuild", zap.String("article_id", id), zap.Error(res.Err))
			continue
		}
		vec := embedding.Normalize(append([]float32(nil), res.Vector...))
		if j, dup := seen[id]; dup {
			vecs[j] = vec
			continue
		}
		seen[id] = len(ids)
		ids = append(ids, id)
		vecs = append(vecs, vec)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	ids, vecs = replay(ids, vecs, x.journal[mark:])
	recs := make([]Record, len(ids))
	for i := range ids {
		recs[i] = Record{ArticleID: ids[i], ModelVersion: version, Vector: vecs[i]}
	}
	if err := x.persister.ReplaceAll(ctx, version, recs); err != nil {
		x.metrics.ObserveRebuild("error", time.Since(start))
		return stats, fmt.Errorf("index: rebuild persist: %w", err)
	}
	x.publish(newSnapshot(x.nextGeneration(), ids, vecs))

	stats.Indexed = len(ids)
	stats.Duration = time.Since(start)
	x.metrics.ObserveRebuild("ok", stats.Duration)
	x.logger.Info("index rebuilt",
		zap.Int("articles", stats.Articles),
		zap.Int("indexed", stats.Indexed),
		zap.Int("failed", stats.Failed),
		zap.String("model_version", version),
		zap.Duration("took", stats.Duration))
	return stats, nil
}

// replay applies journaled changes in order, last write wins.
func replay(ids []string, vecs [][]float32, changes []change) ([]string, [][]float32) {
	if len(changes) == 0 {
		return ids, vecs
	}
	latest := make(map[string][]float32, len(changes))
	order := make([]string, 0, len(changes))
	for _, c := range changes {
		if _, ok := latest[c.id]; !ok {
			order = append(order, c.id)
		}
		latest[c.id] = c.vec
	}
	outIDs := make([]string, 0, len(ids)+len(order))
	outVecs := make([][]float32, 0, len(ids)+len(order))
	for i, id := range ids {
		vec, changed := latest[id]
		if !changed {
			outIDs = append(outIDs, id)
			outVecs = append(outVecs, vecs[i])
			continue
		}
		if vec != nil {
			outIDs = append(outIDs, id)
			outVecs = append(outVecs, vec)
		}
		delete(latest, id)
	}
	for _, id := range order {
		if vec, ok := latest[id]; ok && vec != nil {
			outIDs = append(outIDs, id)
			outVecs = append(outVecs, vec)
		}
	}
	return outIDs, outVecs
}

// LoadStats reports how much of the corpus a warm start covered.
type LoadStats struct {
	Loaded  int
	Orphans int
	Missing int
}

// Complete reports whether every live article has a vector.
func (s LoadStats) Complete() bool { return s.Missing == 0 }

// Load publishes the persisted vectors for the current model version,
// restricted to live article ids. Orphaned vectors are pruned from the
// store. When nothing is persisted the index stays unloaded.
func (x *Index) Load(ctx context.Context, live IDSet) (LoadStats, error) {
	version := x.ModelVersion()
	recs, err := x.persister.LoadAll(ctx, version)
	if err != nil {
		return LoadStats{}, fmt.Errorf("index: load: %w", err)
	}

	dims := x.embedder.Dimensions()
	var stats LoadStats
	var orphans []string
	ids := make([]string, 0, len(recs))
	vecs := make([][]float32, 0, len(recs))
	for _, r := range recs {
		if !live.Contains(r.ArticleID) || len(r.Vector) != dims || embedding.IsZero(r.Vector) {
			orphans = append(orphans, r.ArticleID)
			continue
		}
		ids = append(ids, r.ArticleID)
		vecs = append(vecs, r.Vector)
	}
	stats.Loaded = len(ids)
	stats.Orphans = len(orphans)
	stats.Missing = len(live) - len(ids)

	x.mu.Lock()
	defer x.mu.Unlock()
	if len(orphans) > 0 {
		if err := x.persister.Remove(ctx, orphans...); err != nil {
			x.logger.Warn("failed to prune orphaned vectors", zap.Int("count", len(orphans)), zap.Error(err))
		}
	}
	if len(ids) == 0 {
		return stats, nil
	}
	x.publish(newSnapshot(x.nextGeneration(), ids, vecs))
	x.logger.Info("index loaded from store",
		zap.Int("loaded", stats.Loaded),
		zap.Int("orphans", stats.Orphans),
		zap.Int("missing", stats.Missing),
		zap.String("model_version", version))
	return stats, nil
}
