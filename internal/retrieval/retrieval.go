// Package retrieval turns a query into a ranked, deduplicated list of
// articles: embed, resolve the week filter, over-fetch from the vector
// index, collapse duplicate stories, score and truncate.
package retrieval

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/newsrag/config"
	"github.com/mohammad-safakhou/newsrag/internal/articles"
	"github.com/mohammad-safakhou/newsrag/internal/errs"
	"github.com/mohammad-safakhou/newsrag/internal/helpers"
	"github.com/mohammad-safakhou/newsrag/internal/index"
	"github.com/mohammad-safakhou/newsrag/internal/telemetry"
	"github.com/mohammad-safakhou/newsrag/internal/week"
	"github.com/mohammad-safakhou/newsrag/models"
	"github.com/mohammad-safakhou/newsrag/tools/embedding"
)

// VectorIndex is the query side of *index.Index.
type VectorIndex interface {
	Query(vec []float32, k int, filter index.Filter) ([]index.Neighbor, error)
}

// Hit is a ranked article.
type Hit struct {
	Article models.Article
	Score   float64
	Rank    int
}

func (h Hit) Result() models.SearchResult {
	return models.SearchResult{ArticleID: h.Article.ID, Score: h.Score, Rank: h.Rank}
}

type Options struct {
	Index    VectorIndex
	Embedder embedding.Embedder
	Store    articles.Store
	// Lexical is optional; without it a query with no embeddable terms
	// returns no results.
	Lexical *Lexical
	Config  config.RetrievalConfig
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
	Now     func() time.Time
}

// Engine is safe for concurrent use.
type Engine struct {
	index    VectorIndex
	embedder embedding.Embedder
	store    articles.Store
	lexical  *Lexical
	cfg      config.RetrievalConfig
	logger   *zap.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time
}

func New(opts Options) (*Engine, error) {
	if opts.Index == nil || opts.Embedder == nil || opts.Store == nil {
		return nil, errors.New("retrieval: index, embedder and store are required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Config.OverfetchFactor < 1 {
		opts.Config.OverfetchFactor = 1
	}
	if !opts.Config.LexicalFallback {
		opts.Lexical = nil
	}
	return &Engine{
		index:    opts.Index,
		embedder: opts.Embedder,
		store:    opts.Store,
		lexical:  opts.Lexical,
		cfg:      opts.Config,
		logger:   opts.Logger.Named("retrieval"),
		metrics:  opts.Metrics,
		now:      opts.Now,
	}, nil
}

// Overfetch is the number of index candidates requested for limit results.
func (e *Engine) Overfetch(limit int) int {
	return max(limit*e.cfg.OverfetchFactor, limit+e.cfg.OverfetchMin)
}

// Search returns at most limit hits with non-increasing score and ranks
// 0..n-1, no two of which share a normalised URL. Input is validated before
// anything is embedded or queried.
func (e *Engine) Search(ctx context.Context, query, weekToken string, limit int) (hits []Hit, err error) {
	start := time.Now()
	defer func() {
		e.metrics.ObserveSearch(outcome(err), time.Since(start), len(hits))
	}()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errs.Validation("query must not be empty")
	}
	if limit <= 0 {
		return nil, errs.Validation("limit must be positive, got %d", limit)
	}
	if e.cfg.MaxLimit > 0 && limit > e.cfg.MaxLimit {
		return nil, errs.Validation("limit %d exceeds the maximum of %d", limit, e.cfg.MaxLimit)
	}
	window, err := week.Parse(weekToken, e.now())
	if err != nil {
		return nil, err
	}

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		if errs.IsKind(err, errs.KindValidation) {
			return nil, err
		}
		return nil, errs.RetrievalUnavailable("embed query", err)
	}

	var (
		filter  index.IDSet
		inScope map[string]models.Article
	)
	if !window.Unbounded {
		arts, err := e.store.List(ctx, window)
		if err != nil {
			return nil, errs.RetrievalUnavailable("list articles for "+window.String(), err)
		}
		filter = make(index.IDSet, len(arts))
		inScope = make(map[string]models.Article, len(arts))
		for _, a := range arts {
			filter[a.ID] = struct{}{}
			inScope[a.ID] = a
		}
	}

	k := e.Overfetch(limit)
	var neighbors []index.Neighbor
	switch {
	case !embedding.IsZero(vec):
		var f index.Filter
		if filter != nil {
			f = filter
		}
		neighbors, err = e.index.Query(vec, k, f)
		if err != nil {
			return nil, errs.RetrievalUnavailable("query vector index", err)
		}
	case e.lexical != nil:
		e.metrics.LexicalFallback()
		neighbors, err = e.lexical.Query(query, k, filter)
		if err != nil {
			return nil, errs.RetrievalUnavailable("query lexical index", err)
		}
	default:
		e.logger.Debug("query has no embeddable terms", zap.String("query", query))
		return []Hit{}, nil
	}

	cands, err := e.resolve(ctx, neighbors, inScope)
	if err != nil {
		return nil, err
	}
	kept := Dedup(cands)
	e.metrics.DuplicatesDropped(len(cands) - len(kept))

	hits = make([]Hit, 0, min(limit, len(kept)))
	for _, c := range kept {
		score := index.Similarity(c.Distance)
		if score < e.cfg.MinScore {
			continue
		}
		hits = append(hits, Hit{Article: c.Article, Score: score, Rank: len(hits)})
		if len(hits) == limit {
			break
		}
	}
	return hits, nil
}

// resolve attaches articles to neighbours, dropping ids the store no longer
// knows.
func (e *Engine) resolve(ctx context.Context, ns []index.Neighbor, inScope map[string]models.Article) ([]Candidate, error) {
	out := make([]Candidate, 0, len(ns))
	for _, n := range ns {
		a, ok := inScope[n.ArticleID]
		if inScope == nil {
			var err error
			a, ok, err = e.store.Get(ctx, n.ArticleID)
			if err != nil {
				return nil, errs.RetrievalUnavailable("load article "+n.ArticleID, err)
			}
		}
		if !ok {
			e.logger.Debug("skipping vanished article", zap.String("article_id", n.ArticleID))
			continue
		}
		out = append(out, Candidate{Article: a, Distance: n.Distance})
	}
	return out, nil
}

// Candidate is an index hit joined with its article.
type Candidate struct {
	Article  models.Article
	Distance float64
}

// Dedup keeps one candidate per normalised URL: the one with the smaller
// distance, then the more recently published, then the smaller article id.
// The result is ordered by distance, ties by article id.
func Dedup(cands []Candidate) []Candidate {
	best := make(map[string]int, len(cands))
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		key := helpers.DedupKey(c.Article.URL)
		i, seen := best[key]
		if !seen {
			best[key] = len(out)
			out = append(out, c)
			continue
		}
		if better(c, out[i]) {
			out[i] = c
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Article.ID < out[j].Article.ID
	})
	return out
}

func better(a, b Candidate) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	if !a.Article.PublishedAt.Equal(b.Article.PublishedAt) {
		return a.Article.PublishedAt.After(b.Article.PublishedAt)
	}
	return a.Article.ID < b.Article.ID
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(errs.KindOf(err))
}
