// Package index holds article embeddings and answers nearest-neighbour
// queries. Readers work on an immutable snapshot published through an atomic
// pointer, so queries never block and never observe a half-applied write.
package index

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/newsrag/internal/telemetry"
	"github.com/mohammad-safakhou/newsrag/tools/embedding"
)

// ErrUnavailable is returned by queries before the index has been built or
// loaded.
var ErrUnavailable = errors.New("vector index not loaded")

// ErrZeroVector rejects vectors with no direction; they would sit at the
// same distance from every query.
var ErrZeroVector = errors.New("zero vector")

// Neighbor is one query hit. Distance is cosine distance in [0,2].
type Neighbor struct {
	ArticleID string
	Distance  float64
}

// Similarity maps a cosine distance onto [0,1].
func Similarity(distance float64) float64 {
	s := 1 - distance/2
	return math.Max(0, math.Min(1, s))
}

// Filter restricts a query to a subset of article ids. A nil Filter admits
// every id.
type Filter interface {
	Contains(id string) bool
}

// IDSet is the common Filter.
type IDSet map[string]struct{}

func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s IDSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

type snapshot struct {
	generation uint64
	ids        []string
	vecs       [][]float32
	pos        map[string]int
}

func newSnapshot(gen uint64, ids []string, vecs [][]float32) *snapshot {
	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}
	return &snapshot{generation: gen, ids: ids, vecs: vecs, pos: pos}
}

func (s *snapshot) clone(gen uint64, extra int) *snapshot {
	ids := make([]string, len(s.ids), len(s.ids)+extra)
	copy(ids, s.ids)
	vecs := make([][]float32, len(s.vecs), len(s.vecs)+extra)
	copy(vecs, s.vecs)
	pos := make(map[string]int, len(s.pos)+extra)
	for k, v := range s.pos {
		pos[k] = v
	}
	return &snapshot{generation: gen, ids: ids, vecs: vecs, pos: pos}
}

// Options wires an Index.
type Options struct {
	Embedder  embedding.Embedder
	Persister Persister
	Logger    *zap.Logger
	Metrics   *telemetry.Metrics
}

// Index is safe for concurrent use. Writers serialise on mu and publish a
// fresh snapshot; readers only load the pointer.
type Index struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
	// rebuilds counts rebuilds in flight; while it is non-zero every write
	// is also appended to journal so the rebuilt snapshot can replay it.
	rebuilds  int
	journal   []change
	embedder  embedding.Embedder
	persister Persister
	logger    *zap.Logger
	metrics   *telemetry.Metrics
}

func New(opts Options) (*Index, error) {
	if opts.Embedder == nil {
		return nil, errors.New("index: embedder required")
	}
	if opts.Persister == nil {
		opts.Persister = nopPersister{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Index{
		embedder:  opts.Embedder,
		persister: opts.Persister,
		logger:    opts.Logger.Named("index"),
		metrics:   opts.Metrics,
	}, nil
}

// ModelVersion is the embedding model the index is keyed by.
func (x *Index) ModelVersion() string { return x.embedder.ModelVersion() }

// Loaded reports whether a snapshot has been published.
func (x *Index) Loaded() bool { return x.snap.Load() != nil }

// Len returns the number of vectors in the live snapshot.
func (x *Index) Len() int {
	s := x.snap.Load()
	if s == nil {
		return 0
	}
	return len(s.ids)
}

// Generation increments with every published snapshot.
func (x *Index) Generation() uint64 {
	s := x.snap.Load()
	if s == nil {
		return 0
	}
	return s.generation
}

// Has reports whether id has a vector in the live snapshot.
func (x *Index) Has(id string) bool {
	s := x.snap.Load()
	if s == nil {
		return false
	}
	_, ok := s.pos[id]
	return ok
}

// Query returns at most k neighbours of vec by ascending distance, ties
// broken by article id. The filter is applied before truncation.
func (x *Index) Query(vec []float32, k int, filter Filter) ([]Neighbor, error) {
	s := x.snap.Load()
	if s == nil {
		return nil, ErrUnavailable
	}
	if k <= 0 {
		return nil, fmt.Errorf("index: k must be positive, got %d", k)
	}
	if len(vec) != x.embedder.Dimensions() {
		return nil, fmt.Errorf("index: query has %d dimensions, index has %d", len(vec), x.embedder.Dimensions())
	}
	q := embedding.Normalize(append([]float32(nil), vec...))

	hits := make([]Neighbor, 0, min(k*2, len(s.ids)))
	for i, id := range s.ids {
		if filter != nil && !filter.Contains(id) {
			continue
		}
		hits = append(hits, Neighbor{ArticleID: id, Distance: 1 - dot(q, s.vecs[i])})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ArticleID < hits[j].ArticleID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Upsert replaces the vector for id. Writing to an index that has never been
// loaded returns ErrUnavailable so that a cold index never serves a partial
// corpus; the next rebuild picks the article up.
func (x *Index) Upsert(ctx context.Context, id string, vec []float32) error {
	return x.UpsertMany(ctx, []Record{{ArticleID: id, Vector: vec}})
}

// UpsertMany applies every record in one snapshot swap.
func (x *Index) UpsertMany(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	dims := x.embedder.Dimensions()
	version := x.ModelVersion()
	clean := make([]Record, len(recs))
	for i, r := range recs {
		if r.ArticleID == "" {
			return errors.New("index: empty article id")
		}
		if len(r.Vector) != dims {
			return fmt.Errorf("index: vector for %s has %d dimensions, want %d", r.ArticleID, len(r.Vector), dims)
		}
		if embedding.IsZero(r.Vector) {
			return fmt.Errorf("index: %s: %w", r.ArticleID, ErrZeroVector)
		}
		clean[i] = Record{ArticleID: r.ArticleID, ModelVersion: version, Vector: embedding.Normalize(append([]float32(nil), r.Vector...))}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	cur := x.snap.Load()
	if cur == nil {
		return ErrUnavailable
	}
	if err := x.persister.Upsert(ctx, version, clean...); err != nil {
		return fmt.Errorf("index: persist upsert: %w", err)
	}
	next := cur.clone(cur.generation+1, len(clean))
	for _, r := range clean {
		if i, ok := next.pos[r.ArticleID]; ok {
			next.vecs[i] = r.Vector
			continue
		}
		next.pos[r.ArticleID] = len(next.ids)
		next.ids = append(next.ids, r.ArticleID)
		next.vecs = append(next.vecs, r.Vector)
	}
	x.publish(next)
	for _, r := range clean {
		x.record(change{id: r.ArticleID, vec: r.Vector})
	}
	return nil
}

// Remove deletes the vectors for ids. Unknown ids are ignored.
func (x *Index) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.persister.Remove(ctx, ids...); err != nil {
		return fmt.Errorf("index: persist remove: %w", err)
	}
	for _, id := range ids {
		x.record(change{id: id})
	}
	cur := x.snap.Load()
	if cur == nil {
		return nil
	}
	drop := NewIDSet(ids...)
	keepIDs := make([]string, 0, len(cur.ids))
	keepVecs := make([][]float32, 0, len(cur.ids))
	for i, id := range cur.ids {
		if drop.Contains(id) {
			continue
		}
		keepIDs = append(keepIDs, id)
		keepVecs = append(keepVecs, cur.vecs[i])
	}
	if len(keepIDs) == len(cur.ids) {
		return nil
	}
	x.publish(newSnapshot(cur.generation+1, keepIDs, keepVecs))
	return nil
}

// Close releases the persister.
func (x *Index) Close() error {
	return x.persister.Close()
}

// publish must be called with mu held.
func (x *Index) publish(s *snapshot) {
	x.snap.Store(s)
	x.metrics.SetIndexEntries(len(s.ids))
}

// change is one write seen while a rebuild was running. A nil vec is a
// removal.
type change struct {
	id  string
	vec []float32
}

// record must be called with mu held.
func (x *Index) record(c change) {
	if x.rebuilds > 0 {
		x.journal = append(x.journal, c)
	}
}

func (x *Index) nextGeneration() uint64 {
	if s := x.snap.Load(); s != nil {
		return s.generation + 1
	}
	return 1
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
