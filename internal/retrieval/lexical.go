package retrieval

import (
	"context"
	"fmt"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/blevesearch/bleve/search/query"

	"github.com/mohammad-safakhou/newsrag/internal/index"
	"github.com/mohammad-safakhou/newsrag/models"
)

// lexicalDoc is what bleve indexes for one article.
type lexicalDoc struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Source  string `json:"source"`
}

// Lexical is an in-memory BM25 index over article titles and summaries.
// It answers queries whose text carries no embeddable signal.
type Lexical struct {
	mu  sync.RWMutex
	idx bleve.Index

	// jmu guards resets and journal. Writes made while a reset is building
	// are journaled and replayed onto the fresh index before the swap.
	jmu     sync.Mutex
	resets  int
	journal []lexicalChange
}

// lexicalChange is one write seen during a reset; a nil art is a removal.
type lexicalChange struct {
	id  string
	art *models.Article
}

func NewLexical() (*Lexical, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create lexical index: %w", err)
	}
	return &Lexical{idx: idx}, nil
}

// Index adds or replaces articles.
func (l *Lexical) Index(arts ...models.Article) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := indexArticles(l.idx, arts); err != nil {
		return err
	}
	for _, a := range arts {
		a := a
		l.record(lexicalChange{id: a.ID, art: &a})
	}
	return nil
}

// Remove deletes articles by id. Unknown ids are ignored.
func (l *Lexical) Remove(ids ...string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b := l.idx.NewBatch()
	for _, id := range ids {
		b.Delete(id)
	}
	if err := l.idx.Batch(b); err != nil {
		return err
	}
	for _, id := range ids {
		l.record(lexicalChange{id: id})
	}
	return nil
}

// Reset rebuilds the index from arts and swaps it in.
func (l *Lexical) Reset(arts []models.Article) error {
	return l.ResetFrom(context.Background(), func(context.Context) ([]models.Article, error) { return arts, nil })
}

// ResetFrom rebuilds the index from the articles returned by list and swaps
// it in. Writes made after the reset starts are kept.
func (l *Lexical) ResetFrom(ctx context.Context, list func(context.Context) ([]models.Article, error)) error {
	l.jmu.Lock()
	l.resets++
	mark := len(l.journal)
	l.jmu.Unlock()
	done := func() {
		l.jmu.Lock()
		l.resets--
		if l.resets == 0 {
			l.journal = nil
		}
		l.jmu.Unlock()
	}

	arts, err := list(ctx)
	if err != nil {
		done()
		return err
	}
	fresh, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		done()
		return fmt.Errorf("create lexical index: %w", err)
	}
	if err := indexArticles(fresh, arts); err != nil {
		done()
		_ = fresh.Close()
		return err
	}

	l.mu.Lock()
	l.jmu.Lock()
	err = replayLexical(fresh, l.journal[mark:])
	l.jmu.Unlock()
	if err != nil {
		l.mu.Unlock()
		done()
		_ = fresh.Close()
		return err
	}
	old := l.idx
	l.idx = fresh
	l.mu.Unlock()
	done()
	return old.Close()
}

// record must be called with mu held for reading.
func (l *Lexical) record(c lexicalChange) {
	l.jmu.Lock()
	if l.resets > 0 {
		l.journal = append(l.journal, c)
	}
	l.jmu.Unlock()
}

func replayLexical(idx bleve.Index, changes []lexicalChange) error {
	if len(changes) == 0 {
		return nil
	}
	b := idx.NewBatch()
	for _, c := range changes {
		if c.art == nil {
			b.Delete(c.id)
			continue
		}
		if err := b.Index(c.id, toLexicalDoc(*c.art)); err != nil {
			return err
		}
	}
	return idx.Batch(b)
}

// Len returns the number of indexed documents.
func (l *Lexical) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n, err := l.idx.DocCount()
	if err != nil {
		return 0
	}
	return int(n)
}

// Query runs a match query restricted to filter and returns at most k
// neighbours. BM25 scores are divided by the top score and mapped onto the
// cosine distance scale so they rank and convert exactly like vector hits.
func (l *Lexical) Query(text string, k int, filter index.IDSet) ([]index.Neighbor, error) {
	var q query.Query = bleve.NewMatchQuery(text)
	if filter != nil {
		if len(filter) == 0 {
			return nil, nil
		}
		ids := make([]string, 0, len(filter))
		for id := range filter {
			ids = append(ids, id)
		}
		q = bleve.NewConjunctionQuery(q, bleve.NewDocIDQuery(ids))
	}
	req := bleve.NewSearchRequestOptions(q, k, 0, false)

	l.mu.RLock()
	res, err := l.idx.Search(req)
	l.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	if len(res.Hits) == 0 || res.Hits[0].Score <= 0 {
		return nil, nil
	}
	top := res.Hits[0].Score
	out := make([]index.Neighbor, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, index.Neighbor{ArticleID: hit.ID, Distance: 2 * (1 - hit.Score/top)})
	}
	return out, nil
}

func (l *Lexical) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.idx.Close()
}

func toLexicalDoc(a models.Article) lexicalDoc {
	return lexicalDoc{Title: a.Title, Summary: a.SummaryText, Source: a.Source}
}

func indexArticles(idx bleve.Index, arts []models.Article) error {
	b := idx.NewBatch()
	for _, a := range arts {
		if err := b.Index(a.ID, toLexicalDoc(a)); err != nil {
			return fmt.Errorf("index article %s: %w", a.ID, err)
		}
	}
	return idx.Batch(b)
}
