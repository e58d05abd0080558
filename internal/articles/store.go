// Package articles owns the normalised article corpus: the storage
// backends, the loader for the weekly JSON files produced by the source
// jobs, and the push paths (directory watch, Kafka feed) that keep it fresh.
package articles

import (
	"context"
	"sort"
	"sync"

	"github.com/mohammad-safakhou/newsrag/internal/week"
	"github.com/mohammad-safakhou/newsrag/models"
)

// Store is the article corpus.
type Store interface {
	// List returns articles published inside w, newest first, ties by id.
	List(ctx context.Context, w week.Window) ([]models.Article, error)
	Get(ctx context.Context, id string) (models.Article, bool, error)
	Upsert(ctx context.Context, arts ...models.Article) error
	Delete(ctx context.Context, id string) error
	// Weeks returns the ISO week tags that have at least one article,
	// newest first.
	Weeks(ctx context.Context) ([]string, error)
}

// SortByRecency orders articles newest first, ties by id.
func SortByRecency(arts []models.Article) {
	sort.Slice(arts, func(i, j int) bool {
		if !arts[i].PublishedAt.Equal(arts[j].PublishedAt) {
			return arts[i].PublishedAt.After(arts[j].PublishedAt)
		}
		return arts[i].ID < arts[j].ID
	})
}

// Memory is an in-process Store.
type Memory struct {
	mu   sync.RWMutex
	byID map[string]models.Article
}

func NewMemory() *Memory {
	return &Memory{byID: make(map[string]models.Article)}
}

func (m *Memory) List(_ context.Context, w week.Window) ([]models.Article, error) {
	m.mu.RLock()
	out := make([]models.Article, 0, len(m.byID))
	for _, a := range m.byID {
		if w.Contains(a.PublishedAt) {
			out = append(out, a)
		}
	}
	m.mu.RUnlock()
	SortByRecency(out)
	return out, nil
}

func (m *Memory) Get(_ context.Context, id string) (models.Article, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.byID[id]
	return a, ok, nil
}

func (m *Memory) Upsert(_ context.Context, arts ...models.Article) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range arts {
		m.byID[a.ID] = a
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	return nil
}

func (m *Memory) Weeks(_ context.Context) ([]string, error) {
	m.mu.RLock()
	seen := make(map[string]struct{})
	for _, a := range m.byID {
		seen[week.Tag(a.PublishedAt)] = struct{}{}
	}
	m.mu.RUnlock()
	return sortedTags(seen), nil
}

// Len returns the number of stored articles.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

func sortedTags(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for tag := range set {
		out = append(out, tag)
	}
	// YYYY-Www sorts lexically
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out
}
