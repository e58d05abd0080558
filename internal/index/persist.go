package index

import "context"

// Record is one persisted embedding, keyed by (ArticleID, ModelVersion).
type Record struct {
	ArticleID    string
	ModelVersion string
	Vector       []float32
}

// Persister is the durable side of the index.
type Persister interface {
	LoadAll(ctx context.Context, modelVersion string) ([]Record, error)
	Upsert(ctx context.Context, modelVersion string, recs ...Record) error
	// Remove deletes ids under every model version.
	Remove(ctx context.Context, ids ...string) error
	// ReplaceAll atomically swaps the whole store for recs, dropping every
	// other id and model version.
	ReplaceAll(ctx context.Context, modelVersion string, recs []Record) error
	Close() error
}

type nopPersister struct{}

func (nopPersister) LoadAll(context.Context, string) ([]Record, error)  { return nil, nil }
func (nopPersister) Upsert(context.Context, string, ...Record) error    { return nil }
func (nopPersister) Remove(context.Context, ...string) error            { return nil }
func (nopPersister) ReplaceAll(context.Context, string, []Record) error { return nil }
func (nopPersister) Close() error                                       { return nil }
