package index

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// PostgresPersister stores embeddings in the article_embeddings table
// (pgvector column). See migrations/ for the schema.
type PostgresPersister struct {
	DB *sql.DB
}

func NewPostgresPersister(db *sql.DB) *PostgresPersister {
	return &PostgresPersister{DB: db}
}

// Close is a no-op: the connection pool belongs to the store.
func (p *PostgresPersister) Close() error { return nil }

func (p *PostgresPersister) LoadAll(ctx context.Context, modelVersion string) ([]Record, error) {
	rows, err := p.DB.QueryContext(ctx, `
SELECT article_id, embedding
FROM article_embeddings
WHERE model_version = $1
ORDER BY article_id`, modelVersion)
	if err != nil {
		return nil, fmt.Errorf("query article_embeddings: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			id  string
			vec pgvector.Vector
		)
		if err := rows.Scan(&id, &vec); err != nil {
			return nil, fmt.Errorf("scan article embedding: %w", err)
		}
		out = append(out, Record{ArticleID: id, ModelVersion: modelVersion, Vector: vec.Slice()})
	}
	return out, rows.Err()
}

const upsertEmbeddingSQL = `
INSERT INTO article_embeddings (article_id, model_version, dims, embedding, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (article_id, model_version) DO UPDATE SET
  dims = EXCLUDED.dims,
  embedding = EXCLUDED.embedding,
  updated_at = NOW();
`

func (p *PostgresPersister) Upsert(ctx context.Context, modelVersion string, recs ...Record) (err error) {
	if len(recs) == 0 {
		return nil
	}
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()
	return writeEmbeddings(ctx, tx, modelVersion, recs)
}

func (p *PostgresPersister) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := p.DB.ExecContext(ctx, `DELETE FROM article_embeddings WHERE article_id = ANY($1)`, pq.Array(ids)); err != nil {
		return fmt.Errorf("delete article embeddings: %w", err)
	}
	return nil
}

func (p *PostgresPersister) ReplaceAll(ctx context.Context, modelVersion string, recs []Record) (err error) {
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()
	if _, err = tx.ExecContext(ctx, `DELETE FROM article_embeddings`); err != nil {
		return fmt.Errorf("clear article embeddings: %w", err)
	}
	if len(recs) == 0 {
		return nil
	}
	return writeEmbeddings(ctx, tx, modelVersion, recs)
}

func writeEmbeddings(ctx context.Context, tx *sql.Tx, modelVersion string, recs []Record) error {
	stmt, err := tx.PrepareContext(ctx, upsertEmbeddingSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range recs {
		if len(r.Vector) == 0 {
			return fmt.Errorf("embedding vector required for article %s", r.ArticleID)
		}
		if _, err := stmt.ExecContext(ctx, r.ArticleID, modelVersion, len(r.Vector), pgvector.NewVector(r.Vector)); err != nil {
			return fmt.Errorf("write embedding %s: %w", r.ArticleID, err)
		}
	}
	return nil
}
