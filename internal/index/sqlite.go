package index

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLitePersister keeps embeddings in a local SQLite file. Vectors are
// stored as little-endian float32 blobs.
type SQLitePersister struct {
	db   *sql.DB
	path string
}

func OpenSQLite(path string) (*SQLitePersister, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening index database: %w", err)
	}
	// a single connection keeps ReplaceAll and concurrent upserts serialised
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating index schema: %w", err)
	}
	return &SQLitePersister{db: db, path: path}, nil
}

func (p *SQLitePersister) Path() string { return p.path }

func (p *SQLitePersister) Close() error { return p.db.Close() }

func (p *SQLitePersister) LoadAll(ctx context.Context, modelVersion string) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT article_id, dims, vector FROM embeddings WHERE model_version = ? ORDER BY article_id`, modelVersion)
	if err != nil {
		return nil, fmt.Errorf("querying embeddings: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			id   string
			dims int
			blob []byte
		)
		if err := rows.Scan(&id, &dims, &blob); err != nil {
			return nil, fmt.Errorf("scanning embedding: %w", err)
		}
		vec, err := decodeFloat32s(blob, dims)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding %s: %w", id, err)
		}
		out = append(out, Record{ArticleID: id, ModelVersion: modelVersion, Vector: vec})
	}
	return out, rows.Err()
}

func (p *SQLitePersister) Upsert(ctx context.Context, modelVersion string, recs ...Record) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if err := insertRecords(ctx, tx, modelVersion, recs); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *SQLitePersister) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := p.db.ExecContext(ctx, `DELETE FROM embeddings WHERE article_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("deleting embeddings: %w", err)
	}
	return nil
}

func (p *SQLitePersister) ReplaceAll(ctx context.Context, modelVersion string, recs []Record) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings`); err != nil {
		return fmt.Errorf("clearing embeddings: %w", err)
	}
	if err := insertRecords(ctx, tx, modelVersion, recs); err != nil {
		return err
	}
	return tx.Commit()
}

func insertRecords(ctx context.Context, tx *sql.Tx, modelVersion string, recs []Record) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embeddings (article_id, model_version, dims, vector, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(article_id, model_version) DO UPDATE SET
			dims = excluded.dims,
			vector = excluded.vector,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()
	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range recs {
		if _, err := stmt.ExecContext(ctx, r.ArticleID, modelVersion, len(r.Vector), encodeFloat32s(r.Vector), now); err != nil {
			return fmt.Errorf("writing embedding %s: %w", r.ArticleID, err)
		}
	}
	return nil
}

func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeFloat32s(buf []byte, dims int) ([]float32, error) {
	if len(buf) != 4*dims {
		return nil, fmt.Errorf("blob has %d bytes for %d dimensions", len(buf), dims)
	}
	v := make([]float32, dims)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v, nil
}
