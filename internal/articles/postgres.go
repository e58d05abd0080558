package articles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/newsrag/internal/week"
	"github.com/mohammad-safakhou/newsrag/models"
)

// Postgres is a Store backed by the articles table.
type Postgres struct {
	DB *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{DB: db}
}

const articleColumns = `id, title, source, published_at, url, body_text, summary_text`

func (p *Postgres) List(ctx context.Context, w week.Window) ([]models.Article, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if w.Unbounded {
		rows, err = p.DB.QueryContext(ctx, `SELECT `+articleColumns+` FROM articles ORDER BY published_at DESC, id ASC`)
	} else {
		rows, err = p.DB.QueryContext(ctx, `SELECT `+articleColumns+` FROM articles
WHERE published_at >= $1 AND published_at < $2
ORDER BY published_at DESC, id ASC`, w.Start, w.End)
	}
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	var out []models.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) Get(ctx context.Context, id string) (models.Article, bool, error) {
	row := p.DB.QueryRowContext(ctx, `SELECT `+articleColumns+` FROM articles WHERE id=$1`, id)
	a, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Article{}, false, nil
	}
	if err != nil {
		return models.Article{}, false, err
	}
	return a, true, nil
}

const upsertArticleSQL = `
INSERT INTO articles (id, title, source, published_at, url, body_text, summary_text, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
ON CONFLICT (id) DO UPDATE SET
  title = EXCLUDED.title,
  source = EXCLUDED.source,
  published_at = EXCLUDED.published_at,
  url = EXCLUDED.url,
  body_text = EXCLUDED.body_text,
  summary_text = EXCLUDED.summary_text,
  updated_at = NOW();
`

func (p *Postgres) Upsert(ctx context.Context, arts ...models.Article) (err error) {
	if len(arts) == 0 {
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
	stmt, err := tx.PrepareContext(ctx, upsertArticleSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, a := range arts {
		if _, err = stmt.ExecContext(ctx, a.ID, a.Title, a.Source, a.PublishedAt, a.URL, a.BodyText, a.SummaryText); err != nil {
			return fmt.Errorf("upsert article %s: %w", a.ID, err)
		}
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	_, err := p.DB.ExecContext(ctx, `DELETE FROM articles WHERE id=$1`, id)
	return err
}

func (p *Postgres) Weeks(ctx context.Context) ([]string, error) {
	rows, err := p.DB.QueryContext(ctx, `
SELECT DISTINCT to_char(published_at AT TIME ZONE 'UTC', 'IYYY-"W"IW') AS tag
FROM articles
ORDER BY tag DESC`)
	if err != nil {
		return nil, fmt.Errorf("list weeks: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		out = append(out, tag)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(r rowScanner) (models.Article, error) {
	var a models.Article
	if err := r.Scan(&a.ID, &a.Title, &a.Source, &a.PublishedAt, &a.URL, &a.BodyText, &a.SummaryText); err != nil {
		return models.Article{}, err
	}
	a.PublishedAt = a.PublishedAt.UTC()
	return a, nil
}
