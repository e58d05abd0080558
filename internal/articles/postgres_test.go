package articles

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/mohammad-safakhou/newsrag/internal/week"
)

var articleRowColumns = []string{"id", "title", "source", "published_at", "url", "body_text", "summary_text"}

func TestPostgresListWindow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	w, _ := week.Parse("2025-W07", time.Now())
	published := time.Date(2025, 2, 11, 8, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(articleRowColumns).
		AddRow("a", "Title", "Wire", published, "https://example.com/a", "body", "summary")
	mock.ExpectQuery(regexp.QuoteMeta(`FROM articles
WHERE published_at >= $1 AND published_at < $2`)).
		WithArgs(w.Start, w.End).
		WillReturnRows(rows)

	got, err := NewPostgres(db).List(context.Background(), w)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" || !got[0].PublishedAt.Equal(published) {
		t.Fatalf("unexpected articles: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresGetMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM articles WHERE id=$1`)).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(articleRowColumns))

	_, ok, err := NewPostgres(db).Get(context.Background(), "nope")
	if err != nil || ok {
		t.Fatalf("Get = ok %v err %v, want missing without error", ok, err)
	}
}

func TestPostgresUpsertRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	a := art("a", time.Date(2025, 2, 11, 0, 0, 0, 0, time.UTC))
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(upsertArticleSQL))
	prep.ExpectExec().
		WithArgs(a.ID, a.Title, a.Source, a.PublishedAt, a.URL, a.BodyText, a.SummaryText).
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	if err := NewPostgres(db).Upsert(context.Background(), a); err == nil {
		t.Fatalf("expected upsert error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresWeeks(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT DISTINCT to_char`)).
		WillReturnRows(sqlmock.NewRows([]string{"tag"}).AddRow("2025-W07").AddRow("2025-W06"))

	tags, err := NewPostgres(db).Weeks(context.Background())
	if err != nil {
		t.Fatalf("Weeks: %v", err)
	}
	if len(tags) != 2 || tags[0] != "2025-W07" {
		t.Fatalf("Weeks = %v", tags)
	}
}
