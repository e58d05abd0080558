package index

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestPostgresPersisterLoadAll(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	query := regexp.QuoteMeta(`
SELECT article_id, embedding
FROM article_embeddings
WHERE model_version = $1
ORDER BY article_id`)
	rows := sqlmock.NewRows([]string{"article_id", "embedding"}).
		AddRow("a", "[1,0]").
		AddRow("b", "[0.5,0.25]")
	mock.ExpectQuery(query).WithArgs("hashing-v1-d2").WillReturnRows(rows)

	p := NewPostgresPersister(db)
	recs, err := p.LoadAll(context.Background(), "hashing-v1-d2")
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(recs) != 2 || recs[1].ArticleID != "b" || recs[1].Vector[1] != 0.25 {
		t.Fatalf("unexpected records: %+v", recs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresPersisterReplaceAll(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM article_embeddings`)).WillReturnResult(sqlmock.NewResult(0, 3))
	prep := mock.ExpectPrepare(regexp.QuoteMeta(upsertEmbeddingSQL))
	prep.ExpectExec().WithArgs("a", "v1", 2, sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("b", "v1", 2, sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	p := NewPostgresPersister(db)
	err = p.ReplaceAll(context.Background(), "v1", []Record{
		{ArticleID: "a", Vector: []float32{1, 0}},
		{ArticleID: "b", Vector: []float32{0, 1}},
	})
	if err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresPersisterUpsertRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectPrepare(regexp.QuoteMeta(upsertEmbeddingSQL))
	mock.ExpectRollback()

	p := NewPostgresPersister(db)
	if err := p.Upsert(context.Background(), "v1", Record{ArticleID: "a"}); err == nil {
		t.Fatalf("expected error for empty vector")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresPersisterRemove(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM article_embeddings WHERE article_id = ANY($1)`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := NewPostgresPersister(db).Remove(context.Background(), "a", "b"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
