// Package store owns the Postgres connection pool shared by the article
// store and the pgvector embedding persister.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/mohammad-safakhou/newsrag/config"
)

type Store struct {
	DB *sql.DB
}

// DSN builds a lib/pq connection URL. An explicit url wins over the
// individual fields.
func DSN(cfg config.PostgresConfig) (string, error) {
	if u := strings.TrimSpace(cfg.URL); u != "" {
		return u, nil
	}
	if cfg.Host == "" || cfg.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := cfg.Port
	if port == "" {
		port = "5432"
	}
	ssl := cfg.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host + ":" + port,
		Path:     "/" + cfg.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(ssl),
	}
	if cfg.Timeout > 0 {
		u.RawQuery += fmt.Sprintf("&connect_timeout=%d", int(cfg.Timeout/time.Second))
	}
	return u.String(), nil
}

// New connects using the storage.postgres section.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }
