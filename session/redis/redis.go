// Package redis_session stores sessions in Redis. A session lives under
// newsrag:session:<id> with a sliding TTL equal to the idle timeout, so Redis
// itself does the reaping. A companion :issued key outlives the session by
// the tombstone TTL and marks the id as expired once the session key is gone.
package redis_session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/newsrag/config"
	"github.com/mohammad-safakhou/newsrag/internal/errs"
	"github.com/mohammad-safakhou/newsrag/models"
	"github.com/mohammad-safakhou/newsrag/session"
)

const (
	keyPrefix     = "newsrag:session:"
	issuedSuffix  = ":issued"
	maxTxAttempts = 5
)

type Store struct {
	client       *redis.Client
	idleTimeout  time.Duration
	tombstoneTTL time.Duration
}

func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
}

func NewRedisSessionStore(client *redis.Client, idleTimeout, tombstoneTTL time.Duration) *Store {
	return &Store{client: client, idleTimeout: idleTimeout, tombstoneTTL: tombstoneTTL}
}

func sessionKey(id string) string { return keyPrefix + id }

func issuedKey(id string) string { return keyPrefix + id + issuedSuffix }

func (s *Store) Get(ctx context.Context, id string, _ time.Time) (models.ChatSession, session.State, error) {
	sess, found, err := s.read(ctx, s.client, id)
	if err != nil {
		return models.ChatSession{}, session.Unknown, err
	}
	if found {
		return sess, session.Active, nil
	}
	issued, err := s.client.Exists(ctx, issuedKey(id)).Result()
	if err != nil {
		return models.ChatSession{}, session.Unknown, fmt.Errorf("check tombstone: %w", err)
	}
	if issued == 1 {
		return models.ChatSession{}, session.Expired, nil
	}
	return models.ChatSession{}, session.Unknown, nil
}

func (s *Store) Append(ctx context.Context, id string, turns []models.Turn, now time.Time, prune session.Pruner) (models.ChatSession, error) {
	key, issued := sessionKey(id), issuedKey(id)
	var out models.ChatSession
	txf := func(tx *redis.Tx) error {
		sess, found, err := s.read(ctx, tx, id)
		if err != nil {
			return err
		}
		if !found {
			n, err := tx.Exists(ctx, issued).Result()
			if err != nil {
				return fmt.Errorf("check tombstone: %w", err)
			}
			if n == 1 {
				return errs.SessionExpired(id)
			}
			sess = models.ChatSession{ID: id, CreatedAt: now}
		}
		sess.Turns = append(sess.Turns, turns...)
		if prune != nil {
			sess.Turns = prune(sess.Turns)
		}
		sess.LastActiveAt = now
		data, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.idleTimeout)
			pipe.Set(ctx, issued, now.Unix(), s.idleTimeout+s.tombstoneTTL)
			return nil
		})
		if err == nil {
			out = sess
		}
		return err
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key, issued)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return out, err
	}
	return models.ChatSession{}, fmt.Errorf("session %s: too many concurrent writers", id)
}

// Reap is a no-op: session keys expire on their own TTL.
func (s *Store) Reap(context.Context, time.Time) (int, error) { return 0, nil }

func (s *Store) Len(ctx context.Context) (int, error) {
	n := 0
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		if !strings.HasSuffix(iter.Val(), issuedSuffix) {
			n++
		}
	}
	return n, iter.Err()
}

func (s *Store) Close() error { return s.client.Close() }

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Store) read(ctx context.Context, c getter, id string) (models.ChatSession, bool, error) {
	val, err := c.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.ChatSession{}, false, nil
	}
	if err != nil {
		return models.ChatSession{}, false, fmt.Errorf("get session: %w", err)
	}
	var sess models.ChatSession
	if err := json.Unmarshal(val, &sess); err != nil {
		return models.ChatSession{}, false, fmt.Errorf("decode session %s: %w", id, err)
	}
	return sess, true, nil
}
