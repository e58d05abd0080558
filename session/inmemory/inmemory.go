// Package inmemory keeps sessions in process memory. Everything is lost on
// restart.
package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/mohammad-safakhou/newsrag/internal/errs"
	"github.com/mohammad-safakhou/newsrag/models"
	"github.com/mohammad-safakhou/newsrag/session"
)

type Store struct {
	mu           sync.RWMutex
	sessions     map[string]*models.ChatSession
	tombstones   map[string]time.Time
	idleTimeout  time.Duration
	tombstoneTTL time.Duration
}

func NewInMemorySessionStore(idleTimeout, tombstoneTTL time.Duration) *Store {
	return &Store{
		sessions:     make(map[string]*models.ChatSession),
		tombstones:   make(map[string]time.Time),
		idleTimeout:  idleTimeout,
		tombstoneTTL: tombstoneTTL,
	}
}

func (s *Store) Get(_ context.Context, id string, now time.Time) (models.ChatSession, session.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[id]; ok {
		state := session.Active
		if now.Sub(sess.LastActiveAt) >= s.idleTimeout {
			state = session.Idle
		}
		return clone(sess), state, nil
	}
	if until, ok := s.tombstones[id]; ok && now.Before(until) {
		return models.ChatSession{}, session.Expired, nil
	}
	return models.ChatSession{}, session.Unknown, nil
}

func (s *Store) Append(_ context.Context, id string, turns []models.Turn, now time.Time, prune session.Pruner) (models.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		if until, dead := s.tombstones[id]; dead && now.Before(until) {
			return models.ChatSession{}, errs.SessionExpired(id)
		}
		delete(s.tombstones, id)
		sess = &models.ChatSession{ID: id, CreatedAt: now}
		s.sessions[id] = sess
	}
	merged := make([]models.Turn, 0, len(sess.Turns)+len(turns))
	merged = append(merged, sess.Turns...)
	merged = append(merged, turns...)
	if prune != nil {
		merged = prune(merged)
	}
	sess.Turns = merged
	sess.LastActiveAt = now
	return clone(sess), nil
}

func (s *Store) Reap(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.LastActiveAt) < s.idleTimeout {
			continue
		}
		delete(s.sessions, id)
		s.tombstones[id] = now.Add(s.tombstoneTTL)
		n++
	}
	for id, until := range s.tombstones {
		if !now.Before(until) {
			delete(s.tombstones, id)
		}
	}
	return n, nil
}

func (s *Store) Len(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), nil
}

func (s *Store) Close() error { return nil }

func clone(sess *models.ChatSession) models.ChatSession {
	out := *sess
	out.Turns = append([]models.Turn(nil), sess.Turns...)
	return out
}
