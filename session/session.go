// Package session tracks multi-turn conversations. A session moves from
// active to idle once its idle timeout passes, and to expired when the reaper
// (or the store's own expiry) removes it. Expired ids stay tombstoned so a
// stale client cannot silently start a fresh conversation under an old id.
//
// The tombstone only lasts for session.tombstone_ttl. After that the id is
// Unknown again, and a client presenting it gets a new, empty session under
// the same id.
package session

import (
	"context"
	"time"

	"github.com/mohammad-safakhou/newsrag/models"
)

// State is the lifecycle position of a session id.
type State int

const (
	// Unknown ids have never been used, or their tombstone has lapsed.
	Unknown State = iota
	Active
	Idle
	Expired
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Idle:
		return "idle"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Pruner trims a turn list from the head.
type Pruner func([]models.Turn) []models.Turn

// Store persists sessions. Every method is atomic per session id.
type Store interface {
	// Get returns the session under id and its state. The session is the
	// zero value unless the state is Active or Idle.
	Get(ctx context.Context, id string, now time.Time) (models.ChatSession, State, error)
	// Append adds turns to the session, creating it when unknown, applies
	// prune and marks the session active at now. An expired id yields a
	// session_expired error and nothing is written.
	Append(ctx context.Context, id string, turns []models.Turn, now time.Time, prune Pruner) (models.ChatSession, error)
	// Reap expires sessions idle at now and returns how many it expired.
	Reap(ctx context.Context, now time.Time) (int, error)
	// Len counts live sessions.
	Len(ctx context.Context) (int, error)
	Close() error
}

type StoreType string

const (
	InMemoryStore StoreType = "inmemory"
	RedisStore    StoreType = "redis"
)
