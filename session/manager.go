package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/newsrag/config"
	"github.com/mohammad-safakhou/newsrag/internal/errs"
	"github.com/mohammad-safakhou/newsrag/internal/telemetry"
	"github.com/mohammad-safakhou/newsrag/internal/tokens"
	"github.com/mohammad-safakhou/newsrag/models"
)

// Conversation is what a responder sees: the resolved id and the history
// before the current message.
type Conversation struct {
	ID      string
	History []models.Turn
	New     bool
}

// Responder produces the assistant reply for message.
type Responder func(ctx context.Context, conv Conversation, message string) (string, error)

type Options struct {
	Store   Store
	Config  config.SessionConfig
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
	Now     func() time.Time
}

// Manager owns every session. Work on one session id is serialised; work on
// different ids runs in parallel.
type Manager struct {
	store   Store
	cfg     config.SessionConfig
	locks   *keyedMutex
	logger  *zap.Logger
	metrics *telemetry.Metrics
	now     func() time.Time

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("session: store required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		store:   opts.Store,
		cfg:     opts.Config,
		locks:   newKeyedMutex(),
		logger:  opts.Logger.Named("session"),
		metrics: opts.Metrics,
		now:     opts.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// NewID mints an unguessable session id.
func NewID() string { return uuid.NewString() }

// ValidID reports whether id has the shape of a minted id.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Converse runs one exchange. An empty id starts a new session; an unknown
// well-formed id starts a session under that id; an expired id fails
// before respond is called. The user and assistant turns are committed
// together, and only when respond succeeds.
func (m *Manager) Converse(ctx context.Context, id, message string, respond Responder) (models.ChatSession, string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return models.ChatSession{}, "", errs.Validation("message must not be empty")
	}
	if id == "" {
		id = NewID()
	} else if !ValidID(id) {
		return models.ChatSession{}, "", errs.Validation("malformed session id %q", id)
	}

	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return models.ChatSession{}, "", errs.Internal("wait for session "+id, err)
	}
	defer unlock()

	sess, state, err := m.store.Get(ctx, id, m.now())
	if err != nil {
		return models.ChatSession{}, "", errs.Internal("load session", err)
	}
	if state == Expired {
		return models.ChatSession{}, "", errs.SessionExpired(id)
	}

	reply, err := respond(ctx, Conversation{ID: id, History: sess.Turns, New: state == Unknown}, message)
	if err != nil {
		return models.ChatSession{}, "", err
	}

	now := m.now()
	sess, err = m.store.Append(ctx, id, []models.Turn{
		{Role: models.RoleUser, Text: message, Timestamp: now},
		{Role: models.RoleAssistant, Text: reply, Timestamp: now},
	}, now, m.prune)
	if err != nil {
		return models.ChatSession{}, "", storeErr(err)
	}
	return sess, reply, nil
}

// AppendTurn adds a single turn to id, creating the session if the id is
// unknown.
func (m *Manager) AppendTurn(ctx context.Context, id string, role models.Role, text string) (models.ChatSession, error) {
	if !ValidID(id) {
		return models.ChatSession{}, errs.Validation("malformed session id %q", id)
	}
	if !role.Valid() {
		return models.ChatSession{}, errs.Validation("unknown role %q", role)
	}
	if strings.TrimSpace(text) == "" {
		return models.ChatSession{}, errs.Validation("turn text must not be empty")
	}
	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return models.ChatSession{}, errs.Internal("wait for session "+id, err)
	}
	defer unlock()

	now := m.now()
	sess, err := m.store.Append(ctx, id, []models.Turn{{Role: role, Text: text, Timestamp: now}}, now, m.prune)
	if err != nil {
		return models.ChatSession{}, storeErr(err)
	}
	return sess, nil
}

// Get returns the session and its state without touching it.
func (m *Manager) Get(ctx context.Context, id string) (models.ChatSession, State, error) {
	if !ValidID(id) {
		return models.ChatSession{}, Unknown, errs.Validation("malformed session id %q", id)
	}
	return m.store.Get(ctx, id, m.now())
}

// Reap expires idle sessions once.
func (m *Manager) Reap(ctx context.Context) (int, error) {
	n, err := m.store.Reap(ctx, m.now())
	if err != nil {
		return 0, err
	}
	m.metrics.SessionsReaped(n)
	if live, err := m.store.Len(ctx); err == nil {
		m.metrics.SetActiveSessions(live)
	}
	if n > 0 {
		m.logger.Info("reaped idle sessions", zap.Int("count", n))
	}
	return n, nil
}

// Start runs the reaper every reap interval until ctx ends or Close is
// called. Calling Start more than once has no effect.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		interval := m.cfg.ReapInterval
		if interval <= 0 {
			interval = time.Minute
		}
		go func() {
			defer close(m.done)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-m.stop:
					return
				case <-ticker.C:
					if _, err := m.Reap(ctx); err != nil {
						m.logger.Warn("reap sessions", zap.Error(err))
					}
				}
			}
		}()
	})
}

// Close stops the reaper and closes the store.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.stop)
		started := true
		m.startOnce.Do(func() { started = false })
		if started {
			<-m.done
		}
		err = m.store.Close()
	})
	return err
}

// prune drops turns from the head until the session fits max_turns and the
// token budget. The latest exchange is always kept.
func (m *Manager) prune(turns []models.Turn) []models.Turn {
	if m.cfg.MaxTurns > 0 && len(turns) > m.cfg.MaxTurns {
		turns = turns[len(turns)-m.cfg.MaxTurns:]
	}
	if m.cfg.TokenBudget <= 0 {
		return turns
	}
	total := 0
	for _, t := range turns {
		total += tokens.Count(t.Text)
	}
	for total > m.cfg.TokenBudget && len(turns) > 2 {
		total -= tokens.Count(turns[0].Text)
		turns = turns[1:]
	}
	return turns
}

func storeErr(err error) error {
	if errs.IsKind(err, errs.KindSessionExpired) {
		return err
	}
	return errs.Internal("save session", err)
}
