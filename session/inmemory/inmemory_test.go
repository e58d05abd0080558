package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/newsrag/internal/errs"
	"github.com/mohammad-safakhou/newsrag/models"
	"github.com/mohammad-safakhou/newsrag/session"
)

func TestStoreReapAndTombstone(t *testing.T) {
	ctx := context.Background()
	s := NewInMemorySessionStore(time.Minute, time.Hour)
	t0 := time.Date(2025, 2, 11, 9, 0, 0, 0, time.UTC)

	_, err := s.Append(ctx, "a", []models.Turn{{Role: models.RoleUser, Text: "x"}}, t0, nil)
	require.NoError(t, err)
	_, err = s.Append(ctx, "b", []models.Turn{{Role: models.RoleUser, Text: "y"}}, t0.Add(50*time.Second), nil)
	require.NoError(t, err)

	n, err := s.Reap(ctx, t0.Add(61*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	live, _ := s.Len(ctx)
	assert.Equal(t, 1, live)

	_, state, _ := s.Get(ctx, "a", t0.Add(2*time.Minute))
	assert.Equal(t, session.Expired, state)
	_, err = s.Append(ctx, "a", []models.Turn{{Role: models.RoleUser, Text: "z"}}, t0.Add(2*time.Minute), nil)
	assert.True(t, errs.IsKind(err, errs.KindSessionExpired))
}

func TestStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewInMemorySessionStore(time.Minute, time.Hour)
	now := time.Now()
	sess, err := s.Append(ctx, "a", []models.Turn{{Role: models.RoleUser, Text: "x"}}, now, nil)
	require.NoError(t, err)
	sess.Turns[0].Text = "mutated"

	got, _, _ := s.Get(ctx, "a", now)
	assert.Equal(t, "x", got.Turns[0].Text)
}
