package redis_session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mohammad-safakhou/newsrag/internal/errs"
	"github.com/mohammad-safakhou/newsrag/models"
	"github.com/mohammad-safakhou/newsrag/session"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() || os.Getenv("NEWSRAG_INTEGRATION") != "1" {
		t.Skip("set NEWSRAG_INTEGRATION=1 to run redis integration tests")
	}
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379")
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisStoreLifecycle(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	store := NewRedisSessionStore(client, time.Second, time.Hour)
	defer store.Close()

	id := session.NewID()
	now := time.Now()
	_, state, err := store.Get(ctx, id, now)
	require.NoError(t, err)
	assert.Equal(t, session.Unknown, state)

	sess, err := store.Append(ctx, id, []models.Turn{
		{Role: models.RoleUser, Text: "hello", Timestamp: now},
		{Role: models.RoleAssistant, Text: "hi", Timestamp: now},
	}, now, nil)
	require.NoError(t, err)
	assert.Len(t, sess.Turns, 2)

	got, state, err := store.Get(ctx, id, now)
	require.NoError(t, err)
	assert.Equal(t, session.Active, state)
	assert.Equal(t, "hello", got.Turns[0].Text)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// the session key lapses after the idle timeout; the tombstone remains
	require.Eventually(t, func() bool {
		_, state, err := store.Get(ctx, id, time.Now())
		return err == nil && state == session.Expired
	}, 5*time.Second, 100*time.Millisecond)

	_, err = store.Append(ctx, id, []models.Turn{{Role: models.RoleUser, Text: "back"}}, time.Now(), nil)
	assert.True(t, errs.IsKind(err, errs.KindSessionExpired), "got %v", err)
}

func TestRedisStorePrunes(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	store := NewRedisSessionStore(client, time.Minute, time.Hour)
	defer store.Close()

	keepTwo := func(turns []models.Turn) []models.Turn {
		if len(turns) > 2 {
			return turns[len(turns)-2:]
		}
		return turns
	}
	id := session.NewID()
	for _, text := range []string{"a", "b", "c"} {
		_, err := store.Append(ctx, id, []models.Turn{{Role: models.RoleUser, Text: text}}, time.Now(), keepTwo)
		require.NoError(t, err)
	}
	got, _, err := store.Get(ctx, id, time.Now())
	require.NoError(t, err)
	require.Len(t, got.Turns, 2)
	assert.Equal(t, "b", got.Turns[0].Text)
}
