package tutor

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/p-n-ai/pai-tutor/internal/platform/cache"
)

// exerciseStore checks the SessionStore contract against any implementation.
func exerciseStore(t *testing.T, store SessionStore) {
	t.Helper()
	ctx := context.Background()

	fresh, err := store.Load(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, "missing", fresh.Key)
	assert.Equal(t, PhaseIdle, fresh.Phase())
	assert.NotNil(t, fresh.Turns)

	st := inSession(t, 2)
	st.CurriculumID = "C1"
	require.NoError(t, store.Save(ctx, st))

	got, err := store.Load(ctx, st.Key)
	require.NoError(t, err)
	assert.Equal(t, st.CurriculumID, got.CurriculumID)
	assert.Equal(t, st.UnitID, got.UnitID)
	assert.Equal(t, st.ActiveSubTopic, got.ActiveSubTopic)
	assert.Equal(t, st.Turns, got.Turns)

	require.NoError(t, store.Delete(ctx, st.Key))
	gone, err := store.Load(ctx, st.Key)
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, gone.Phase())

	assert.Error(t, store.Save(ctx, State{}), "a state without key cannot be saved")
}

func TestMemorySessionStore(t *testing.T) {
	exerciseStore(t, NewMemorySessionStore())
}

func TestMemorySessionStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore()
	st := inSession(t, 1)
	require.NoError(t, store.Save(ctx, st))

	st.Turns[0].Content = "mutated after save"
	got, _ := store.Load(ctx, "k")
	assert.Equal(t, "q", got.Turns[0].Content)

	got.Turns[0].Content = "mutated after load"
	again, _ := store.Load(ctx, "k")
	assert.Equal(t, "q", again.Turns[0].Content)
	assert.Equal(t, 1, store.Len())
}

func TestRedisSessionStore_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisSessionStore(cache.Wrap(client, "test:"), time.Minute)

	_, err := store.Load(context.Background(), "k")
	assert.Error(t, err, "an unreachable store must not look like a fresh session")
	assert.Error(t, store.Save(context.Background(), inSession(t, 0)))
}

func TestRedisSessionStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	ctr, err := testcontainers.Run(ctx, "redis:7-alpine",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")),
	)
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	url, err := ctr.PortEndpoint(ctx, "6379/tcp", "redis")
	require.NoError(t, err)

	c, err := cache.New(ctx, url, "tutor-test:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	exerciseStore(t, NewRedisSessionStore(c, time.Minute))

	store := NewRedisSessionStore(c, time.Minute)
	require.NoError(t, store.Save(ctx, inSession(t, 0)))
	ttl, err := c.Client.TTL(ctx, c.Key(sessionCacheKey("k"))).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
