package redis

import (
	"context"
	"testing"
	"time"

	"meetsfu/internal/core/domain"
	"meetsfu/pkg/retry"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisRoomDirectory_SaveGetDelete(t *testing.T) {
	ctx := context.Background()
	_, client := newTestClient(t)
	dir := NewRedisRoomDirectory(client)

	_, err := dir.Get(ctx, "r1")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	require.NoError(t, dir.Save(ctx, &domain.RoomSettings{ID: "r1", HostUID: "u1", MaxPeers: 8, Locked: true}))

	got, err := dir.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomID("r1"), got.ID)
	assert.Equal(t, domain.UserID("u1"), got.HostUID)
	assert.Equal(t, 8, got.MaxPeers)
	assert.True(t, got.Locked)

	require.NoError(t, dir.Delete(ctx, "r1"))
	assert.ErrorIs(t, dir.Delete(ctx, "r1"), domain.ErrRoomNotFound)
}

func TestRedisRoomDirectory_ActiveRoomsExpire(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestClient(t)
	dir := NewRedisRoomDirectory(client)

	require.NoError(t, dir.SetActive(ctx, "r1", "node-a", time.Minute))
	require.NoError(t, dir.SetActive(ctx, "r2", "node-b", 10*time.Second))

	active, err := dir.ActiveRooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[domain.RoomID]string{"r1": "node-a", "r2": "node-b"}, active)

	mr.FastForward(30 * time.Second)

	active, err = dir.ActiveRooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[domain.RoomID]string{"r1": "node-a"}, active)
	assert.False(t, mr.Exists("meetsfu:room:r2:active"))

	require.NoError(t, dir.ClearActive(ctx, "r1"))
	active, err = dir.ActiveRooms(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestClient(t)

	mr.SetAdd(activeRoomsKey, "junk")
	require.NoError(t, Migrate(ctx, client, nil))

	assert.False(t, mr.Exists(activeRoomsKey))
	version, err := getSchemaVersion(ctx, client)
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, version)

	require.NoError(t, Migrate(ctx, client, nil))
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), ClientOptions{Address: mr.Addr(), PoolSize: 4}, nil)
	require.NoError(t, err)
	defer CloseRedisClient(client)

	assert.True(t, mr.Exists(schemaVersionKey))

	mr.Close()
	_, err = NewRedisClient(context.Background(), ClientOptions{Address: mr.Addr()}, nil)
	assert.Error(t, err)
}

func TestNewRedisClient_RetriesUntilReachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		mr.Restart()
	}()

	client, err := NewRedisClient(context.Background(), ClientOptions{
		Address: addr,
		Retry: retry.Config{
			Attempts:     20,
			InitialDelay: 20 * time.Millisecond,
			MaxDelay:     100 * time.Millisecond,
			Multiplier:   2,
		},
	}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer CloseRedisClient(client)
	assert.True(t, mr.Exists(schemaVersionKey))
}
