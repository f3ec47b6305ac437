package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"meetsfu/internal/core/domain"
	"meetsfu/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const activeRoomsKey = "meetsfu:rooms:active"

// RedisRoomDirectory keeps room settings as JSON strings and tracks which
// instance hosts each active room. A room's activity key expires with its TTL.
type RedisRoomDirectory struct {
	client *redis.Client
	prefix string
}

func NewRedisRoomDirectory(client *redis.Client) ports.RoomDirectory {
	return &RedisRoomDirectory{
		client: client,
		prefix: "meetsfu:room:",
	}
}

func (r *RedisRoomDirectory) roomKey(id domain.RoomID) string {
	return r.prefix + string(id)
}

func (r *RedisRoomDirectory) activeKey(id domain.RoomID) string {
	return r.prefix + string(id) + ":active"
}

func (r *RedisRoomDirectory) Get(ctx context.Context, id domain.RoomID) (*domain.RoomSettings, error) {
	data, err := r.client.Get(ctx, r.roomKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room from Redis: %w", err)
	}

	var settings domain.RoomSettings
	if err := json.Unmarshal([]byte(data), &settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}
	return &settings, nil
}

func (r *RedisRoomDirectory) Save(ctx context.Context, settings *domain.RoomSettings) error {
	if settings.CreatedAt.IsZero() {
		settings.CreatedAt = time.Now()
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}
	if err := r.client.Set(ctx, r.roomKey(settings.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set room in Redis: %w", err)
	}
	return nil
}

func (r *RedisRoomDirectory) Delete(ctx context.Context, id domain.RoomID) error {
	pipe := r.client.TxPipeline()
	del := pipe.Del(ctx, r.roomKey(id))
	pipe.Del(ctx, r.activeKey(id))
	pipe.HDel(ctx, activeRoomsKey, string(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete room from Redis: %w", err)
	}
	if del.Val() == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

func (r *RedisRoomDirectory) SetActive(ctx context.Context, id domain.RoomID, instanceID string, ttl time.Duration) error {
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.activeKey(id), instanceID, ttl)
	pipe.HSet(ctx, activeRoomsKey, string(id), instanceID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mark room active: %w", err)
	}
	return nil
}

func (r *RedisRoomDirectory) ClearActive(ctx context.Context, id domain.RoomID) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.activeKey(id))
	pipe.HDel(ctx, activeRoomsKey, string(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to clear active room: %w", err)
	}
	return nil
}

// ActiveRooms returns room -> instance for rooms whose activity key is still
// alive. Entries whose key expired are pruned.
func (r *RedisRoomDirectory) ActiveRooms(ctx context.Context) (map[domain.RoomID]string, error) {
	all, err := r.client.HGetAll(ctx, activeRoomsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active rooms: %w", err)
	}
	if len(all) == 0 {
		return map[domain.RoomID]string{}, nil
	}

	ids := make([]string, 0, len(all))
	pipe := r.client.Pipeline()
	checks := make([]*redis.IntCmd, 0, len(all))
	for id := range all {
		ids = append(ids, id)
		checks = append(checks, pipe.Exists(ctx, r.activeKey(domain.RoomID(id))))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to check active rooms: %w", err)
	}

	out := make(map[domain.RoomID]string, len(all))
	var stale []string
	for i, id := range ids {
		if checks[i].Val() == 0 {
			stale = append(stale, id)
			continue
		}
		out[domain.RoomID(id)] = all[id]
	}
	if len(stale) > 0 {
		r.client.HDel(ctx, activeRoomsKey, stale...)
	}
	return out, nil
}
