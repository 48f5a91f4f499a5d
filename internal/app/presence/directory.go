/*
Package presence mirrors room membership into Redis so operators and other services can
see which rooms are live and who is in them.

The mirror is write-only from the engine's point of view: rooms never read it back, and a
Redis outage only delays or drops mirror updates.
*/
package presence

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"sketchsync/internal/app/participant"
)

const (
	keyPrefix = "sketchsync"
	roomsKey  = keyPrefix + ":rooms"
)

func membersKey(roomID string) string {
	return fmt.Sprintf("%s:room:%s:members", keyPrefix, roomID)
}

// Directory stores the live membership of every room.
type Directory interface {
	Join(ctx context.Context, roomID string, p participant.Participant) error
	Leave(ctx context.Context, roomID, participantID string) error
	Close(ctx context.Context, roomID string) error
}

// RedisDirectory keeps a set of live room IDs and, per room, a hash of participant ID to display name.
type RedisDirectory struct {
	client *redis.Client
}

// NewRedisDirectory connects to redisURL and checks the connection.
func NewRedisDirectory(ctx context.Context, redisURL string) (*RedisDirectory, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisDirectory{client: client}, nil
}

// NewRedisDirectoryFromClient wraps an existing client.
func NewRedisDirectoryFromClient(client *redis.Client) *RedisDirectory {
	return &RedisDirectory{client: client}
}

// Join records p as a member of roomID.
func (d *RedisDirectory) Join(ctx context.Context, roomID string, p participant.Participant) error {
	_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, roomsKey, roomID)
		pipe.HSet(ctx, membersKey(roomID), p.ID, p.DisplayName)
		return nil
	})
	return err
}

// Leave removes participantID from roomID.
func (d *RedisDirectory) Leave(ctx context.Context, roomID, participantID string) error {
	return d.client.HDel(ctx, membersKey(roomID), participantID).Err()
}

// Close forgets roomID entirely.
func (d *RedisDirectory) Close(ctx context.Context, roomID string) error {
	_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, roomsKey, roomID)
		pipe.Del(ctx, membersKey(roomID))
		return nil
	})
	return err
}

// Rooms lists the live room IDs.
func (d *RedisDirectory) Rooms(ctx context.Context) ([]string, error) {
	return d.client.SMembers(ctx, roomsKey).Result()
}

// Members returns the participant ID to display name map of roomID.
func (d *RedisDirectory) Members(ctx context.Context, roomID string) (map[string]string, error) {
	return d.client.HGetAll(ctx, membersKey(roomID)).Result()
}

// Reset drops every room left over by a previous process. Rooms do not survive a restart.
func (d *RedisDirectory) Reset(ctx context.Context) error {
	rooms, err := d.Rooms(ctx)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(rooms)+1)
	keys = append(keys, roomsKey)
	for _, roomID := range rooms {
		keys = append(keys, membersKey(roomID))
	}
	return d.client.Del(ctx, keys...).Err()
}

// Ping checks the connection.
func (d *RedisDirectory) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

// Shutdown closes the Redis connection.
func (d *RedisDirectory) Shutdown() error {
	return d.client.Close()
}
