// README: Tracking store backed by Redis lists (bounded history) and a hash of latest fixes per booking.
package location

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"karigar/internal/types"
)

type Store interface {
	// Append records f in the party's history, keeping at most limit entries,
	// and moves the latest pointer only if f is not older than the current one.
	Append(ctx context.Context, bookingID types.ID, f Fix, limit int) error
	Latest(ctx context.Context, bookingID types.ID) (Latest, error)
	// History returns fixes in receipt order, oldest first.
	History(ctx context.Context, bookingID types.ID, party Party) ([]Fix, error)
	Purge(ctx context.Context, bookingID types.ID) error
	// Tracked lists bookings that currently hold tracking data.
	Tracked(ctx context.Context) ([]types.ID, error)
}

const trackedKey = "track:bookings"

// latestIfNewer stores ARGV[3] under field ARGV[1] unless the stored
// timestamp (field ARGV[1]..':ts') is greater than ARGV[2].
var latestIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1] .. ':ts')
if cur and tonumber(cur) > tonumber(ARGV[2]) then
  return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[3], ARGV[1] .. ':ts', ARGV[2])
return 1
`)

type RedisStore struct {
	redis *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{redis: rdb}
}

func historyKey(id types.ID, p Party) string { return "track:" + string(id) + ":hist:" + string(p) }
func latestKey(id types.ID) string            { return "track:" + string(id) + ":latest" }

func (s *RedisStore) Append(ctx context.Context, bookingID types.ID, f Fix, limit int) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	key := historyKey(bookingID, f.Party)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, payload)
		pipe.LTrim(ctx, key, 0, int64(limit-1))
		pipe.SAdd(ctx, trackedKey, string(bookingID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("location: append history: %w", err)
	}
	ts := strconv.FormatInt(f.RecordedAt.UnixNano(), 10)
	if err := latestIfNewer.Run(ctx, s.redis, []string{latestKey(bookingID)}, string(f.Party), ts, payload).Err(); err != nil {
		return fmt.Errorf("location: update latest: %w", err)
	}
	return nil
}

func (s *RedisStore) Latest(ctx context.Context, bookingID types.ID) (Latest, error) {
	var out Latest
	vals, err := s.redis.HMGet(ctx, latestKey(bookingID), string(PartyWorker), string(PartyCustomer)).Result()
	if err != nil {
		return out, err
	}
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var f Fix
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			return out, fmt.Errorf("location: decode latest: %w", err)
		}
		out.set(f)
	}
	return out, nil
}

func (s *RedisStore) History(ctx context.Context, bookingID types.ID, party Party) ([]Fix, error) {
	raw, err := s.redis.LRange(ctx, historyKey(bookingID, party), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Fix, len(raw))
	// LPUSH keeps the newest entry at the head.
	for i, r := range raw {
		var f Fix
		if err := json.Unmarshal([]byte(r), &f); err != nil {
			return nil, fmt.Errorf("location: decode history: %w", err)
		}
		out[len(raw)-1-i] = f
	}
	return out, nil
}

func (s *RedisStore) Purge(ctx context.Context, bookingID types.ID) error {
	pipe := s.redis.TxPipeline()
	pipe.Del(ctx,
		historyKey(bookingID, PartyWorker),
		historyKey(bookingID, PartyCustomer),
		latestKey(bookingID),
	)
	pipe.SRem(ctx, trackedKey, string(bookingID))
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Tracked(ctx context.Context) ([]types.ID, error) {
	ids, err := s.redis.SMembers(ctx, trackedKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]types.ID, len(ids))
	for i, id := range ids {
		out[i] = types.ID(id)
	}
	return out, nil
}
