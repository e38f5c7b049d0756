package session

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"labubufy-server/modules/common/model"
)

const redisKeyPrefix = "labubufy:session:"

// RedisStore keeps sessions in Redis so in-flight generations survive a
// process restart. Expiry is handled by per-key TTL, so Sweep is a no-op.
type RedisStore struct {
	rdb       *redis.Client
	retention time.Duration
}

// NewRedisStore creates a Redis-backed store with TTL = retention window.
func NewRedisStore(rdb *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, retention: retention}
}

func redisKey(id string) string {
	return redisKeyPrefix + id
}

// Set upserts a whole-record replacement with the retention TTL.
func (s *RedisStore) Set(id string, sess *model.GenerationSession) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(sess)
	if err != nil {
		log.Printf("❌ [Session] Failed to marshal session %s: %v", id, err)
		return
	}

	if err := s.rdb.Set(ctx, redisKey(id), data, s.retention).Err(); err != nil {
		log.Printf("❌ [Session] Redis SET failed for %s: %v", id, err)
	}
}

// Get returns the record, or false when the id is unknown or unreadable.
func (s *RedisStore) Get(id string) (*model.GenerationSession, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := s.rdb.Get(ctx, redisKey(id)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Printf("❌ [Session] Redis GET failed for %s: %v", id, err)
		return nil, false
	}

	var sess model.GenerationSession
	if err := json.Unmarshal(data, &sess); err != nil {
		log.Printf("❌ [Session] Failed to parse session %s: %v", id, err)
		return nil, false
	}
	return &sess, true
}

// Delete removes a record.
func (s *RedisStore) Delete(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.rdb.Del(ctx, redisKey(id)).Err(); err != nil {
		log.Printf("❌ [Session] Redis DEL failed for %s: %v", id, err)
	}
}

// Sweep is a no-op; Redis evicts expired keys via TTL.
func (s *RedisStore) Sweep() int {
	return 0
}

// List scans all live session keys. Used by the background poll driver and
// the metrics endpoint; not on any request hot path.
func (s *RedisStore) List() []*model.GenerationSession {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out []*model.GenerationSession
	iter := s.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var sess model.GenerationSession
		if err := json.Unmarshal(data, &sess); err != nil {
			continue
		}
		out = append(out, &sess)
	}
	if err := iter.Err(); err != nil {
		log.Printf("⚠️  [Session] Redis SCAN error: %v", err)
	}
	return out
}
