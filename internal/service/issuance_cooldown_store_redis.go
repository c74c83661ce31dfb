package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisIssuanceCooldownStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisIssuanceCooldownStore(client redis.UniversalClient, prefix string) *RedisIssuanceCooldownStore {
	if prefix == "" {
		prefix = "video_token_cooldown"
	}
	return &RedisIssuanceCooldownStore{client: client, prefix: prefix}
}

func (s *RedisIssuanceCooldownStore) Get(ctx context.Context, userID, videoID string) (*CachedIssuance, bool, error) {
	if s.client == nil {
		return nil, false, nil
	}
	raw, err := s.client.Get(ctx, s.dataKey(userID, videoID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var issued CachedIssuance
	if err := json.Unmarshal(raw, &issued); err != nil {
		// unreadable entries behave as a miss and are overwritten on the next issue
		return nil, false, nil
	}
	return &issued, true, nil
}

func (s *RedisIssuanceCooldownStore) Set(ctx context.Context, userID, videoID string, issued CachedIssuance, ttl time.Duration) error {
	if s.client == nil || ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(issued)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.dataKey(userID, videoID), payload, ttl).Err()
}

func (s *RedisIssuanceCooldownStore) dataKey(userID, videoID string) string {
	sum := sha256.Sum256([]byte(cooldownKey(userID, videoID)))
	return fmt.Sprintf("%s:data:%s", s.prefix, strings.ToLower(hex.EncodeToString(sum[:16])))
}
