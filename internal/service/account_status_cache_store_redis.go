package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisAccountStatusCacheStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisAccountStatusCacheStore(client redis.UniversalClient, prefix string) *RedisAccountStatusCacheStore {
	if prefix == "" {
		prefix = "account_status"
	}
	return &RedisAccountStatusCacheStore{client: client, prefix: prefix}
}

func (s *RedisAccountStatusCacheStore) Get(ctx context.Context, userID string) (bool, bool, error) {
	if s.client == nil {
		return false, false, nil
	}
	key, err := s.dataKey(ctx, userID)
	if err != nil {
		return false, false, err
	}
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	blocked, err := strconv.ParseBool(v)
	if err != nil {
		return false, false, err
	}
	return blocked, true, nil
}

func (s *RedisAccountStatusCacheStore) Set(ctx context.Context, userID string, blocked bool, ttl time.Duration) error {
	if s.client == nil || ttl <= 0 {
		return nil
	}
	key, err := s.dataKey(ctx, userID)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, strconv.FormatBool(blocked), ttl).Err()
}

func (s *RedisAccountStatusCacheStore) InvalidateUser(ctx context.Context, userID string) error {
	if s.client == nil {
		return nil
	}
	return s.client.Incr(ctx, s.userEpochKey(userID)).Err()
}

func (s *RedisAccountStatusCacheStore) InvalidateAll(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Incr(ctx, s.globalEpochKey()).Err()
}

func (s *RedisAccountStatusCacheStore) dataKey(ctx context.Context, userID string) (string, error) {
	pipe := s.client.Pipeline()
	globalEpochCmd := pipe.Get(ctx, s.globalEpochKey())
	userEpochCmd := pipe.Get(ctx, s.userEpochKey(userID))
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	globalEpoch, err := parseEpoch(globalEpochCmd)
	if err != nil {
		return "", err
	}
	userEpoch, err := parseEpoch(userEpochCmd)
	if err != nil {
		return "", err
	}
	return s.prefix + ":" + buildAccountStatusCacheKey(globalEpoch, userEpoch, userID), nil
}

func parseEpoch(cmd *redis.StringCmd) (uint64, error) {
	v, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if v == "" {
		return 0, nil
	}
	return strconv.ParseUint(v, 10, 64)
}

func (s *RedisAccountStatusCacheStore) globalEpochKey() string {
	return s.prefix + ":epoch:global"
}

func (s *RedisAccountStatusCacheStore) userEpochKey(userID string) string {
	return s.prefix + ":epoch:user:" + userID
}
