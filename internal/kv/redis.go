package kv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the production Store backed by a shared Redis instance.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to redisURL and verifies the connection with PING.
func NewRedis(ctx context.Context, redisURL string) (*Redis, error) {
	trimmed := strings.TrimSpace(redisURL)
	if trimmed == "" {
		return nil, fmt.Errorf("redis URL is required")
	}

	opt, err := redis.ParseURL(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client}, nil
}

func mapRedisErr(err error) error {
	if errors.Is(err, redis.Nil) {
		return ErrNil
	}
	return err
}

func formatScore(score float64) string {
	switch score {
	case NegInf:
		return "-inf"
	case PosInf:
		return "+inf"
	default:
		return strconv.FormatFloat(score, 'f', -1, 64)
	}
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, key).Result()
	return value, mapRedisErr(err)
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, value, ttl).Result()
}

func (r *Redis) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return r.client.Del(ctx, keys...).Result()
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Redis) ZAdd(ctx context.Context, key string, members ...Z) error {
	if len(members) == 0 {
		return nil
	}
	zs := make([]redis.Z, 0, len(members))
	for _, m := range members {
		zs = append(zs, redis.Z{Score: m.Score, Member: m.Member})
	}
	return r.client.ZAdd(ctx, key, zs...).Err()
}

func (r *Redis) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, 0, len(members))
	for _, m := range members {
		args = append(args, m)
	}
	return r.client.ZRem(ctx, key, args...).Err()
}

func (r *Redis) ZScore(ctx context.Context, key, member string) (float64, error) {
	score, err := r.client.ZScore(ctx, key, member).Result()
	return score, mapRedisErr(err)
}

func (r *Redis) ZCard(ctx context.Context, key string) (int64, error) {
	return r.client.ZCard(ctx, key).Result()
}

func (r *Redis) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.client.ZRevRange(ctx, key, start, stop).Result()
}

func (r *Redis) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]Z, error) {
	rows, err := r.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min: formatScore(min),
		Max: formatScore(max),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Z, 0, len(rows))
	for _, row := range rows {
		member, _ := row.Member.(string)
		out = append(out, Z{Score: row.Score, Member: member})
	}
	return out, nil
}

func (r *Redis) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error) {
	return r.client.ZRemRangeByScore(ctx, key, formatScore(min), formatScore(max)).Result()
}

func (r *Redis) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	return r.client.LPush(ctx, key, toAny(values)...).Result()
}

func (r *Redis) RPush(ctx context.Context, key string, values ...string) (int64, error) {
	return r.client.RPush(ctx, key, toAny(values)...).Result()
}

func (r *Redis) LPop(ctx context.Context, key string) (string, error) {
	value, err := r.client.LPop(ctx, key).Result()
	return value, mapRedisErr(err)
}

func (r *Redis) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.client.LRange(ctx, key, start, stop).Result()
}

func (r *Redis) LTrim(ctx context.Context, key string, start, stop int64) error {
	return r.client.LTrim(ctx, key, start, stop).Err()
}

func (r *Redis) LLen(ctx context.Context, key string) (int64, error) {
	return r.client.LLen(ctx, key).Result()
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

func toAny(values []string) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}
