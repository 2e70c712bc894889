package handles

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	fieldContentType = "content_type"
	fieldData        = "data"
)

// RedisStore keeps each blob in a Redis hash under "<prefix><handle>". A TTL bounds how
// long an unreleased handle can outlive a crashed process.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	logger *zap.Logger
	retry  retryPolicy
}

// NewRedisStore wraps a go-redis client. An empty prefix defaults to "handle:".
func NewRedisStore(client redis.Cmdable, prefix string, logger *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = "handle:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger.Named("redis_store"),
		retry:  defaultRetry,
	}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) Put(ctx context.Context, key string, blob Blob, ttl time.Duration) error {
	return s.retry.do(ctx, s.logger, "handles.redis.put", key, func() error {
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.key(key), fieldContentType, blob.ContentType, fieldData, blob.Data)
			if ttl > 0 {
				pipe.Expire(ctx, s.key(key), ttl)
			}
			return nil
		})
		return err
	})
}

func (s *RedisStore) Get(ctx context.Context, key string) (Blob, error) {
	var blob Blob
	err := s.retry.do(ctx, s.logger, "handles.redis.get", key, func() error {
		fields, err := s.client.HGetAll(ctx, s.key(key)).Result()
		if err != nil {
			return err
		}
		data, ok := fields[fieldData]
		if !ok {
			return ErrNotFound
		}
		blob = Blob{ContentType: fields[fieldContentType], Data: []byte(data)}
		return nil
	})
	if err != nil {
		return Blob{}, err
	}
	return blob, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.retry.do(ctx, s.logger, "handles.redis.delete", key, func() error {
		return s.client.Del(ctx, s.key(key)).Err()
	})
}
