package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ceyewan/harvest/connector"
	"github.com/ceyewan/harvest/xerrors"
)

// redisBackend 多进程共享的后端，过期由 Redis 负责
type redisBackend struct {
	client *redis.Client
}

func newRedisBackend(conn connector.RedisConnector) (*redisBackend, error) {
	client := conn.GetClient()
	if client == nil {
		return nil, xerrors.Wrap(connector.ErrClientNil, "cache: redis")
	}
	return &redisBackend{client: client}, nil
}

func (b *redisBackend) get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := b.client.Get(ctx, key).Bytes()
	if xerrors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (b *redisBackend) set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return b.client.Set(ctx, key, data, ttl).Err()
}

func (b *redisBackend) delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

func (b *redisBackend) purge(context.Context) (int64, error) {
	return 0, nil
}

// close 客户端由连接器管理
func (b *redisBackend) close() error {
	return nil
}
