// Package cache 提供带 TTL 的键值缓存组件。
//
// cache 在三种后端上提供同一套 Get/Set 语义，值经过序列化后存储：
//   - sqlite（默认）：基于 db 组件的 cache_entries 表，进程重启后仍然可用，
//     分片状态与抓取结果都依赖这一点实现断点续传
//   - memory：基于 otter 的进程内缓存，适合测试或一次性运行
//   - redis：多个进程共享的缓存
//
// 基本使用：
//
//	c, _ := cache.New(&cache.Config{
//	    Backend:    "sqlite",
//	    Prefix:     "harvest:",
//	    Serializer: "json",
//	}, cache.WithDB(database), cache.WithLogger(logger))
//
//	_ = c.Set(ctx, "chunk_state:octo/repo:2024-01-01:2024-01-31:all", state, 720*time.Hour)
//
//	var state chunk.State
//	found, err := c.Get(ctx, "chunk_state:octo/repo:2024-01-01:2024-01-31:all", &state)
//
// 未命中不是错误：Get 返回 found=false。
package cache

import (
	"context"
	"time"

	"github.com/ceyewan/harvest/cache/serializer"
	"github.com/ceyewan/harvest/clog"
	"github.com/ceyewan/harvest/metrics"
	"github.com/ceyewan/harvest/xerrors"
)

// Cache 定义了缓存组件的核心能力
type Cache interface {
	// Get 读取 key 并解码到 dest，未命中或已过期时 found 为 false
	Get(ctx context.Context, key string, dest any) (found bool, err error)

	// Set 写入 key，ttl <= 0 表示不过期
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Delete 删除 key，不存在时不报错
	Delete(ctx context.Context, key string) error

	// Purge 清理已过期的条目，返回清理数量；后端自行过期时返回 0
	Purge(ctx context.Context) (int64, error)

	// Close 释放后端资源，不关闭借用的连接器
	Close() error
}

// backend 各存储后端只处理已编码的字节
type backend interface {
	get(ctx context.Context, key string) ([]byte, bool, error)
	set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	delete(ctx context.Context, key string) error
	purge(ctx context.Context) (int64, error)
	close() error
}

// New 根据配置创建缓存实例
//
// sqlite 后端需要 WithDB，redis 后端需要 WithRedisConnector。
func New(cfg *Config, opts ...Option) (Cache, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opt := options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(&opt)
	}

	s, err := serializer.New(cfg.Serializer)
	if err != nil {
		return nil, err
	}

	var b backend
	switch cfg.Backend {
	case BackendSQLite:
		if opt.database == nil {
			return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "cache: sqlite backend requires WithDB")
		}
		b, err = newSQLBackend(opt.database, opt.now)
	case BackendMemory:
		b, err = newMemoryBackend(cfg.Capacity)
	case BackendRedis:
		if opt.redisConn == nil {
			return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "cache: redis backend requires WithRedisConnector")
		}
		b, err = newRedisBackend(opt.redisConn)
	}
	if err != nil {
		return nil, err
	}

	requests, err := opt.meter.Counter(MetricRequestsTotal, "缓存读取次数")
	if err != nil {
		return nil, err
	}

	opt.logger.Debug("cache created",
		clog.String("backend", cfg.Backend),
		clog.String("serializer", s.Name()),
		clog.String("prefix", cfg.Prefix))

	return &cache{
		backend:    b,
		serializer: s,
		prefix:     cfg.Prefix,
		logger:     opt.logger,
		requests:   requests,
	}, nil
}

type cache struct {
	backend    backend
	serializer serializer.Serializer
	prefix     string
	logger     clog.Logger
	requests   metrics.Counter
}

func (c *cache) key(key string) string {
	return c.prefix + key
}

func (c *cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, found, err := c.backend.get(ctx, c.key(key))
	if err != nil {
		c.requests.Inc(ctx, metrics.L(metrics.LabelOutcome, metrics.OutcomeError))
		return false, xerrors.Wrapf(err, "cache get %s", key)
	}
	if !found {
		c.requests.Inc(ctx, metrics.L(metrics.LabelOutcome, OutcomeMiss))
		return false, nil
	}
	if err := c.serializer.Unmarshal(data, dest); err != nil {
		// 无法解码的旧数据按未命中处理，由调用方重新写入
		c.logger.Warn("cache entry undecodable, treating as miss",
			clog.String("key", key),
			clog.Error(err))
		c.requests.Inc(ctx, metrics.L(metrics.LabelOutcome, OutcomeMiss))
		return false, nil
	}
	c.requests.Inc(ctx, metrics.L(metrics.LabelOutcome, OutcomeHit))
	return true, nil
}

func (c *cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := c.serializer.Marshal(value)
	if err != nil {
		return xerrors.Wrapf(err, "cache encode %s", key)
	}
	if err := c.backend.set(ctx, c.key(key), data, ttl); err != nil {
		return xerrors.Wrapf(err, "cache set %s", key)
	}
	return nil
}

func (c *cache) Delete(ctx context.Context, key string) error {
	if err := c.backend.delete(ctx, c.key(key)); err != nil {
		return xerrors.Wrapf(err, "cache delete %s", key)
	}
	return nil
}

func (c *cache) Purge(ctx context.Context) (int64, error) {
	n, err := c.backend.purge(ctx)
	if err != nil {
		return 0, xerrors.Wrap(err, "cache purge")
	}
	if n > 0 {
		c.logger.Info("expired cache entries purged", clog.Int64("count", n))
	}
	return n, nil
}

func (c *cache) Close() error {
	return c.backend.close()
}
