package cache

import (
	"context"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"

	"github.com/ceyewan/harvest/xerrors"
)

// noExpiry 未指定 TTL 时使用的过期时间（100 年，视为永久）
const noExpiry = 24 * 365 * 100 * time.Hour

// memoryBackend 基于 otter 的进程内后端，存储编码后的字节，读取时总是得到独立副本
type memoryBackend struct {
	cache *otter.Cache[string, []byte]
}

func newMemoryBackend(capacity int) (*memoryBackend, error) {
	c, err := otter.New(&otter.Options[string, []byte]{
		MaximumSize:   capacity,
		StatsRecorder: stats.NewCounter(),
		// 写入过期：过期时间从写入开始计算，读取不会续期
		ExpiryCalculator: otter.ExpiryWriting[string, []byte](noExpiry),
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "failed to build otter cache")
	}
	return &memoryBackend{cache: c}, nil
}

func (b *memoryBackend) get(_ context.Context, key string) ([]byte, bool, error) {
	data, ok := b.cache.GetIfPresent(key)
	return data, ok, nil
}

func (b *memoryBackend) set(_ context.Context, key string, data []byte, ttl time.Duration) error {
	b.cache.Set(key, data)
	if ttl > 0 {
		b.cache.SetExpiresAfter(key, ttl)
	}
	return nil
}

func (b *memoryBackend) delete(_ context.Context, key string) error {
	b.cache.Invalidate(key)
	return nil
}

func (b *memoryBackend) purge(_ context.Context) (int64, error) {
	b.cache.CleanUp()
	return 0, nil
}

func (b *memoryBackend) close() error {
	b.cache.InvalidateAll()
	return nil
}
