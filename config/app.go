package config

import (
	"context"
	"time"

	"github.com/ceyewan/harvest/clog"
	"github.com/ceyewan/harvest/xerrors"
)

// AppConfig harvest 的类型化配置根
type AppConfig struct {
	Log       clog.Config     `mapstructure:"log"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Cache     CacheConfig     `mapstructure:"cache"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Chunk     ChunkConfig     `mapstructure:"chunk"`
	Parallel  ParallelConfig  `mapstructure:"parallel"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Source    SourceConfig    `mapstructure:"source"`
}

// StorageConfig 进度、熔断状态所在的数据库
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // sqlite | mysql
	Path   string `mapstructure:"path"`   // sqlite 文件路径
	DSN    string `mapstructure:"dsn"`    // mysql DSN
}

// CacheConfig 缓存后端
type CacheConfig struct {
	Backend    string `mapstructure:"backend"`    // sqlite | memory | redis
	Serializer string `mapstructure:"serializer"` // json | msgpack
	Prefix     string `mapstructure:"prefix"`
	Capacity   int    `mapstructure:"capacity"` // memory 后端最大条目数
	RedisAddr  string `mapstructure:"redis_addr"`
	RedisDB    int    `mapstructure:"redis_db"`
}

// RateLimitConfig 全局令牌桶，容量 = HardLimit - Buffer，每 Window 补满一次
type RateLimitConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	HardLimit    int           `mapstructure:"hard_limit"`
	Buffer       int           `mapstructure:"buffer"`
	Window       time.Duration `mapstructure:"window"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// BreakerConfig 熔断器参数
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

// FetchConfig 单次抓取的重试与缓存参数
type FetchConfig struct {
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryMinWait  time.Duration `mapstructure:"retry_min_wait"`
	RetryMaxWait  time.Duration `mapstructure:"retry_max_wait"`
	FreshTTL      time.Duration `mapstructure:"fresh_ttl"`
	StaleTTL      time.Duration `mapstructure:"stale_ttl"`
}

// ChunkConfig 日期分片参数
type ChunkConfig struct {
	MaxDays  int           `mapstructure:"max_days"`
	StateTTL time.Duration `mapstructure:"state_ttl"`
}

// ParallelConfig 并行编排参数
type ParallelConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	MaxWorkers int  `mapstructure:"max_workers"`
}

// MetricsConfig 指标导出
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// SourceConfig HTTP 数据源
type SourceConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Token      string        `mapstructure:"token"`
	Timeout    time.Duration `mapstructure:"timeout"`
	PerPage    int           `mapstructure:"per_page"`
	MaxPages   int           `mapstructure:"max_pages"`
	IDField    string        `mapstructure:"id_field"`
	TimeField  string        `mapstructure:"time_field"`
	ItemsField string        `mapstructure:"items_field"`
}

// DefaultValues 所有配置项的默认值（点分 key）
func DefaultValues() map[string]any {
	return map[string]any{
		"log.level":  "info",
		"log.format": "console",
		"log.output": "stderr",

		"storage.driver": "sqlite",
		"storage.path":   "harvest.db",
		"storage.dsn":    "",

		"cache.backend":    "sqlite",
		"cache.serializer": "json",
		"cache.prefix":     "harvest:",
		"cache.capacity":   10000,
		"cache.redis_addr": "127.0.0.1:6379",
		"cache.redis_db":   0,

		"ratelimit.enabled":       true,
		"ratelimit.hard_limit":    5000,
		"ratelimit.buffer":        100,
		"ratelimit.window":        time.Hour,
		"ratelimit.poll_interval": 100 * time.Millisecond,

		"breaker.failure_threshold": 5,
		"breaker.cooldown":          60 * time.Second,

		"fetch.retry_attempts": 3,
		"fetch.retry_min_wait": 4 * time.Second,
		"fetch.retry_max_wait": 10 * time.Second,
		"fetch.fresh_ttl":      time.Hour,
		"fetch.stale_ttl":      168 * time.Hour,

		"chunk.max_days":  7,
		"chunk.state_ttl": 30 * 24 * time.Hour,

		"parallel.enabled":     true,
		"parallel.max_workers": 5,

		"metrics.enabled": false,
		"metrics.port":    9090,
		"metrics.path":    "/metrics",

		"source.base_url":    "",
		"source.token":       "",
		"source.timeout":     60 * time.Second,
		"source.per_page":    100,
		"source.max_pages":   10,
		"source.id_field":    "id",
		"source.time_field":  "timestamp",
		"source.items_field": "items",
	}
}

// LoadApp 加载并校验 AppConfig
func LoadApp(ctx context.Context, l Loader) (*AppConfig, error) {
	if err := l.Load(ctx); err != nil {
		return nil, WrapLoadError(err, "load sources")
	}
	var app AppConfig
	if err := l.Unmarshal(&app); err != nil {
		return nil, xerrors.Wrap(xerrors.Join(xerrors.ErrInvalidInput, err), "decode config")
	}
	if err := app.Validate(); err != nil {
		return nil, err
	}
	return &app, nil
}

// Validate 校验必须满足的约束，失败时返回 ErrInvalidInput
func (c *AppConfig) Validate() error {
	invalid := func(msg string) error { return xerrors.Wrap(xerrors.ErrInvalidInput, msg) }

	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.Path == "" {
			return invalid("storage.path is required for sqlite")
		}
	case "mysql":
		if c.Storage.DSN == "" {
			return invalid("storage.dsn is required for mysql")
		}
	default:
		return invalid("storage.driver must be sqlite or mysql")
	}
	switch c.Cache.Backend {
	case "sqlite", "memory", "redis":
	default:
		return invalid("cache.backend must be sqlite, memory or redis")
	}
	if c.RateLimit.Enabled && c.RateLimit.HardLimit-c.RateLimit.Buffer <= 0 {
		return invalid("ratelimit.hard_limit must exceed ratelimit.buffer")
	}
	if c.Breaker.FailureThreshold < 1 {
		return invalid("breaker.failure_threshold must be >= 1")
	}
	if c.Chunk.MaxDays < 1 {
		return invalid("chunk.max_days must be >= 1")
	}
	if c.Parallel.MaxWorkers < 1 {
		return invalid("parallel.max_workers must be >= 1")
	}
	if c.Fetch.RetryAttempts < 1 {
		return invalid("fetch.retry_attempts must be >= 1")
	}
	return nil
}
