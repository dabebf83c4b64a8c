package cache

import "github.com/ceyewan/harvest/xerrors"

// 后端类型
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config 缓存组件统一配置
type Config struct {
	// Backend 存储后端: "sqlite" | "memory" | "redis" (默认 "sqlite")
	Backend string `json:"backend" yaml:"backend" mapstructure:"backend"`

	// Prefix 全局 Key 前缀 (e.g., "harvest:")
	Prefix string `json:"prefix" yaml:"prefix" mapstructure:"prefix"`

	// Serializer "json" | "msgpack"
	Serializer string `json:"serializer" yaml:"serializer" mapstructure:"serializer"`

	// Capacity memory 后端的最大条目数（默认：10000）
	Capacity int `json:"capacity" yaml:"capacity" mapstructure:"capacity"`
}

func (c *Config) setDefaults() {
	if c.Backend == "" {
		c.Backend = BackendSQLite
	}
	if c.Serializer == "" {
		c.Serializer = "json"
	}
	if c.Capacity <= 0 {
		c.Capacity = 10000
	}
}

func (c *Config) validate() error {
	switch c.Backend {
	case BackendSQLite, BackendMemory, BackendRedis:
		return nil
	default:
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "cache: unknown backend %q", c.Backend)
	}
}
