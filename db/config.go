package db

import (
	"time"

	"github.com/ceyewan/harvest/xerrors"
)

// Config DB 组件配置
type Config struct {
	// Driver 数据库驱动类型: "sqlite" 或 "mysql"，默认 "sqlite"
	Driver string `json:"driver" yaml:"driver" mapstructure:"driver"`

	// SlowThreshold 慢查询阈值，默认 200ms；负数关闭 SQL 日志
	SlowThreshold time.Duration `json:"slow_threshold" yaml:"slow_threshold" mapstructure:"slow_threshold"`
}

func (c *Config) setDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.SlowThreshold == 0 {
		c.SlowThreshold = 200 * time.Millisecond
	}
}

func (c *Config) validate() error {
	if c.Driver != "mysql" && c.Driver != "sqlite" {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "unsupported driver: %s (must be 'mysql' or 'sqlite')", c.Driver)
	}
	return nil
}
