// Package config 基于 viper 加载 harvest 的配置。
//
// 来源优先级从高到低：HARVEST_ 前缀的环境变量、.env、harvest.$HARVEST_ENV.yaml、
// harvest.yaml、DefaultValues。key 中的 "." 在环境变量里写成 "_"，
// 例如 source.base_url 对应 HARVEST_SOURCE_BASE_URL。
//
//	loader, _ := config.New(&config.Config{Name: "harvest"},
//		config.WithDefaults(config.DefaultValues()))
//	app, err := config.LoadApp(ctx, loader)
//
//	// 文件修改后按 key 推送变更，目前只有 log.level 会被热更新
//	ch, _ := loader.Watch(ctx, "log.level")
package config

import (
	"context"
	"time"
)

// Loader 配置加载器
type Loader interface {
	Load(ctx context.Context) error
	Get(key string) any
	Unmarshal(v any) error
	UnmarshalKey(key string, v any) error
	// Watch 在 ctx 结束时关闭返回的 channel
	Watch(ctx context.Context, key string) (<-chan Event, error)
	Validate() error
}

// Event 某个 key 的值发生变化
type Event struct {
	Key       string
	Value     any
	OldValue  any
	Source    string // file 或 env
	Timestamp time.Time
}
