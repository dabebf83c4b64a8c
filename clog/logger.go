// Package clog 是基于 zerolog 的结构化日志组件。
//
// 字段类型是 slog.Attr，调用方不依赖 zerolog。每个组件通过 WithNamespace
// 派生自己的子 Logger，SetLevel 作用于同一个 New 派生出的整棵树。
//
//	logger, _ := clog.New(&clog.Config{Level: "info", Format: "console", Output: "stdout"},
//	    clog.WithNamespace("harvest"))
//	ctx = clog.WithOperationID(ctx, id)
//	logger.WithNamespace("chunk").InfoContext(ctx, "chunk completed", clog.Int("items", n))
package clog

import "context"

// Logger 结构化日志接口
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	// *Context 版本额外输出 ctx 中的 operation_id、partition 以及 WithContextField 注册的字段
	DebugContext(ctx context.Context, msg string, fields ...Field)
	InfoContext(ctx context.Context, msg string, fields ...Field)
	WarnContext(ctx context.Context, msg string, fields ...Field)
	ErrorContext(ctx context.Context, msg string, fields ...Field)
	FatalContext(ctx context.Context, msg string, fields ...Field)

	// With 返回带固定字段的子 Logger
	With(fields ...Field) Logger
	// WithNamespace 在当前命名空间后追加
	WithNamespace(parts ...string) Logger

	SetLevel(level Level) error
	Flush()
}
