package clog

import (
	"bytes"
	"context"
)

// Option 配置 Logger 的函数式选项
type Option func(*options)

type options struct {
	namespaceParts []string
	contextFields  []contextField
	buffer         *bytes.Buffer
}

type contextField struct {
	key  any
	name string
}

// WithNamespace 追加命名空间段，日志中以 "." 连接输出到 namespace 字段
func WithNamespace(parts ...string) Option {
	return func(o *options) {
		o.namespaceParts = append(o.namespaceParts, parts...)
	}
}

// WithContextField 在 *Context 系列方法中把 ctx.Value(key) 输出为 name 字段。
// operation_id 与 partition 无需注册，见 WithOperationID、WithPartition。
func WithContextField(key any, name string) Option {
	return func(o *options) {
		o.contextFields = append(o.contextFields, contextField{key: key, name: name})
	}
}

func applyOptions(opts ...Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ==================== Context 字段 ====================

type ctxKey int

const (
	operationKey ctxKey = iota
	partitionKey
)

var builtinContextFields = []contextField{
	{key: operationKey, name: "operation_id"},
	{key: partitionKey, name: "partition"},
}

// WithOperationID 返回携带操作 ID 的 ctx，之后的 *Context 日志自动带上 operation_id
func WithOperationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, operationKey, id)
}

// WithPartition 同 WithOperationID，字段名为 partition
func WithPartition(ctx context.Context, partition string) context.Context {
	return context.WithValue(ctx, partitionKey, partition)
}
