package clog

import "bytes"

// withBuffer 把输出重定向到 buf，仅测试使用
func withBuffer(buf *bytes.Buffer) Option {
	return func(o *options) { o.buffer = buf }
}
