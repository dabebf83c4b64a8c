package clog

import (
	"log/slog"
	"time"
)

// Field 即 slog.Attr，调用方不需要感知 zerolog
type Field = slog.Attr

func String(k, v string) Field { return slog.String(k, v) }
func Int(k string, v int) Field { return slog.Int(k, v) }
func Int64(k string, v int64) Field { return slog.Int64(k, v) }
func Float64(k string, v float64) Field { return slog.Float64(k, v) }
func Bool(k string, v bool) Field { return slog.Bool(k, v) }
func Time(k string, v time.Time) Field { return slog.Time(k, v) }
func Any(k string, v any) Field { return slog.Any(k, v) }

// Duration 以 "1.5s" 形式输出
func Duration(k string, v time.Duration) Field { return slog.Duration(k, v) }

// Error 输出 err_msg 字段；err 为 nil 时不输出任何内容
func Error(err error) Field {
	if err == nil {
		return Field{}
	}
	return slog.String("err_msg", err.Error())
}

// ErrorWithCode 输出嵌套的 error={msg, code}，code 通常是错误类别，
// 例如 clog.ErrorWithCode(err, xerrors.KindOf(err).String())。
func ErrorWithCode(err error, code string) Field {
	if err == nil {
		return slog.Group("error", slog.String("code", code))
	}
	return slog.Group("error", slog.String("msg", err.Error()), slog.String("code", code))
}
