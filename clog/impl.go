package clog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// loggerImpl 基于 zerolog 的 Logger 实现
//
// 同一个 New 派生出的所有子 Logger 共享底层 writer 和级别，
// 因此 SetLevel 对整棵 Logger 树生效。
type loggerImpl struct {
	zl        zerolog.Logger
	level     *atomic.Int32
	sink      *sink
	config    *Config
	options   *options
	baseAttrs []Field
}

// sink 持有底层输出，用于 Flush
type sink struct {
	file *os.File
}

func newLogger(config *Config, opts *options) (Logger, error) {
	w, s, err := resolveWriter(config, opts)
	if err != nil {
		return nil, err
	}

	if strings.ToLower(config.Format) == "console" {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: TimeFormat,
			NoColor:    !config.EnableColor,
		}
	}

	lvl, _ := ParseLevel(config.Level)
	level := new(atomic.Int32)
	level.Store(int32(lvl))

	return &loggerImpl{
		zl:      zerolog.New(w).Level(zerolog.TraceLevel).With().Timestamp().Logger(),
		level:   level,
		sink:    s,
		config:  config,
		options: opts,
	}, nil
}

// resolveWriter 根据配置创建输出 writer
func resolveWriter(config *Config, opts *options) (io.Writer, *sink, error) {
	if opts.buffer != nil {
		return opts.buffer, &sink{}, nil
	}
	switch strings.ToLower(config.Output) {
	case "stdout":
		return os.Stdout, &sink{}, nil
	case "stderr":
		return os.Stderr, &sink{}, nil
	}
	if dir := filepath.Dir(config.Output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return f, &sink{file: f}, nil
}

func (l *loggerImpl) Debug(msg string, fields ...Field) {
	l.log(context.Background(), DebugLevel, msg, fields...)
}

func (l *loggerImpl) Info(msg string, fields ...Field) {
	l.log(context.Background(), InfoLevel, msg, fields...)
}

func (l *loggerImpl) Warn(msg string, fields ...Field) {
	l.log(context.Background(), WarnLevel, msg, fields...)
}

func (l *loggerImpl) Error(msg string, fields ...Field) {
	l.log(context.Background(), ErrorLevel, msg, fields...)
}

func (l *loggerImpl) Fatal(msg string, fields ...Field) {
	l.log(context.Background(), FatalLevel, msg, fields...)
}

func (l *loggerImpl) DebugContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, DebugLevel, msg, fields...)
}

func (l *loggerImpl) InfoContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, InfoLevel, msg, fields...)
}

func (l *loggerImpl) WarnContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, WarnLevel, msg, fields...)
}

func (l *loggerImpl) ErrorContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, ErrorLevel, msg, fields...)
}

func (l *loggerImpl) FatalContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, FatalLevel, msg, fields...)
}

func (l *loggerImpl) WithNamespace(parts ...string) Logger {
	opts := *l.options
	opts.namespaceParts = append(append([]string{}, l.options.namespaceParts...), parts...)

	child := *l
	child.options = &opts
	return &child
}

func (l *loggerImpl) With(fields ...Field) Logger {
	child := *l
	child.baseAttrs = append(append(make([]Field, 0, len(l.baseAttrs)+len(fields)), l.baseAttrs...), fields...)
	return &child
}

func (l *loggerImpl) SetLevel(level Level) error {
	if level < DebugLevel || level > FatalLevel {
		return fmt.Errorf("invalid log level: %d", level)
	}
	l.level.Store(int32(level))
	return nil
}

// Flush 对文件输出执行 Sync，其余输出为同步写入无需处理
func (l *loggerImpl) Flush() {
	if l.sink != nil && l.sink.file != nil {
		_ = l.sink.file.Sync()
	}
}

func (l *loggerImpl) log(ctx context.Context, level Level, msg string, fields ...Field) {
	if level < Level(l.level.Load()) {
		return
	}

	ev := l.zl.WithLevel(level.zerolog())
	if ev == nil {
		return
	}

	if len(l.options.namespaceParts) > 0 {
		ev.Str(NamespaceKey, strings.Join(l.options.namespaceParts, "."))
	}
	for _, a := range l.baseAttrs {
		appendAttr(ev, a)
	}
	for _, a := range fields {
		appendAttr(ev, a)
	}
	if ctx != nil {
		appendContext(ev, ctx, builtinContextFields)
		appendContext(ev, ctx, l.options.contextFields)
	}
	if l.config.AddSource {
		// skip: runtime.Caller, log, Info/Error 等
		if _, file, line, ok := runtime.Caller(2); ok {
			ev.Str("caller", fmt.Sprintf("%s:%d", trimSourcePath(file, l.config.SourceRoot), line))
		}
	}
	ev.Msg(msg)

	if level == FatalLevel {
		l.Flush()
		os.Exit(1)
	}
}

// NamespaceKey 日志中命名空间的字段名
const NamespaceKey = "namespace"

// appendAttr 将 slog.Attr 按类型写入 zerolog 事件，Group 映射为嵌套 Dict
func appendAttr(ev *zerolog.Event, a Field) {
	if a.Key == "" {
		return
	}
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		ev.Str(a.Key, v.String())
	case slog.KindInt64:
		ev.Int64(a.Key, v.Int64())
	case slog.KindUint64:
		ev.Uint64(a.Key, v.Uint64())
	case slog.KindFloat64:
		ev.Float64(a.Key, v.Float64())
	case slog.KindBool:
		ev.Bool(a.Key, v.Bool())
	case slog.KindDuration:
		ev.Str(a.Key, v.Duration().String())
	case slog.KindTime:
		ev.Time(a.Key, v.Time())
	case slog.KindGroup:
		dict := zerolog.Dict()
		for _, ga := range v.Group() {
			appendAttr(dict, ga)
		}
		ev.Dict(a.Key, dict)
	default:
		if err, ok := v.Any().(error); ok {
			ev.AnErr(a.Key, err)
			return
		}
		ev.Interface(a.Key, v.Any())
	}
}

func appendContext(ev *zerolog.Event, ctx context.Context, fields []contextField) {
	for _, cf := range fields {
		if v := ctx.Value(cf.key); v != nil {
			ev.Interface(cf.name, v)
		}
	}
}

func trimSourcePath(file, root string) string {
	if root == "" {
		return filepath.Base(file)
	}
	if idx := strings.Index(file, root); idx >= 0 {
		return strings.TrimPrefix(file[idx+len(root):], "/")
	}
	return file
}
