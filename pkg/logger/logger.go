// Package logger 在 slog 之上提供统一字段名的结构化日志。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger 包装 slog.Logger。
type Logger struct {
	*slog.Logger
}

// New 使用给定 handler 创建 Logger；handler 为 nil 时输出文本日志到 stderr。
func New(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewText 创建指定级别的文本日志。
func NewText(w io.Writer, level slog.Level) *Logger {
	return New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewJSON 创建指定级别的 JSON 日志。
func NewJSON(w io.Writer, level slog.Level) *Logger {
	return New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Noop 返回丢弃所有输出的 Logger。
func Noop() *Logger {
	return New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(1000)}))
}

// ParseLevel 解析 debug/info/warn/error，未知值返回 info。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent 添加 component 字段。
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name)}
}

// OrNoop 对 nil 返回 Noop()。
func OrNoop(l *Logger) *Logger {
	if l == nil {
		return Noop()
	}
	return l
}
