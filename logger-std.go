//go:build !tinygo

package dw1000

import (
	"context"
	"log"
	"log/slog"
)

func init() {
	globalLogger = stdLogger{}
}

// stdLogger writes through the standard library log package.
type stdLogger struct{}

func (stdLogger) Debug(msg string) { log.Print("[DEBUG] " + msg) }
func (stdLogger) Info(msg string)  { log.Print("[INFO]  " + msg) }
func (stdLogger) Warn(msg string)  { log.Print("[WARN]  " + msg) }
func (stdLogger) Error(msg string) { log.Print("[ERROR] " + msg) }

// NewSlogLogger adapts a structured logger. Messages are emitted with a
// "component=dw1000" attribute. A nil l uses slog.Default().
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return slogLogger{l: l.With(slog.String("component", "dw1000"))}
}

type slogLogger struct {
	l *slog.Logger
}

func (s slogLogger) Debug(msg string) { s.l.Log(context.Background(), slog.LevelDebug, msg) }
func (s slogLogger) Info(msg string)  { s.l.Log(context.Background(), slog.LevelInfo, msg) }
func (s slogLogger) Warn(msg string)  { s.l.Log(context.Background(), slog.LevelWarn, msg) }
func (s slogLogger) Error(msg string) { s.l.Log(context.Background(), slog.LevelError, msg) }
