package control

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultLogLines is how many log lines Status keeps.
const DefaultLogLines = 50

// LogBuffer keeps the most recent log lines for the status view.
type LogBuffer struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

// NewLogBuffer creates a buffer holding size lines.
func NewLogBuffer(size int) *LogBuffer {
	if size <= 0 {
		size = DefaultLogLines
	}
	return &LogBuffer{lines: make([]string, size)}
}

// Write stores one encoded entry. zapcore writes each entry in a single call.
func (b *LogBuffer) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\n")
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines[b.next] = line
	b.next = (b.next + 1) % len(b.lines)
	if b.next == 0 {
		b.full = true
	}
	return len(p), nil
}

// Sync implements zapcore.WriteSyncer.
func (b *LogBuffer) Sync() error { return nil }

// Lines returns the buffered lines, oldest first.
func (b *LogBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.full {
		return append([]string(nil), b.lines[:b.next]...)
	}
	out := make([]string, 0, len(b.lines))
	out = append(out, b.lines[b.next:]...)
	return append(out, b.lines[:b.next]...)
}

// Core returns a console-encoded core that writes into the buffer.
func (b *LogBuffer) Core(level zapcore.LevelEnabler) zapcore.Core {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("15:04:05"))
	}
	encoderConfig.CallerKey = ""
	encoderConfig.NameKey = ""
	encoderConfig.StacktraceKey = ""
	encoderConfig.ConsoleSeparator = " "
	return zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), b, level)
}

// Tee returns a logger that also writes Info and above into the buffer.
func (b *LogBuffer) Tee(logger *zap.Logger) *zap.Logger {
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, b.Core(zapcore.InfoLevel))
	}))
}
