package engine

import (
	"context"
	"log/slog"
)

// Channel tags a diagnostic line.
type Channel int

const (
	ChannelRuntime Channel = iota + 1
)

func (c Channel) String() string {
	switch c {
	case ChannelRuntime:
		return "runtime"
	default:
		return "unknown"
	}
}

// Sink records script diagnostics. Recording is best effort.
type Sink interface {
	PrintOutput(env Environment, ch Channel, text string)
}

// LogSink writes script diagnostics to a slog.Logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink over logger, or over slog.Default() when logger is nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) PrintOutput(env Environment, ch Channel, text string) {
	level := slog.LevelInfo
	if ch == ChannelRuntime {
		level = slog.LevelError
	}
	attrs := []slog.Attr{slog.String("channel", ch.String())}
	if env != nil {
		attrs = append(attrs,
			slog.String("env_type", env.Type()),
			slog.Uint64("env_id", env.ID()),
		)
	}
	s.logger.LogAttrs(context.Background(), level, text, attrs...)
}
