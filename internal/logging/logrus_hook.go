package logging

import (
	"context"
	"log/slog"

	"github.com/sirupsen/logrus"
)

// SlogHook forwards logrus entries to a slog logger, so component logs reach
// the OTLP exporter alongside the lifecycle events.
type SlogHook struct {
	logger *slog.Logger
	levels []logrus.Level
}

// NewSlogHook forwards entries at minLevel or more severe.
func NewSlogHook(logger *slog.Logger, minLevel logrus.Level) *SlogHook {
	levels := make([]logrus.Level, 0, len(logrus.AllLevels))
	for _, l := range logrus.AllLevels {
		if l <= minLevel {
			levels = append(levels, l)
		}
	}
	return &SlogHook{logger: logger, levels: levels}
}

func (h *SlogHook) Levels() []logrus.Level {
	return h.levels
}

func (h *SlogHook) Fire(entry *logrus.Entry) error {
	args := make([]any, 0, len(entry.Data)*2)
	for k, v := range entry.Data {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		args = append(args, k, v)
	}
	ctx := entry.Context
	if ctx == nil {
		ctx = context.Background()
	}
	h.logger.Log(ctx, slogLevel(entry.Level), entry.Message, args...)
	return nil
}

func slogLevel(level logrus.Level) slog.Level {
	switch level {
	case logrus.TraceLevel, logrus.DebugLevel:
		return slog.LevelDebug
	case logrus.InfoLevel:
		return slog.LevelInfo
	case logrus.WarnLevel:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
