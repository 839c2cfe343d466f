package rtlog

import "github.com/joeycumines/logiface"

// logifaceSink adapts rtlog.Entry records onto a logiface.Logger, for
// embedders already standardised on logiface (e.g. via logiface-zerolog or
// logiface-slog) that want runtime diagnostics folded into the same
// pipeline instead of a second, unrelated sink.
type logifaceSink struct {
	logger *logiface.Logger[logiface.Event]
}

// NewLogifaceSink wraps logger as an rtlog.Logger.
func NewLogifaceSink(logger *logiface.Logger[logiface.Event]) Logger {
	return &logifaceSink{logger: logger}
}

func (s *logifaceSink) IsEnabled(level Level) bool {
	return s.logger.Level() >= toLogifaceLevel(level)
}

func (s *logifaceSink) Log(entry Entry) {
	b := s.logger.Build(toLogifaceLevel(entry.Level))
	if b == nil {
		return
	}
	b = b.Str("category", entry.Category)
	if entry.Err != nil {
		b = b.Err(entry.Err)
	}
	for k, v := range entry.Context {
		b = b.Any(k, v)
	}
	b.Log(entry.Message)
}

func toLogifaceLevel(level Level) logiface.Level {
	switch level {
	case LevelDebug:
		return logiface.LevelDebug
	case LevelInfo:
		return logiface.LevelInformational
	case LevelWarn:
		return logiface.LevelWarning
	case LevelError:
		return logiface.LevelError
	default:
		return logiface.LevelInformational
	}
}
