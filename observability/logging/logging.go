package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// levelEnv selects the minimum severity emitted; unset or unrecognized
// values mean info.
const levelEnv = "CTFADAPTER_LOG_LEVEL"

// Setup configures the process-wide logger to emit structured JSON on stdout
// and returns it. Every line carries the service name and, when provided,
// the deployment environment.
func Setup(service, env string) *slog.Logger {
	logger := newLogger(os.Stdout, service, env)
	slog.SetDefault(logger)
	return logger
}

func newLogger(w io.Writer, service, env string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: levelFromEnv(),
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			// Rename the core keys for the log pipeline.
			switch attr.Key {
			case slog.TimeKey:
				attr.Key = "timestamp"
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				attr.Key = "message"
			}
			return attr
		},
	})

	args := []any{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		args = append(args, slog.String("env", env))
	}
	return slog.New(handler).With(args...)
}

func levelFromEnv() slog.Level {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(levelEnv))) {
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
