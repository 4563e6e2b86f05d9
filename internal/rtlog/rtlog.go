// Package rtlog provides the process-wide structured logger.
package rtlog

import (
	"io"
	"log/slog"
	"os"
)

// Log is the process-wide logger. Init replaces it; until Init is called
// it defaults to an info-level stdout logger so packages can log during
// tests without a panic on a nil logger.
var Log = slog.New(slog.NewTextHandler(os.Stdout, nil))

// Init configures the global logger. level is one of
// "debug", "info", "warn", "error" (default "info"). When logFile is
// non-empty, log lines are written to both stdout and that file.
func Init(level string, logFile string) error {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	writers := []io.Writer{os.Stdout}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		writers = append(writers, f)
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format("15:04:05"))
			}
			return a
		},
	})

	Log = slog.New(handler)
	slog.SetDefault(Log)
	return nil
}

func Debug(msg string, args ...any) { Log.Debug(msg, args...) }
func Info(msg string, args ...any)  { Log.Info(msg, args...) }
func Warn(msg string, args ...any)  { Log.Warn(msg, args...) }
func Error(msg string, args ...any) { Log.Error(msg, args...) }
