package logging

import (
	"log"
	"log/slog"
	"os"
	"strings"
)

var (
	level  = new(slog.LevelVar) // dynamic level, see SetLevel
	Logger = newLogger()
)

func newLogger() *slog.Logger {
	level.Set(parseLevel(os.Getenv("LOG_LEVEL")))

	var handler slog.Handler
	if os.Getenv("LOG_FORMAT") == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

// Shortcut helpers
var (
	Info  = Logger.Info
	Error = Logger.Error
	Warn  = Logger.Warn
	Debug = Logger.Debug
)

// Fatal logs at error level and terminates the process.
func Fatal(msg string, args ...any) {
	Logger.Error(msg, args...)
	os.Exit(1)
}

// SetLevel changes the level of the shared logger at runtime.
func SetLevel(name string) {
	level.Set(parseLevel(name))
}

// With returns a child logger carrying the given attributes.
func With(args ...any) *slog.Logger {
	return Logger.With(args...)
}

// WrapSlog adapts the shared logger to a *log.Logger for libraries that only
// accept the standard logger (goburrow/modbus handlers). Output goes out at
// debug level.
func WrapSlog(args ...any) *log.Logger {
	return slog.NewLogLogger(Logger.With(args...).Handler(), slog.LevelDebug)
}

func parseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
