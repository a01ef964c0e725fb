package utils

import (
	"fmt"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// SetupLogging installs the default logger: text on stderr and, when logPath
// is set, JSON lines appended to that file. The returned func closes the file.
func SetupLogging(debug bool, logPath string) (func() error, error) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	stderr := slog.NewTextHandler(os.Stderr, opts)

	if logPath == "" {
		slog.SetDefault(slog.New(stderr))
		return func() error { return nil }, nil
	}

	logFile, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	jsonHandler := slog.NewJSONHandler(logFile, &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
	})
	slog.SetDefault(slog.New(slogmulti.Fanout(stderr, jsonHandler)))
	return logFile.Close, nil
}
