// Package logging builds the process-wide zap logger. Lines go to an
// append-only JSON file under the logs directory plus human-readable console
// output. Components take a named child logger and tag every line with
// submission_id and phase fields so the external viewer can filter.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a logger writing to <logsDir>/pipeline.log and stderr.
func New(logsDir string, debug bool) (*zap.Logger, error) {
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory '%s': %w", logsDir, err)
	}

	logPath := filepath.Join(logsDir, "pipeline.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file '%s': %w", logPath, err)
	}

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	fileEnc := zap.NewProductionEncoderConfig()
	fileEnc.TimeKey = "ts"
	fileEnc.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleEnc := zap.NewDevelopmentEncoderConfig()
	consoleEnc.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(fileEnc), zapcore.AddSync(f), level),
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEnc), zapcore.AddSync(os.Stderr), level),
	)

	return zap.New(core), nil
}

// NewNop returns a no-op logger for tests.
func NewNop() *zap.Logger {
	return zap.NewNop()
}
