// Package logger provides the zap-based structured logger used across
// the service.
package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// Logger wraps a zap.Logger whose level is chosen at Init time.
type Logger struct {
	Log *zap.Logger
}

// New returns a Logger with a no-op core until Init is called.
func New() *Logger {
	return &Logger{Log: zap.NewNop()}
}

// Init replaces the core with a production logger at the given level.
// Level names are case-insensitive ("debug", "Info", "WARN", ...).
func (l *Logger) Init(level string) error {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	log, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	l.Log = log
	return nil
}
