package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	once     sync.Once
	instance *zap.Logger
)

// Init initializes the singleton logger with the given configuration.
// It is idempotent: only the first call has any effect. Call it at the
// start of the application (main.go).
func Init(cfg Config) {
	once.Do(func() {
		instance = build(cfg)
	})
}

// L returns the singleton logger. If Init() was never called, a default
// dev/info logger is created.
func L() *zap.Logger {
	if instance == nil {
		Init(Config{Env: "dev", Level: "info"})
	}
	return instance
}

// Named returns a logger with a component name attached.
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// With returns a logger with extra persistent fields.
func With(fields ...zap.Field) *zap.Logger {
	return L().With(fields...)
}

// Sync flushes any buffered entries. Call with defer in main.go.
func Sync() error {
	if instance != nil {
		return instance.Sync()
	}
	return nil
}
