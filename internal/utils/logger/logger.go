// Package logger provides the single zap.SugaredLogger used across every
// decoder layer, mirroring the teacher repository's logger.Logger() pattern.
package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	once sync.Once
	base *zap.Logger
	sug  *zap.SugaredLogger
)

func init() {
	once.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.DisableStacktrace = true
		l, err := cfg.Build()
		if err != nil {
			l = zap.NewNop()
		}
		base = l
		sug = base.Sugar()
	})
}

// Logger returns the shared sugared logger instance.
func Logger() *zap.SugaredLogger {
	return sug
}

// Sync flushes any buffered log entries of the shared logger. It does
// nothing if no logger was built.
func Sync() {
	if base != nil {
		_ = base.Sync()
	}
}
