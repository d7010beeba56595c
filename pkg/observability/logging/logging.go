// Package logging builds the process-wide zap logger and hands out
// component-scoped logr.Logger handles, the same shape every package in
// this module (reqctx.Context, pipeline.Pipeline, the reload watcher)
// threads through as its logger.
package logging

import (
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var base *zap.Logger

func init() {
	base = newBaseLogger(os.Getenv("WASM_SHIM_LOG_LEVEL"))
}

func newBaseLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// zap.NewProductionConfig().Build() only fails on a malformed
		// sink URL, which this module never configures.
		panic(err)
	}
	return l
}

// New returns a logr.Logger scoped to name, e.g. "pipeline" or
// "httpfilter", nested under the process-wide zap logger.
func New(name string) logr.Logger {
	return zapr.NewLogger(base.Named(name))
}

// SetLevel rebuilds the process-wide base logger at level. Loggers already
// returned by New keep their previous level; only later New calls see it.
func SetLevel(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}
	l, err := newBaseLoggerAtLevel(lvl)
	if err != nil {
		return err
	}
	base = l
	return nil
}

func newBaseLoggerAtLevel(lvl zapcore.Level) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build(zap.AddCallerSkip(1))
}

// Sync flushes any buffered log entries; call before process exit.
func Sync() error {
	return base.Sync()
}
