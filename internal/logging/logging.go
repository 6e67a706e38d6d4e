// Package logging constructs the process-wide logr.Logger sink: zap for
// production use, a simple development config for local runs. It plays
// the role logf.SetLogger plays in a kubebuilder main.go, minus the
// controller-runtime dependency.
package logging

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls how the root logger is built.
type Options struct {
	// Development enables human-readable console output and debug level;
	// off by default for a JSON production logger.
	Development bool
	// Level is the minimum enabled level name: "debug", "info", "warn",
	// "error". Empty defaults to "info" (or "debug" in Development mode).
	Level string
}

// New builds the root logr.Logger according to opts.
func New(opts Options) (logr.Logger, error) {
	var zcfg zap.Config
	if opts.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	level, err := parseLevel(opts.Level, opts.Development)
	if err != nil {
		return logr.Logger{}, err
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	zl, err := zcfg.Build()
	if err != nil {
		return logr.Logger{}, fmt.Errorf("logging: build zap logger: %w", err)
	}
	return zapr.NewLogger(zl), nil
}

func parseLevel(name string, development bool) (zapcore.Level, error) {
	if name == "" {
		if development {
			return zapcore.DebugLevel, nil
		}
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.Set(name); err != nil {
		return 0, fmt.Errorf("logging: invalid level %q: %w", name, err)
	}
	return lvl, nil
}
