// Package logctx provides the per-subsystem logging facade used throughout
// connectord. It follows the lnd convention of one named logger per package
// (ltndLog, srvrLog, rpcsLog, ...) but backs every logger with a single
// shared zap core so that all subsystems emit structured, leveled output.
package logctx

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	backendMu  sync.Mutex
	backend    *zap.Logger
	loggers    = make(map[string]*zap.SugaredLogger)
	levelAtom  = zap.NewAtomicLevelAt(zap.InfoLevel)
)

// SetLevel adjusts the verbosity of every logger created through this
// package, including those already handed out. Valid values mirror the
// LOG_LEVEL config option: debug, info, warn, error.
func SetLevel(level string) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zap.InfoLevel
	}
	levelAtom.SetLevel(lvl)
}

func sharedBackend() *zap.Logger {
	backendMu.Lock()
	defer backendMu.Unlock()

	if backend != nil {
		return backend
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.Lock(os.Stderr),
		levelAtom,
	)
	backend = zap.New(core)
	return backend
}

// Logger returns the named subsystem logger, creating it on first use. The
// subsystem tag is attached as a structured field so log aggregation can
// filter by component (e.g. "PIPE", "SETL", "BRTK", matching lnd's
// four-letter subsystem tags).
func Logger(subsystem string) *zap.SugaredLogger {
	backendMu.Lock()
	if l, ok := loggers[subsystem]; ok {
		backendMu.Unlock()
		return l
	}
	backendMu.Unlock()

	l := sharedBackend().With(zap.String("subsystem", subsystem)).Sugar()

	backendMu.Lock()
	loggers[subsystem] = l
	backendMu.Unlock()
	return l
}
