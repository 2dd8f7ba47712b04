// Package logging wraps zap with the small keyed-field interface the
// engine's Solver and Stepper use for per-iteration diagnostics, grounded
// on viamrobotics-rdk/logging/logging.go's NewLogger/NewTestLogger split.
// Leaf numerical packages (dense, echelon, saddle, ...) never log directly;
// only Solver and Stepper hold a Logger.
package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the keyed-field logging interface used across the engine.
type Logger interface {
	Debugw(msg string, kv ...interface{})
	Infow(msg string, kv ...interface{})
	Warnw(msg string, kv ...interface{})
	Errorw(msg string, kv ...interface{})
}

type impl struct {
	z *zap.SugaredLogger
}

func (l *impl) Debugw(msg string, kv ...interface{}) { l.z.Debugw(msg, kv...) }
func (l *impl) Infow(msg string, kv ...interface{})  { l.z.Infow(msg, kv...) }
func (l *impl) Warnw(msg string, kv ...interface{})  { l.z.Warnw(msg, kv...) }
func (l *impl) Errorw(msg string, kv ...interface{}) { l.z.Errorw(msg, kv...) }

func config() zap.Config {
	return zap.Config{
		Level:    zap.NewAtomicLevelAt(zap.InfoLevel),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			MessageKey:     "msg",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
	}
}

// NewLogger returns a console logger at Info level, named for the
// component that owns it (e.g. "optima.solver").
func NewLogger(name string) Logger {
	cfg := config()
	z, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return &impl{z: z.Named(name).Sugar()}
}

// NewDebugLogger is NewLogger but at Debug level, used when the outer loop
// wants per-iteration tracing.
func NewDebugLogger(name string) Logger {
	cfg := config()
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	z, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return &impl{z: z.Named(name).Sugar()}
}

// NewTestLogger returns a Debug-level logger that writes through t.Logf,
// so solver diagnostics land in `go test -v` output instead of stdout.
func NewTestLogger(tb testing.TB) Logger {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(config().EncoderConfig),
		zapcore.AddSync(&testWriter{tb}),
		zap.DebugLevel,
	)
	return &impl{z: zap.New(core).Sugar()}
}

type testWriter struct{ tb testing.TB }

func (w *testWriter) Write(p []byte) (int, error) {
	w.tb.Logf("%s", p)
	return len(p), nil
}

// Noop returns a Logger that discards everything, the Solver's default
// when no logger is supplied.
func Noop() Logger { return noop{} }

type noop struct{}

func (noop) Debugw(string, ...interface{}) {}
func (noop) Infow(string, ...interface{})  {}
func (noop) Warnw(string, ...interface{})  {}
func (noop) Errorw(string, ...interface{}) {}
