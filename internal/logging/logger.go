// Package logging adapts the teacher stack's zap+lumberjack logger into a
// non-global-singleton form, so the foreground (producer) and stepper
// (consumer) goroutines can each carry their own named, goroutine-tagged
// child logger instead of sharing one package-level *zap.Logger.
package logging

import (
	"os"

	"github.com/natefinch/lumberjack"
	"github.com/petermattis/goid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level int8

const (
	DebugLevel Level = iota - 1
	InfoLevel
	WarnLevel
	ErrorLevel
)

// Options configures New, mirroring the teacher's InitLogger parameter list.
type Options struct {
	Level        Level
	LogFile      string // empty disables the file core
	SupportColor bool
	MaxSizeMB    int
	MaxBackups   int
	MaxAgeDays   int
}

// Logger wraps a *zap.Logger with a component name, used as a prefix field
// on every line so producer- and consumer-side log lines are easy to tell
// apart in a single stream.
type Logger struct {
	z *zap.Logger
}

func encoder(supportColor bool) zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		MessageKey:       "message",
		LevelKey:         "level",
		TimeKey:          "time",
		CallerKey:        "caller",
		EncodeTime:       zapcore.ISO8601TimeEncoder,
		EncodeCaller:     zapcore.ShortCallerEncoder,
		ConsoleSeparator: " ",
	}
	if supportColor {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return zapcore.NewConsoleEncoder(cfg)
}

// New builds a root Logger with a console core and, when opts.LogFile is
// set, a size/age-rotated file core teed alongside it.
func New(opts Options) *Logger {
	enc := encoder(opts.SupportColor)
	level := zapcore.Level(opts.Level)

	cores := []zapcore.Core{zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level)}
	if opts.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.LogFile,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			LocalTime:  true,
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(lj), level))
	}

	z := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
	return &Logger{z: z}
}

// Named returns a child logger tagged with a component name, e.g. "builder"
// or "stepper", for the foreground/consumer split the concurrency model
// describes.
func (l *Logger) Named(component string) *Logger {
	return &Logger{z: l.z.Named(component)}
}

// withGoroutine attaches the calling goroutine's id, the same
// petermattis/goid-based tagging the teacher stack uses for its greenlets.
func (l *Logger) withGoroutine() *zap.SugaredLogger {
	return l.z.Sugar().With("gid", uint64(goid.Get()))
}

func (l *Logger) Infof(format string, args ...interface{})  { l.withGoroutine().Infof(format, args...) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.withGoroutine().Debugf(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.withGoroutine().Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.withGoroutine().Errorf(format, args...) }

func (l *Logger) Sync() error { return l.z.Sync() }

// CatchPanic recovers a panic in the calling goroutine, logging it with its
// goroutine id before letting the process continue. Grounded on
// common/utils/sys.CatchPanic; narrowed to just the recover-and-log
// behavior this module needs, without the message-string special-casing the
// teacher's version carries for its own printer-specific error strings.
func (l *Logger) CatchPanic() {
	if r := recover(); r != nil {
		l.withGoroutine().Errorf("recovered panic: %v", r)
	}
}
