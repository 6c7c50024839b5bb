package tgflow

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger lets callers plug a custom logging implementation into the
// dispatcher. The default implementation is zap-backed; bring your
// own zap.Logger with NewLoggerWithZap or implement the interface
// outright.
type Logger interface {
	SetLevel(level LogLevel) Logger
	WithPrefix(prefix string) Logger

	Debug(args ...any)
	Info(args ...any)
	Warn(args ...any)
	Error(args ...any)

	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// LogLevel mirrors zapcore's numbering, so the zero value is
// InfoLevel.
type LogLevel int

const (
	DebugLevel LogLevel = iota - 1
	InfoLevel
	WarnLevel
	ErrorLevel
	NoLevel
)

func toZapLevel(level LogLevel) zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	case InfoLevel:
		return zapcore.InfoLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	}
	return zapcore.FatalLevel + 1
}

// NewLogger builds the default console logger writing to stderr.
func NewLogger(level LogLevel) Logger {
	atomic := zap.NewAtomicLevelAt(toZapLevel(level))
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		atomic,
	)
	return &zapLogger{s: zap.New(core).Sugar(), level: atomic}
}

// NewLoggerWithZap adapts a caller-owned zap.Logger.
func NewLoggerWithZap(l *zap.Logger) Logger {
	return &zapLogger{s: l.Sugar(), level: zap.NewAtomicLevelAt(l.Level())}
}

// NewNopLogger discards everything. Handy in tests.
func NewNopLogger() Logger {
	return &zapLogger{s: zap.NewNop().Sugar(), level: zap.NewAtomicLevelAt(zapcore.FatalLevel + 1)}
}

// zapLogger adapts a zap.SugaredLogger to the Logger interface.
type zapLogger struct {
	s     *zap.SugaredLogger
	level zap.AtomicLevel
}

func (l *zapLogger) SetLevel(level LogLevel) Logger {
	l.level.SetLevel(toZapLevel(level))
	return l
}

func (l *zapLogger) WithPrefix(prefix string) Logger {
	return &zapLogger{s: l.s.Named(prefix), level: l.level}
}

func (l *zapLogger) Debug(args ...any) { l.s.Debug(args...) }
func (l *zapLogger) Info(args ...any)  { l.s.Info(args...) }
func (l *zapLogger) Warn(args ...any)  { l.s.Warn(args...) }
func (l *zapLogger) Error(args ...any) { l.s.Error(args...) }

func (l *zapLogger) Debugf(format string, args ...any) { l.s.Debugf(format, args...) }
func (l *zapLogger) Infof(format string, args ...any)  { l.s.Infof(format, args...) }
func (l *zapLogger) Warnf(format string, args ...any)  { l.s.Warnf(format, args...) }
func (l *zapLogger) Errorf(format string, args ...any) { l.s.Errorf(format, args...) }
