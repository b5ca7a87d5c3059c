package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the key/value logger used across scoutbatch. Fields are passed
// as alternating keys and values.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	With(fields ...interface{}) Logger
	Named(name string) Logger
	Sync() error
}

type Config struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	AddCaller  bool   `mapstructure:"add_caller"`
	Stacktrace bool   `mapstructure:"stacktrace"`
}

// New builds a zap-backed Logger. An unknown level means info. If the
// output cannot be opened the logger writes JSON to stderr instead.
func New(cfg Config) Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Encoding:          "json",
		EncoderConfig:     encoderConfig(cfg.Format),
		OutputPaths:       []string{sinkFor(cfg.Output)},
		ErrorOutputPaths:  []string{errorSinkFor(cfg.Output)},
		DisableCaller:     !cfg.AddCaller,
		DisableStacktrace: !cfg.Stacktrace,
		Sampling:          &zap.SamplingConfig{Initial: 100, Thereafter: 100},
	}
	if cfg.Format == "console" {
		zc.Encoding = "console"
	}

	base, err := zc.Build(zap.AddCallerSkip(1))
	if err != nil {
		core := zapcore.NewCore(zapcore.NewJSONEncoder(zc.EncoderConfig), zapcore.Lock(os.Stderr), zc.Level)
		base = zap.New(core, zap.AddCallerSkip(1))
	}
	return wrap(base)
}

func NewNop() Logger {
	return wrap(zap.NewNop())
}

func wrap(l *zap.Logger) Logger {
	return &sugared{s: l.Sugar()}
}

func encoderConfig(format string) zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "time"
	ec.EncodeCaller = zapcore.ShortCallerEncoder
	if format == "console" {
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return ec
	}
	ec.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	return ec
}

func sinkFor(output string) string {
	if output == "" {
		return "stdout"
	}
	return output
}

// errorSinkFor keeps zap's own errors next to file output and on stderr
// otherwise.
func errorSinkFor(output string) string {
	switch output {
	case "", "stdout", "stderr":
		return "stderr"
	}
	return output
}

type sugared struct {
	s *zap.SugaredLogger
}

func (l *sugared) Debug(msg string, fields ...interface{}) { l.s.Debugw(msg, fields...) }
func (l *sugared) Info(msg string, fields ...interface{}) { l.s.Infow(msg, fields...) }
func (l *sugared) Warn(msg string, fields ...interface{}) { l.s.Warnw(msg, fields...) }
func (l *sugared) Error(msg string, fields ...interface{}) { l.s.Errorw(msg, fields...) }

// Fatal exits the process after logging.
func (l *sugared) Fatal(msg string, fields ...interface{}) { l.s.Fatalw(msg, fields...) }

func (l *sugared) With(fields ...interface{}) Logger {
	return &sugared{s: l.s.With(fields...)}
}

func (l *sugared) Named(name string) Logger {
	return &sugared{s: l.s.Named(name)}
}

func (l *sugared) Sync() error {
	return l.s.Sync()
}
