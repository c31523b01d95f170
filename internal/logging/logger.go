// Package logging builds the process logger and the optional external log
// mirror.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options control logger construction.
type Options struct {
	Level   string
	Verbose bool
	// FilePath enables a rotating file sink alongside the console.
	FilePath string
}

// New builds a console logger, optionally teed into a rotating file.
func New(opts Options) *zap.Logger {
	level := zapcore.InfoLevel
	if opts.Verbose {
		level = zapcore.DebugLevel
	}
	if opts.Level != "" {
		if parsed, err := zapcore.ParseLevel(opts.Level); err == nil {
			level = parsed
		}
	}

	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.Lock(os.Stderr),
		level,
	)

	if opts.FilePath == "" {
		return zap.New(consoleCore)
	}

	fileEncoderCfg := zap.NewProductionEncoderConfig()
	fileEncoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(fileEncoderCfg),
		zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     14,
		}),
		level,
	)

	return zap.New(zapcore.NewTee(consoleCore, fileCore))
}

// Nop returns a discard logger for tests and embedders that bring their own.
func Nop() *zap.Logger { return zap.NewNop() }
