// Package logging builds the zap loggers grove components write to.
package logging

import (
	"io"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"grove/internal/failure"
)

// Config selects level, encoding and an optional rotated log file.
type Config struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // console or json
	// File, when set, receives JSON logs in addition to the console.
	File       string `mapstructure:"file" yaml:"file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// Validate checks level and format without building anything.
func (c Config) Validate() error {
	if _, err := parseLevel(c.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Format) {
	case "", "console", "json":
		return nil
	default:
		return failure.Configf("logging", "unknown log format %q (want console or json)", c.Format)
	}
}

func parseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return lvl, failure.Wrap(failure.ErrConfig, "logging", err, "log level")
	}
	return lvl, nil
}

// New returns a logger writing to console and, when cfg.File is set, to a
// lumberjack-rotated file.
func New(cfg Config, console io.Writer) (*zap.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	lvl, _ := parseLevel(cfg.Level)
	level := zap.NewAtomicLevelAt(lvl)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder(cfg.Format), zapcore.Lock(zapcore.AddSync(console)), level),
	}
	if cfg.File != "" {
		file := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
		cores = append(cores, zapcore.NewCore(encoder("json"), file, level))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zap.ErrorLevel)).Named("grove"), nil
}

func encoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	if strings.EqualFold(format, "json") {
		return zapcore.NewJSONEncoder(ec)
	}
	ec.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(name + ".")
	}
	return zapcore.NewConsoleEncoder(ec)
}
