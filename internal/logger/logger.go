// Package logger builds the zap logger shared by the server and the audit
// consumer.
package logger

import (
	"fmt"

	"github.com/samber/oops"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config describes how to initialise the logger.
// Level:   "debug" | "info" | "warn" | "error" (default "info").
// DevMode: true gives human readable console output, otherwise JSON.
type Config struct {
	Level   string
	DevMode bool
}

func (c *Config) applyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}

// New builds a *zap.Logger from cfg.
func New(cfg Config) (*zap.Logger, error) {
	cfg.applyDefaults()

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("logger: invalid level %q: %w", cfg.Level, err)
	}

	zapCfg := buildZapConfig(cfg.DevMode)
	zapCfg.Level = zap.NewAtomicLevelAt(lvl)

	zl, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logger: build zap: %w", err)
	}
	return zl, nil
}

func buildZapConfig(dev bool) zap.Config {
	if dev {
		cfg := zap.NewDevelopmentConfig()
		ec := &cfg.EncoderConfig
		ec.TimeKey = "ts"
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		ec.CallerKey = "caller"
		ec.EncodeCaller = zapcore.ShortCallerEncoder
		return cfg
	}

	prod := zap.NewProductionConfig()
	prod.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
	ec := &prod.EncoderConfig
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.CallerKey = "caller"
	ec.EncodeCaller = zapcore.ShortCallerEncoder
	ec.StacktraceKey = "stacktrace"
	return prod
}

// LogError logs err at error level. For oops errors the code and context
// are added as separate fields.
func LogError(log *zap.Logger, msg string, err error) {
	fields := []zap.Field{zap.Error(err)}
	if oopsErr, ok := oops.AsOops(err); ok {
		if code := oopsErr.Code(); code != "" {
			fields = append(fields, zap.Any("code", code))
		}
		if ctx := oopsErr.Context(); len(ctx) > 0 {
			fields = append(fields, zap.Any("context", ctx))
		}
	}
	log.Error(msg, fields...)
}
