// Package logging provides structured logging for the fiscal transaction
// core, built on logrus. The queue worker's per-item log lines carry the
// tenant and queue-item id they concern so operators can follow one
// submission's path through the worker; the device id is not attached.
package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Level is the minimum severity a logger emits.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config configures a new logger instance.
type Config struct {
	Level   Level
	Format  string // "json" or "text"
	Service string
}

// DefaultConfig returns sensible defaults: info level, text format.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Format: "text", Service: "fiscalcore"}
}

// New creates a configured logrus.Logger.
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()

	switch cfg.Level {
	case LevelDebug:
		logger.SetLevel(logrus.DebugLevel)
	case LevelWarn:
		logger.SetLevel(logrus.WarnLevel)
	case LevelError:
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339, FullTimestamp: true})
	}

	return logger
}

// Context wraps a logrus logger with a fixed set of base fields, chained
// via WithField/WithFields the way a caller threads tenant/device context
// through a pipeline run.
type Context struct {
	logger *logrus.Logger
	fields logrus.Fields
}

// NewContext creates a Context with an initial field set.
func NewContext(logger *logrus.Logger, fields map[string]interface{}) *Context {
	if logger == nil {
		logger = New(DefaultConfig())
	}
	base := make(logrus.Fields, len(fields))
	for k, v := range fields {
		base[k] = v
	}
	return &Context{logger: logger, fields: base}
}

// WithField returns a derived Context with one additional field.
func (c *Context) WithField(key string, value interface{}) *Context {
	return c.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a derived Context with additional fields merged in.
func (c *Context) WithFields(fields map[string]interface{}) *Context {
	merged := make(logrus.Fields, len(c.fields)+len(fields))
	for k, v := range c.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Context{logger: c.logger, fields: merged}
}

// WithError returns a derived Context with the error attached.
func (c *Context) WithError(err error) *Context {
	return c.WithField("error", err.Error())
}

func (c *Context) Debug(msg string) { c.logger.WithFields(c.fields).Debug(msg) }
func (c *Context) Info(msg string)  { c.logger.WithFields(c.fields).Info(msg) }
func (c *Context) Warn(msg string)  { c.logger.WithFields(c.fields).Warn(msg) }
func (c *Context) Error(msg string) { c.logger.WithFields(c.fields).Error(msg) }

// Debugf/Infof/Warnf/Errorf are the formatted counterparts.
func (c *Context) Debugf(format string, args ...interface{}) {
	c.logger.WithFields(c.fields).Debugf(format, args...)
}
func (c *Context) Infof(format string, args ...interface{}) {
	c.logger.WithFields(c.fields).Infof(format, args...)
}
func (c *Context) Warnf(format string, args ...interface{}) {
	c.logger.WithFields(c.fields).Warnf(format, args...)
}
func (c *Context) Errorf(format string, args ...interface{}) {
	c.logger.WithFields(c.fields).Errorf(format, args...)
}

// Duration logs how long an operation took.
func Duration(ctx *Context, operation string) func() {
	start := time.Now()
	return func() {
		ctx.WithFields(map[string]interface{}{
			"operation":   operation,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("operation completed")
	}
}
