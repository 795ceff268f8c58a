// Package logger provides structured logging for the userop-go packages and CLI.
// Loggers are zap production loggers with ISO8601 timestamps; outbound HTTP
// calls to sponsor services can be traced with HttpClientLogger.
package logger

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig holds the configuration for logger creation.
type LoggerConfig struct {
	// Debug enables debug-level logging when true, otherwise uses info level
	Debug bool
}

// NewLogger creates a new structured logger with the specified configuration.
// The logger is configured for production use with JSON encoding and ISO8601 timestamps.
//
// Parameters:
//   - cfg: The logger configuration
//   - options: Additional zap options to apply to the logger
//
// Returns:
//   - *zap.Logger: A configured zap logger instance
//   - error: An error if the logger cannot be created
func NewLogger(cfg *LoggerConfig, options ...zap.Option) (*zap.Logger, error) {
	mergedOptions := []zap.Option{
		zap.WithCaller(true),
	}
	mergedOptions = append(mergedOptions, options...)

	c := zap.NewProductionConfig()
	c.EncoderConfig = zap.NewProductionEncoderConfig()
	c.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if cfg != nil && cfg.Debug {
		c.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		c.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return c.Build(mergedOptions...)
}

type loggingRoundTripper struct {
	next   http.RoundTripper
	logger *zap.Logger
}

// HttpClientLogger wraps an http.RoundTripper so that every outbound request is
// logged with its method, host, path, status and duration. A nil next uses
// http.DefaultTransport.
//
// Parameters:
//   - next: The transport that performs the request
//   - l: The zap logger to use for request logging
//
// Returns:
//   - http.RoundTripper: A transport that logs and delegates to next
func HttpClientLogger(next http.RoundTripper, l *zap.Logger) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &loggingRoundTripper{next: next, logger: l}
}

func (t *loggingRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(r)

	fields := []zap.Field{
		zap.String("system", "http"),
		zap.String("method", r.Method),
		zap.String("host", r.URL.Host),
		zap.String("path", r.URL.Path),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil {
		t.logger.Warn("http_request", append(fields, zap.Error(err))...)
		return nil, err
	}
	t.logger.Debug("http_request", append(fields, zap.Int("status", resp.StatusCode))...)
	return resp, nil
}
