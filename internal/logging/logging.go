// Package logging provides structured logging with zap and a runtime switch
// for request logging.
package logging

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

const (
	loggerKey    contextKey = "logger"
	requestIDKey contextKey = "request_id"

	HeaderRequestID = "X-Request-ID"
)

// Config holds logging configuration.
type Config struct {
	Level   string // debug, info, warn, error
	Format  string // json, console
	Enabled bool   // start with request logging on
}

// Logger owns the zap logger and its level. While disabled only warnings and
// errors get through; enabling restores the configured level.
type Logger struct {
	zap     *zap.Logger
	level   zap.AtomicLevel
	target  atomic.Int32 // zapcore.Level used while enabled
	enabled atomic.Bool
}

// New builds a logger writing to stderr.
func New(cfg Config) (*Logger, error) {
	var enc zapcore.Encoder
	if cfg.Format == "json" {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	return build(cfg, func(level zap.AtomicLevel) (zapcore.Core, error) {
		return zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level), nil
	})
}

// Wrap puts the level switch in front of an existing core.
func Wrap(core zapcore.Core, cfg Config) (*Logger, error) {
	return build(cfg, func(level zap.AtomicLevel) (zapcore.Core, error) {
		return zapcore.NewIncreaseLevelCore(core, level)
	})
}

func build(cfg Config, newCore func(zap.AtomicLevel) (zapcore.Core, error)) (*Logger, error) {
	target := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := target.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
	}
	l := &Logger{level: zap.NewAtomicLevelAt(target)}
	l.target.Store(int32(target))
	core, err := newCore(l.level)
	if err != nil {
		return nil, fmt.Errorf("logging core: %w", err)
	}
	l.zap = zap.New(core)
	l.SetEnabled(cfg.Enabled)
	return l, nil
}

// Zap returns the underlying logger for handing to other packages.
func (l *Logger) Zap() *zap.Logger { return l.zap }

func (l *Logger) Named(name string) *zap.Logger { return l.zap.Named(name) }

func (l *Logger) Enabled() bool { return l.enabled.Load() }

func (l *Logger) SetEnabled(on bool) {
	l.enabled.Store(on)
	target := zapcore.Level(l.target.Load())
	if !on && target < zapcore.WarnLevel {
		target = zapcore.WarnLevel
	}
	l.level.SetLevel(target)
}

// Toggle flips request logging and returns the new state.
func (l *Logger) Toggle() bool {
	on := !l.Enabled()
	l.SetEnabled(on)
	// printed even when disabled so the operator sees the switch
	l.zap.Warn("logging toggled", zap.Bool("enabled", on))
	return on
}

// SetLevel changes the level used while logging is enabled.
func (l *Logger) SetLevel(level string) error {
	var lv zapcore.Level
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		return err
	}
	l.target.Store(int32(lv))
	l.SetEnabled(l.Enabled())
	return nil
}

func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// FromContext returns the request-scoped logger stored by Middleware, or fallback.
func FromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return fallback
}

// RequestID returns the request ID from context.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Middleware tags every request with an X-Request-ID and logs it when it
// completes. Server errors are logged regardless of the switch.
func (l *Logger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		logger := l.zap.With(zap.String("request_id", requestID))
		ctx := context.WithValue(r.Context(), loggerKey, logger)
		ctx = context.WithValue(ctx, requestIDKey, requestID)
		r = r.WithContext(ctx)

		w.Header().Set(HeaderRequestID, requestID)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("size", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", fields...)
			return
		}
		logger.Info("request", fields...)
	})
}
