package logger

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// rateLimitedLogger drops records once its token bucket is empty and reports
// the number of dropped records on the next one that gets through.
type rateLimitedLogger struct {
	next       Logger
	limiter    *rate.Limiter
	suppressed *atomic.Uint64
}

// NewRateLimited wraps l so that at most burst records are written at once
// and one more every interval after that. Safe to call from audio callbacks.
func NewRateLimited(l Logger, interval time.Duration, burst int) Logger {
	if burst < 1 {
		burst = 1
	}
	return &rateLimitedLogger{
		next:       l,
		limiter:    rate.NewLimiter(rate.Every(interval), burst),
		suppressed: &atomic.Uint64{},
	}
}

func (r *rateLimitedLogger) allow(fields []Field) ([]Field, bool) {
	if !r.limiter.Allow() {
		r.suppressed.Add(1)
		return nil, false
	}
	if n := r.suppressed.Swap(0); n > 0 {
		fields = append(fields, Uint64("suppressed", n))
	}
	return fields, true
}

func (r *rateLimitedLogger) Module(name string) Logger {
	return &rateLimitedLogger{next: r.next.Module(name), limiter: r.limiter, suppressed: r.suppressed}
}

func (r *rateLimitedLogger) Trace(msg string, fields ...Field) {
	r.Log(LogLevelTrace, msg, fields...)
}

func (r *rateLimitedLogger) Debug(msg string, fields ...Field) {
	r.Log(LogLevelDebug, msg, fields...)
}

func (r *rateLimitedLogger) Info(msg string, fields ...Field) {
	r.Log(LogLevelInfo, msg, fields...)
}

func (r *rateLimitedLogger) Warn(msg string, fields ...Field) {
	r.Log(LogLevelWarn, msg, fields...)
}

func (r *rateLimitedLogger) Error(msg string, fields ...Field) {
	r.Log(LogLevelError, msg, fields...)
}

func (r *rateLimitedLogger) Log(level LogLevel, msg string, fields ...Field) {
	fields, ok := r.allow(fields)
	if !ok {
		return
	}
	r.next.Log(level, msg, fields...)
}

func (r *rateLimitedLogger) With(fields ...Field) Logger {
	return &rateLimitedLogger{next: r.next.With(fields...), limiter: r.limiter, suppressed: r.suppressed}
}

func (r *rateLimitedLogger) WithContext(ctx context.Context) Logger {
	return &rateLimitedLogger{next: r.next.WithContext(ctx), limiter: r.limiter, suppressed: r.suppressed}
}

func (r *rateLimitedLogger) Flush() error {
	return r.next.Flush()
}
