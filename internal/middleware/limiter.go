package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"postengine/internal/config"
	"postengine/internal/telemetry"

	"golang.org/x/time/rate"
)

// Class is the kind of traffic a request is charged to. Each class has
// its own allowance, so image traffic cannot starve API writes and
// writes, which may fetch remote images, cannot flood the database.
type Class string

const (
	ClassRead   Class = "read"
	ClassWrite  Class = "write"
	ClassImages Class = "images"
)

// Classify charges /images to ClassImages and everything else by method.
func Classify(r *http.Request) Class {
	if r.URL.Path == "/images" || strings.HasPrefix(r.URL.Path, "/images/") {
		return ClassImages
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ClassRead
	}
	return ClassWrite
}

const (
	sweepEvery = time.Minute
	idleAfter  = 3 * time.Minute
)

type bucketKey struct {
	class  Class
	client string
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client and Class.
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[bucketKey]*bucket
	allowances map[Class]config.Allowance
	clientAddr clientAddrFunc
	metrics    *telemetry.Metrics
	now        func() time.Time
}

// NewRateLimiter starts a limiter whose idle buckets are swept until ctx
// is done.
func NewRateLimiter(ctx context.Context, cfg config.RateLimiterConfig, trustedProxy bool, metrics *telemetry.Metrics) *RateLimiter {
	l := &RateLimiter{
		buckets: make(map[bucketKey]*bucket),
		allowances: map[Class]config.Allowance{
			ClassRead:   cfg.Read,
			ClassWrite:  cfg.Write,
			ClassImages: cfg.Images,
		},
		clientAddr: clientAddrResolver(trustedProxy),
		metrics:    metrics,
		now:        time.Now,
	}

	go l.sweep(ctx)
	return l
}

func (l *RateLimiter) sweep(ctx context.Context) {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evictIdle()
		}
	}
}

func (l *RateLimiter) evictIdle() {
	cutoff := l.now().Add(-idleAfter)

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

func (l *RateLimiter) limiter(key bucketKey) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		a := l.allowances[key.class]
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(a.RPS), a.Burst)}
		l.buckets[key] = b
	}
	b.lastSeen = l.now()
	return b.limiter
}

func (l *RateLimiter) Middleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr := l.clientAddr(r)
			if !addr.IsValid() {
				http.Error(w, "invalid ip address", http.StatusBadRequest)
				return
			}

			class := Classify(r)
			burst := strconv.Itoa(l.allowances[class].Burst)
			key := bucketKey{class: class, client: clientKey(addr)}
			limiter := l.limiter(key)

			if !limiter.Allow() {
				// peek at the next token without consuming it
				reservation := limiter.Reserve()
				delay := reservation.Delay()
				reservation.Cancel()

				l.metrics.RecordRateLimited(r.Context(), string(class))
				LoggerFrom(r.Context(), logger).Debug("rate limited", "class", class, "client", key.client)

				w.Header().Set("Retry-After", strconv.Itoa(max(1, int(delay.Seconds()))))
				w.Header().Set("X-RateLimit-Limit", burst)
				w.Header().Set("X-RateLimit-Remaining", "0")

				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			w.Header().Set("X-RateLimit-Limit", burst)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(limiter.Tokens())))
			next.ServeHTTP(w, r)
		})
	}
}
