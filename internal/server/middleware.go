package server

import (
	"math"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/mailwise/mailwise/internal/auth"
	"github.com/mailwise/mailwise/internal/logging"
)

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// requestLogger logs each request and records HTTP metrics, labeled
// with the chi route pattern to keep metric cardinality bounded.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = r.URL.Path
		}

		s.metrics.RecordHTTPRequest(r.Context(), r.Method, pattern, rec.status, duration)
		s.logger.Info("request",
			"method", r.Method,
			"path", pattern,
			logging.Status(strconv.Itoa(rec.status)),
			logging.Duration(duration),
		)
	})
}

// recoverer converts panics into 500 responses instead of killing the
// connection.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					"panic", rec,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// RateLimiterConfig holds the rate limit settings.
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // authenticated API routes (req/sec)
	GeneralBurst    int           // burst size for API routes
	SendRate        rate.Limit    // outbound email sends (req/sec)
	SendBurst       int           // burst size for sends
	CleanupInterval time.Duration // interval for dropping idle entries
}

// RateLimiterConfigFor builds a config from a per-minute request
// budget. Sends get a quarter of the budget, since a runaway client
// sending mail does more damage than one listing it.
func RateLimiterConfigFor(perMinute int) RateLimiterConfig {
	if perMinute <= 0 {
		perMinute = 120
	}
	sendPerMinute := perMinute / 4
	if sendPerMinute < 1 {
		sendPerMinute = 1
	}

	return RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(perMinute) / 60.0),
		GeneralBurst:    perMinute,
		SendRate:        rate.Limit(float64(sendPerMinute) / 60.0),
		SendBurst:       sendPerMinute,
		CleanupInterval: 5 * time.Minute,
	}
}

// userLimiter pairs a token bucket with its last access time.
type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter enforces per-user limits on authenticated routes. Two
// independent classes exist: a general one for all API traffic and a
// stricter one for sending mail.
type RateLimiter struct {
	config RateLimiterConfig

	generalMu       sync.Mutex
	generalLimiters map[string]*userLimiter

	sendMu       sync.Mutex
	sendLimiters map[string]*userLimiter

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a RateLimiter and starts its background
// cleanup of idle entries. Call Stop when done.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:          config,
		generalLimiters: make(map[string]*userLimiter),
		sendLimiters:    make(map[string]*userLimiter),
		stopCh:          make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop halts the background cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Middleware returns the general rate limit middleware. It must run
// after the authentication guard so the user is on the context.
func (rl *RateLimiter) Middleware() func(next http.Handler) http.Handler {
	return rl.middlewareFor(rl.generalLimiter, "general")
}

// SendMiddleware returns the stricter rate limit middleware for
// sending mail. It stacks on top of the general limit.
func (rl *RateLimiter) SendMiddleware() func(next http.Handler) http.Handler {
	return rl.middlewareFor(rl.sendLimiter, "send")
}

func (rl *RateLimiter) middlewareFor(get func(string) *rate.Limiter, class string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := auth.UserFromContext(r.Context())
			if !ok {
				respondError(w, http.StatusUnauthorized, "missing_credentials", "authentication required")
				return
			}

			if !get(user.ID).Allow() {
				writeRateLimited(w, rl.rateFor(class))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) rateFor(class string) rate.Limit {
	if class == "send" {
		return rl.config.SendRate
	}
	return rl.config.GeneralRate
}

func (rl *RateLimiter) generalLimiter(userID string) *rate.Limiter {
	rl.generalMu.Lock()
	defer rl.generalMu.Unlock()
	return getOrCreate(rl.generalLimiters, userID, rl.config.GeneralRate, rl.config.GeneralBurst)
}

func (rl *RateLimiter) sendLimiter(userID string) *rate.Limiter {
	rl.sendMu.Lock()
	defer rl.sendMu.Unlock()
	return getOrCreate(rl.sendLimiters, userID, rl.config.SendRate, rl.config.SendBurst)
}

func getOrCreate(m map[string]*userLimiter, userID string, r rate.Limit, burst int) *rate.Limiter {
	if ul, ok := m[userID]; ok {
		ul.lastAccess = time.Now()
		return ul.limiter
	}

	limiter := rate.NewLimiter(r, burst)
	m[userID] = &userLimiter{limiter: limiter, lastAccess: time.Now()}
	return limiter
}

// cleanupLoop periodically drops limiter entries for idle users.
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2
	now := time.Now()

	rl.generalMu.Lock()
	for userID, ul := range rl.generalLimiters {
		if now.Sub(ul.lastAccess) > ttl {
			delete(rl.generalLimiters, userID)
		}
	}
	rl.generalMu.Unlock()

	rl.sendMu.Lock()
	for userID, ul := range rl.sendLimiters {
		if now.Sub(ul.lastAccess) > ttl {
			delete(rl.sendLimiters, userID)
		}
	}
	rl.sendMu.Unlock()
}

// writeRateLimited writes a 429 with a Retry-After estimating when the
// next token is available.
func writeRateLimited(w http.ResponseWriter, r rate.Limit) {
	retryAfter := int(math.Ceil(1.0 / float64(r)))
	if retryAfter < 1 {
		retryAfter = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	respondError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "too many requests, retry later")
}
