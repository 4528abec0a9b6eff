// Package api provides HTTP handlers and middleware for the gateway's
// external interfaces (spec.md §6): webhook ingress, device registry,
// sync push/pull, the real-time session, and recommendation pulls.
//
// =============================================================================
// OPERATION LOGGING CONVENTIONS
// =============================================================================
// All operation logs MUST use snake_case field names.
//
// Canonical Fields:
//
//	action      - Operation type: ingest, webhook, sync, device_command, recommend
//	user_id     - Caller's user identifier
//	device_id   - Caller's device identifier
//	component   - Originating package: api, syncstore, device, reco, webhook
//	duration_ms - Operation timing in milliseconds
//	error       - Error message (for ERROR level logs)
//
// Usage Examples:
//
//	// Successful operation
//	slog.Info("webhook accepted",
//	    "action", "webhook",
//	    "platform", platform,
//	    "component", "api",
//	    "duration_ms", elapsed.Milliseconds(),
//	)
//
//	// Failed operation
//	slog.Error("recommendation pull failed",
//	    "action", "recommend",
//	    "user_id", userID,
//	    "error", err.Error(),
//	    "component", "api",
//	)
//
// =============================================================================
package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// GetRequestID extracts the request ID from context.
// Returns empty string if no request ID is present.
func GetRequestID(ctx context.Context) string {
	return middleware.GetReqID(ctx)
}

// logLevelForStatus returns the appropriate log level based on HTTP status code.
func logLevelForStatus(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// extractBearerToken extracts the token from Authorization header.
// Returns empty string for missing/malformed headers.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}

	// Must start with "Bearer " (case-sensitive per RFC 6750)
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}

	return strings.TrimSpace(auth[len(prefix):])
}

// constantTimeEqual compares two strings using constant-time comparison
// to prevent timing attacks.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// AuthMiddleware validates the gateway's single shared Bearer API key
// using constant-time comparison (spec.md §6 "auth: {api_key}" is a lone,
// env-scoped credential, not per-user). Returns 401 RFC 7807 Problem
// Details on auth failure. MUST NOT include expected API key in logs or
// responses.
func AuthMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if !constantTimeEqual(token, apiKey) {
				slog.Warn("auth failure",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_ip", r.RemoteAddr,
				)
				WriteProblem(w, r, http.StatusUnauthorized, "Missing or invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserContextMiddleware extracts the caller's user_id (required) and
// device_id (optional) from request headers and attaches them to the
// request context. The gateway has no per-user auth token (see
// AuthMiddleware's doc comment), so caller identity travels as
// client-asserted headers the same way the teacher carried a path-derived
// store_id rather than an authenticated principal.
func UserContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			WriteProblem(w, r, http.StatusBadRequest, "X-User-ID header is required")
			return
		}
		ctx := WithUserID(r.Context(), userID)
		if deviceID := r.Header.Get("X-Device-ID"); deviceID != "" {
			ctx = WithDeviceID(ctx, deviceID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs HTTP requests with structured fields.
// Emits log at INFO for 2xx/3xx, WARN for 4xx, ERROR for 5xx.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		level := logLevelForStatus(wrapped.statusCode)
		slog.Log(r.Context(), level, "request completed",
			"request_id", GetRequestID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RecoveryMiddleware catches panics and returns 500 Problem Details.
// Panic details are logged but never exposed to the client.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				slog.Error("panic recovered",
					"error", recovered,
					"stack", string(debug.Stack()),
					"path", r.URL.Path,
					"method", r.Method,
				)
				WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// TierRateLimiter rate-limits requests against one of
// internal/config.RateLimitTiers via an internal/integrity.Guard,
// generalizing the teacher's hardcoded DeleteRateLimiter (one fixed
// token bucket for DELETE /lore/{id}) to the gateway's multiple
// configured tiers, keyed per caller.
type TierRateLimiter struct {
	guard RateLimitGuard
	tier  string
}

// RateLimitGuard is the narrow internal/integrity.Guard capability this
// middleware needs.
type RateLimitGuard interface {
	CheckRateLimit(tier, endpoint, principal string) error
}

// NewTierRateLimiter builds a TierRateLimiter for one configured tier.
func NewTierRateLimiter(guard RateLimitGuard, tier string) *TierRateLimiter {
	return &TierRateLimiter{guard: guard, tier: tier}
}

// Middleware returns an HTTP middleware that rate-limits requests by
// caller (X-User-ID, falling back to remote address) within rl's tier.
func (rl *TierRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := r.Header.Get("X-User-ID")
		if principal == "" {
			principal = r.RemoteAddr
		}
		if err := rl.guard.CheckRateLimit(rl.tier, r.URL.Path, principal); err != nil {
			slog.Warn("rate limit exceeded",
				"path", r.URL.Path,
				"method", r.Method,
				"principal", principal,
				"tier", rl.tier,
				"request_id", GetRequestID(r.Context()),
			)
			w.Header().Set("Retry-After", "1")
			WriteAppError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// DeleteRateLimiter provides rate limiting for destructive operations
// that have no per-tier configuration of their own (e.g. command
// dispatch), kept verbatim from the teacher: a simple token bucket,
// refilling at a fixed rate.
type DeleteRateLimiter struct {
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
	mu         sync.Mutex
}

// NewDeleteRateLimiter creates a rate limiter allowing maxTokens
// operations, refilling one token per refillRate duration.
func NewDeleteRateLimiter(maxTokens int, refillRate time.Duration) *DeleteRateLimiter {
	return &DeleteRateLimiter{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Middleware returns an HTTP middleware that rate-limits requests.
// Returns 429 Too Many Requests when rate limit is exceeded.
func (rl *DeleteRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow() {
			slog.Warn("rate limit exceeded",
				"path", r.URL.Path,
				"method", r.Method,
				"remote_addr", r.RemoteAddr,
				"request_id", GetRequestID(r.Context()),
			)
			w.Header().Set("Retry-After", "1")
			WriteProblem(w, r, http.StatusTooManyRequests,
				"Rate limit exceeded. Please retry after the indicated interval.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allow checks if a request is allowed under the rate limit.
func (rl *DeleteRateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Refill tokens based on elapsed time
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill)
	tokensToAdd := int(elapsed / rl.refillRate)
	if tokensToAdd > 0 {
		rl.tokens = min(rl.tokens+tokensToAdd, rl.maxTokens)
		rl.lastRefill = now
	}

	// Check if we have tokens available
	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}
