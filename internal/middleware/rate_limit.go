package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/in2out/mattermost-s-mcp/internal/metrics"
	"github.com/in2out/mattermost-s-mcp/pkg/observability"
)

// RateLimitConfig defines tool-call rate limiting for MCP sessions
type RateLimitConfig struct {
	// Global limits (all sessions)
	GlobalRPS   float64 `mapstructure:"global_rps"`
	GlobalBurst int     `mapstructure:"global_burst"`

	// Per-session limits
	SessionRPS   float64 `mapstructure:"session_rps"`
	SessionBurst int     `mapstructure:"session_burst"`

	// Cleanup
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	MaxAge          time.Duration `mapstructure:"max_age"`
}

// DefaultRateLimitConfig returns the default limits
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		GlobalRPS:       20,
		GlobalBurst:     40,
		SessionRPS:      2,
		SessionBurst:    10,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          1 * time.Hour,
	}
}

// rateLimiterEntry holds a rate limiter and its metadata
type rateLimiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed    bool
	LimitType  string // "global", "session" or "none"
	RetryAfter time.Duration
}

// RateLimiter limits tools/call requests per session and overall. A zero
// rate disables the corresponding limit.
type RateLimiter struct {
	config    RateLimitConfig
	limiters  map[string]*rateLimiterEntry
	mu        sync.Mutex
	logger    observability.Logger
	metrics   *metrics.Metrics
	globalRL  *rate.Limiter
	stopClean chan struct{}
	closed    bool
	closeMu   sync.Mutex
	wg        sync.WaitGroup
}

// NewRateLimiter creates a rate limiter and starts its cleanup routine.
// Close must be called to stop it.
func NewRateLimiter(config RateLimitConfig, logger observability.Logger, metricsCollector *metrics.Metrics) *RateLimiter {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultRateLimitConfig().CleanupInterval
	}

	rl := &RateLimiter{
		config:    config,
		limiters:  make(map[string]*rateLimiterEntry),
		logger:    logger,
		metrics:   metricsCollector,
		stopClean: make(chan struct{}),
	}
	if config.GlobalRPS > 0 {
		rl.globalRL = rate.NewLimiter(rate.Limit(config.GlobalRPS), config.GlobalBurst)
	}

	rl.wg.Add(1)
	go rl.cleanupRoutine()

	return rl
}

// CheckRateLimit decides whether sessionID may run toolName now
func (rl *RateLimiter) CheckRateLimit(sessionID, toolName string) *RateLimitResult {
	if rl.globalRL != nil && !rl.globalRL.Allow() {
		rl.recordRateLimitHit("global", sessionID, toolName)
		return &RateLimitResult{LimitType: "global", RetryAfter: retryAfter(rl.config.GlobalRPS)}
	}

	if rl.config.SessionRPS > 0 && sessionID != "" {
		if !rl.getLimiter(sessionID).Allow() {
			rl.recordRateLimitHit("session", sessionID, toolName)
			return &RateLimitResult{LimitType: "session", RetryAfter: retryAfter(rl.config.SessionRPS)}
		}
	}

	return &RateLimitResult{Allowed: true, LimitType: "none"}
}

// Remove forgets the limiter of a closed session
func (rl *RateLimiter) Remove(sessionID string) {
	rl.mu.Lock()
	delete(rl.limiters, sessionID)
	rl.mu.Unlock()
}

// getLimiter gets or creates the limiter for a session
func (rl *RateLimiter) getLimiter(sessionID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if entry, exists := rl.limiters[sessionID]; exists {
		entry.lastAccess = time.Now()
		return entry.limiter
	}

	limiter := rate.NewLimiter(rate.Limit(rl.config.SessionRPS), rl.config.SessionBurst)
	rl.limiters[sessionID] = &rateLimiterEntry{
		limiter:    limiter,
		lastAccess: time.Now(),
	}
	return limiter
}

// cleanupRoutine periodically cleans up old limiters
func (rl *RateLimiter) cleanupRoutine() {
	defer rl.wg.Done()

	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopClean:
			return
		}
	}
}

// cleanup removes limiters of sessions idle for longer than MaxAge
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, entry := range rl.limiters {
		if now.Sub(entry.lastAccess) > rl.config.MaxAge {
			delete(rl.limiters, key)
		}
	}

	rl.logger.Debug("Rate limiter cleanup completed", map[string]interface{}{
		"remaining_limiters": len(rl.limiters),
	})
}

// recordRateLimitHit records a rate limit hit metric
func (rl *RateLimiter) recordRateLimitHit(limitType, sessionID, toolName string) {
	rl.metrics.RecordRateLimited()

	rl.logger.Warn("Rate limit exceeded", map[string]interface{}{
		"limit_type": limitType,
		"session_id": sessionID,
		"tool_name":  toolName,
	})
}

// Len returns the number of tracked session limiters
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Close stops the cleanup routine. It is safe to call more than once.
func (rl *RateLimiter) Close() {
	rl.closeMu.Lock()
	defer rl.closeMu.Unlock()

	if rl.closed {
		return
	}

	close(rl.stopClean)
	rl.wg.Wait()
	rl.closed = true

	rl.logger.Info("Rate limiter shutdown complete", map[string]interface{}{
		"total_limiters": rl.Len(),
	})
}

func retryAfter(rps float64) time.Duration {
	if rps <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / rps)
}
