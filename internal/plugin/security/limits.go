package security

import (
	"sync"
	"time"
)

// Limits defines resource limits applied to each plugin.
type Limits struct {
	// Maximum time a single boundary crossing may stay pending.
	// Zero disables the timeout.
	CallTimeout time.Duration

	// Maximum network requests per second; zero means unlimited.
	NetworkReqPerSecond int

	// Maximum response body size returned by http.fetch.
	MaxResponseBytes int64

	// Timeout for one outbound HTTP request.
	FetchTimeout time.Duration
}

// DefaultLimits returns sensible default limits.
func DefaultLimits() Limits {
	return Limits{
		CallTimeout:         30 * time.Second,
		NetworkReqPerSecond: 10,
		MaxResponseBytes:    1 * 1024 * 1024, // 1 MB
		FetchTimeout:        15 * time.Second,
	}
}

// StrictLimits returns stricter limits for untrusted plugins.
func StrictLimits() Limits {
	return Limits{
		CallTimeout:         5 * time.Second,
		NetworkReqPerSecond: 1,
		MaxResponseBytes:    256 * 1024, // 256 KB
		FetchTimeout:        5 * time.Second,
	}
}

// Cap returns l with every limit lowered to at most ceiling. A zero
// CallTimeout or NetworkReqPerSecond means unlimited and is replaced by
// the cap.
func (l Limits) Cap(ceiling Limits) Limits {
	l.CallTimeout = capDuration(l.CallTimeout, ceiling.CallTimeout)
	l.FetchTimeout = capDuration(l.FetchTimeout, ceiling.FetchTimeout)
	if l.NetworkReqPerSecond == 0 || l.NetworkReqPerSecond > ceiling.NetworkReqPerSecond {
		l.NetworkReqPerSecond = ceiling.NetworkReqPerSecond
	}
	l.MaxResponseBytes = min(l.MaxResponseBytes, ceiling.MaxResponseBytes)
	return l
}

func capDuration(d, ceiling time.Duration) time.Duration {
	if d == 0 || d > ceiling {
		return ceiling
	}
	return d
}

// RateLimiter implements a simple token bucket rate limiter.
type RateLimiter struct {
	mu sync.Mutex

	rate       int       // operations per second
	tokens     int       // current tokens
	maxTokens  int       // burst size
	lastRefill time.Time // last token refill time
	now        func() time.Time
}

// NewRateLimiter creates a new rate limiter. A non-positive rate disables
// limiting.
func NewRateLimiter(ratePerSecond int) *RateLimiter {
	return newRateLimiter(ratePerSecond, time.Now)
}

func newRateLimiter(ratePerSecond int, now func() time.Time) *RateLimiter {
	if ratePerSecond <= 0 {
		return &RateLimiter{now: now}
	}
	return &RateLimiter{
		rate:       ratePerSecond,
		tokens:     ratePerSecond,
		maxTokens:  ratePerSecond,
		lastRefill: now(),
		now:        now,
	}
}

// Allow returns true if an operation is allowed.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.rate == 0 {
		return true
	}

	now := rl.now()
	elapsed := now.Sub(rl.lastRefill)
	tokensToAdd := int(elapsed.Seconds() * float64(rl.rate))
	if tokensToAdd > 0 {
		rl.tokens += tokensToAdd
		if rl.tokens > rl.maxTokens {
			rl.tokens = rl.maxTokens
		}
		rl.lastRefill = now
	}

	if rl.tokens <= 0 {
		return false
	}
	rl.tokens--
	return true
}
