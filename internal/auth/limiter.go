package auth

import (
	"sync"
	"time"
)

const (
	rateLimitWindow  = 5 * time.Minute
	rateLimitMaxFail = 10

	// rateLimitPruneThreshold is the number of tracked IPs above which
	// the rate limiter prunes expired entries to prevent unbounded growth.
	rateLimitPruneThreshold = 1000
)

// loginRateLimiter counts failed Basic auth attempts per client IP over a
// sliding window. Once an IP reaches rateLimitMaxFail failures it is
// refused until enough of them age out.
type loginRateLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	now      func() time.Time
}

func newLoginRateLimiter() *loginRateLimiter {
	return &loginRateLimiter{
		failures: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// blocked reports whether ip is currently rate limited and, if so, how
// long until its oldest counted failure leaves the window.
func (rl *loginRateLimiter) blocked(ip string) (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rateLimitWindow)

	if len(rl.failures) > rateLimitPruneThreshold {
		for k, times := range rl.failures {
			if len(times) == 0 || times[len(times)-1].Before(cutoff) {
				delete(rl.failures, k)
			}
		}
	}

	recent := rl.failures[ip][:0]
	for _, t := range rl.failures[ip] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) == 0 {
		delete(rl.failures, ip)
		return 0, false
	}

	rl.failures[ip] = recent

	if len(recent) < rateLimitMaxFail {
		return 0, false
	}

	return recent[len(recent)-rateLimitMaxFail].Sub(cutoff), true
}

// record adds a failed attempt for ip.
func (rl *loginRateLimiter) record(ip string) {
	rl.mu.Lock()
	rl.failures[ip] = append(rl.failures[ip], rl.now())
	rl.mu.Unlock()
}

// reset forgets failures for ip after a successful login. Browsers resend
// credentials on every request, so an early typo should not linger.
func (rl *loginRateLimiter) reset(ip string) {
	rl.mu.Lock()
	delete(rl.failures, ip)
	rl.mu.Unlock()
}
