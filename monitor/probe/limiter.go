package probe

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// HostLimiter enforces a per-host politeness rate for outbound probes.
type HostLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	r        rate.Limit
	b        int
}

// NewHostLimiter creates a limiter with r requests per second and burst b
// per origin host.
func NewHostLimiter(r float64, b int) *HostLimiter {
	return &HostLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(r),
		b:        b,
	}
}

func (l *HostLimiter) limiter(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(l.r, l.b)
		l.limiters[host] = lim
	}
	return lim
}

// Wait blocks until the host's bucket has a token or ctx is done.
func (l *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return l.limiter(host).Wait(ctx)
}

// Allow reports whether a probe to the host may proceed right now.
func (l *HostLimiter) Allow(rawURL string) bool {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return l.limiter(host).Allow()
}
