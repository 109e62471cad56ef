package main

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// inboundLimiter throttles API callers per client IP. This protects the
// server itself; the outbound admin API budget is enforced separately
// by each batch run's token bucket. The idle-client cleanup loop is an
// explicitly owned background task: Start launches it, Stop blocks
// until it has exited.
type inboundLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	rps     rate.Limit
	burst   int
	logger  zerolog.Logger

	maxIdle       time.Duration
	sweepInterval time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type clientLimiter struct {
	limiter *rate.Limiter
	seen    time.Time
}

func newInboundLimiter(rps float64, burst int, logger zerolog.Logger) *inboundLimiter {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return &inboundLimiter{
		clients:       make(map[string]*clientLimiter),
		rps:           rate.Limit(rps),
		burst:         burst,
		logger:        logger.With().Str("component", "inbound-ratelimit").Logger(),
		maxIdle:       10 * time.Minute,
		sweepInterval: time.Minute,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start launches the idle-client cleanup loop.
func (l *inboundLimiter) Start() {
	go l.run()
}

// Stop terminates the cleanup loop and waits for it to exit.
func (l *inboundLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
}

func (l *inboundLimiter) run() {
	defer close(l.done)

	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.cleanupOnce()
		}
	}
}

// cleanupOnce drops limiters for clients idle longer than maxIdle.
func (l *inboundLimiter) cleanupOnce() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-l.maxIdle)
	for ip, c := range l.clients {
		if c.seen.Before(cutoff) {
			delete(l.clients, ip)
		}
	}
}

func (l *inboundLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[ip] = c
	}
	c.seen = time.Now()
	return c.limiter.Allow()
}

func (l *inboundLimiter) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !l.allow(ip) {
			l.logger.Warn().Str("ip", ip).Str("path", r.URL.Path).Msg("Inbound request throttled")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
