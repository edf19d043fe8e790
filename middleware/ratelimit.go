package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	bucketStaleAfter = 10 * time.Minute
	bucketSweepEvery = 5 * time.Minute
)

// limiterStore hands out one token bucket per caller key. Buckets idle for
// bucketStaleAfter are dropped so the map stays bounded.
type limiterStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rps     rate.Limit
	burst   int
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newLimiterStore(rps rate.Limit, burst int) *limiterStore {
	s := &limiterStore{
		buckets: make(map[string]*bucket),
		rps:     rps,
		burst:   burst,
	}
	go s.sweep()
	return s
}

func (s *limiterStore) allow(key string) bool {
	s.mu.Lock()
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(s.rps, s.burst)}
		s.buckets[key] = b
	}
	b.lastSeen = time.Now()
	s.mu.Unlock()
	return b.lim.Allow()
}

func (s *limiterStore) sweep() {
	ticker := time.NewTicker(bucketSweepEvery)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-bucketStaleAfter)
		s.mu.Lock()
		for key, b := range s.buckets {
			if b.lastSeen.Before(cutoff) {
				delete(s.buckets, key)
			}
		}
		s.mu.Unlock()
	}
}

// RateLimit throttles callers to rps with the given burst. Authenticated
// requests are keyed by user id so one chatty device cannot starve other
// users behind the same NAT; anonymous requests fall back to the client IP.
// Install it after Auth on authenticated routes to get the per-user key.
func RateLimit(rps rate.Limit, burst int) gin.HandlerFunc {
	store := newLimiterStore(rps, burst)

	return func(c *gin.Context) {
		key := GetUserID(c)
		if key == "" {
			key = c.ClientIP()
		}
		if !store.allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
