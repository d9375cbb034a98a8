package auth

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

type ipWindow struct {
	startedAt time.Time
	hits      int
}

// LoginRateLimiter caps login attempts per client IP over a fixed window.
// State is in-process only; the login path is the enumeration-sensitive one.
type LoginRateLimiter struct {
	mu      sync.Mutex
	maxHits int
	window  time.Duration
	byIP    map[string]*ipWindow
	maxKeys int
}

func NewLoginRateLimiter(maxHits int, window time.Duration) *LoginRateLimiter {
	if maxHits <= 0 {
		maxHits = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return &LoginRateLimiter{
		maxHits: maxHits,
		window:  window,
		byIP:    make(map[string]*ipWindow),
		maxKeys: 5000,
	}
}

func (l *LoginRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter := l.allow(clientIP(r), time.Now().UTC())
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *LoginRateLimiter) allow(ip string, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	win := l.byIP[ip]
	if win == nil || now.Sub(win.startedAt) >= l.window {
		if len(l.byIP) >= l.maxKeys {
			l.evictStale(now)
		}
		l.byIP[ip] = &ipWindow{startedAt: now, hits: 1}
		return true, 0
	}

	win.hits++
	if win.hits <= l.maxHits {
		return true, 0
	}

	retryAfter := win.startedAt.Add(l.window).Sub(now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return false, retryAfter
}

func (l *LoginRateLimiter) evictStale(now time.Time) {
	for ip, win := range l.byIP {
		if now.Sub(win.startedAt) >= l.window {
			delete(l.byIP, ip)
		}
	}
}

func clientIP(r *http.Request) string {
	xForwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xForwardedFor != "" {
		ip := strings.TrimSpace(strings.Split(xForwardedFor, ",")[0])
		if ip != "" {
			return ip
		}
	}

	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}
