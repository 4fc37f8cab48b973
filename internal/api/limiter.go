package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
)

// requestLimiter bounds in-flight requests per client IP and overall.
type requestLimiter struct {
	mu       sync.Mutex
	inflight map[string]int
	total    int
	maxPerIP int
	maxTotal int
}

func newRequestLimiter(maxPerIP int) *requestLimiter {
	if maxPerIP <= 0 {
		maxPerIP = 4
	}
	return &requestLimiter{
		inflight: make(map[string]int),
		maxPerIP: maxPerIP,
		maxTotal: 256,
	}
}

// acquire reserves a slot for ip, or returns false if ip or the server is at
// its limit.
func (l *requestLimiter) acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.total >= l.maxTotal || l.inflight[ip] >= l.maxPerIP {
		return false
	}
	l.inflight[ip]++
	l.total++
	return true
}

func (l *requestLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.inflight[ip]--
	l.total--
	if l.inflight[ip] <= 0 {
		delete(l.inflight, ip)
	}
}

func (l *requestLimiter) count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inflight[ip]
}

// limit wraps next so each client IP holds at most maxPerIP requests at once.
func (l *requestLimiter) limit(trustProxy bool, next http.HandlerFunc, onReject func(ip string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, trustProxy)
		if !l.acquire(ip) {
			if onReject != nil {
				onReject(ip)
			}
			w.Header().Set("Retry-After", "5")
			writeError(w, http.StatusTooManyRequests, "too many concurrent requests")
			return
		}
		defer l.release(ip)
		next(w, r)
	}
}

// clientIP returns the address a request came from. Forwarding headers are
// only honoured with trustProxy set.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
