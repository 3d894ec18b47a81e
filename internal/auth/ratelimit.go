// Palisade - Access Control Core
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-server/palisade

package auth

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/palisade-server/palisade/internal/apperror"
	"github.com/palisade-server/palisade/internal/logging"
)

// loginLimiter rate-limits credential attempts per client IP. Failed or not,
// every attempt counts; this bounds online password guessing independently of
// the global request rate limit.
type loginLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     rate.Limit
	burst    int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const visitorIdleTimeout = 10 * time.Minute

func newLoginLimiter(reqs int, window time.Duration) *loginLimiter {
	if reqs <= 0 {
		reqs = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	l := &loginLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(float64(reqs) / window.Seconds()),
		burst:    reqs,
	}
	go l.cleanup()
	return l
}

func (l *loginLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter.Allow()
}

func (l *loginLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		l.mu.Lock()
		for ip, v := range l.visitors {
			if time.Since(v.lastSeen) > visitorIdleTimeout {
				delete(l.visitors, ip)
			}
		}
		l.mu.Unlock()
	}
}

// middleware short-circuits over-limit clients with the process_error body.
func (l *loginLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !l.allow(ip) {
			logging.Warn().Str("ip", ip).Str("path", r.URL.Path).Msg("login rate limit exceeded")
			apperror.WriteJSON(w, apperror.New(apperror.KindProcess, "too many login attempts"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
