package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"prospectcrm/internal/transport/http/api"
)

// KeyFunc picks the bucket a request is counted against.
type KeyFunc func(r *http.Request) string

type bucket struct {
	used  int
	reset time.Time
}

// limiter is a fixed-window counter per key. Expired buckets are pruned at
// most once per window.
type limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	buckets map[string]*bucket
	pruneAt time.Time
}

func newLimiter(limit int, window time.Duration) *limiter {
	return &limiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		buckets: map[string]*bucket{},
	}
}

func (l *limiter) take(key string) (allowed bool, remaining int, resetIn time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.pruneAt) {
		for k, b := range l.buckets {
			if now.After(b.reset) {
				delete(l.buckets, k)
			}
		}
		l.pruneAt = now.Add(l.window)
	}

	b, ok := l.buckets[key]
	if !ok || now.After(b.reset) {
		b = &bucket{reset: now.Add(l.window)}
		l.buckets[key] = b
	}
	b.used++
	return b.used <= l.limit, max(l.limit-b.used, 0), b.reset.Sub(now)
}

// admit counts r against key and writes the rate headers. It answers 429 and
// returns false once the bucket is exhausted.
func (l *limiter) admit(w http.ResponseWriter, r *http.Request, key string) bool {
	if l.limit <= 0 {
		return true
	}
	allowed, remaining, resetIn := l.take(key)
	resetSec := ceilSeconds(resetIn)

	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(l.limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("X-RateLimit-Reset", strconv.Itoa(resetSec))
	if allowed {
		return true
	}

	h.Set("Retry-After", strconv.Itoa(max(resetSec, 1)))
	slog.Warn("rate limit exceeded", "key", key, "method", r.Method, "path", r.URL.Path, "limit", l.limit)
	api.Fail(w, http.StatusTooManyRequests, "rate_limited", "too many requests", GetRequestID(r.Context()))
	return false
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// Throttle limits every request passing through it, keyed by key or by the
// caller when key is nil.
func Throttle(limit int, window time.Duration, key KeyFunc) func(http.Handler) http.Handler {
	if key == nil {
		key = callerKey
	}
	l := newLimiter(limit, window)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.admit(w, r, key(r)) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type throttleScope int

const (
	scopeNone throttleScope = iota
	scopeLogin
	scopeEvidence
	scopeTransition
)

// MutationThrottle guards the expensive and abuse-prone writes. Logins are
// limited per client address and per submitted email at a quarter of
// perMinute. Evidence writes get the full budget per caller, stage moves half.
func MutationThrottle(perMinute int, window time.Duration) func(http.Handler) http.Handler {
	loginByIP := newLimiter(max(perMinute/4, 1), window)
	loginByEmail := newLimiter(max(perMinute/4, 1), window)
	evidence := newLimiter(max(perMinute, 1), window)
	transitions := newLimiter(max(perMinute/2, 1), window)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch classify(r) {
			case scopeLogin:
				if !loginByIP.admit(w, r, "ip:"+clientIPKey(r)) || !loginByEmail.admit(w, r, loginEmailKey(r)) {
					return
				}
			case scopeEvidence:
				if !evidence.admit(w, r, callerKey(r)) {
					return
				}
			case scopeTransition:
				if !transitions.admit(w, r, callerKey(r)) {
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func classify(r *http.Request) throttleScope {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return scopeNone
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1")
	switch {
	case path == "/auth/login":
		return scopeLogin
	case strings.HasPrefix(path, "/progress/"):
		return scopeEvidence
	case path == "/scores/recompute", path == "/scores/sweep":
		return scopeTransition
	case strings.HasPrefix(path, "/customers/"):
		for _, suffix := range []string{"/advance", "/progress", "/convert-to-prospect", "/inactive"} {
			if strings.HasSuffix(path, suffix) {
				return scopeTransition
			}
		}
	}
	return scopeNone
}

func callerKey(r *http.Request) string {
	if user, ok := GetUser(r.Context()); ok && user.UserID != "" {
		return "user:" + user.UserID
	}
	return "ip:" + clientIPKey(r)
}

func loginEmailKey(r *http.Request) string {
	if email := peekJSONString(r, "email"); email != "" {
		return "email:" + strings.ToLower(email)
	}
	return "ip:" + clientIPKey(r)
}

// peekJSONString reads one string field from a JSON body and restores the
// body for the next handler.
func peekJSONString(r *http.Request, field string) string {
	if r.Body == nil || !strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
		return ""
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	value, _ := payload[field].(string)
	return strings.TrimSpace(value)
}

func clientIPKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr)); err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
