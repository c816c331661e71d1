package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/payback159/cubesatbudget/pkg/logging"
	"github.com/payback159/cubesatbudget/pkg/models"
	"golang.org/x/time/rate"
)

// ipLimiter wraps a rate limiter with a last-seen timestamp for cleanup
type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter manages rate limiting per IP address with automatic cleanup
type RateLimiter struct {
	limiters   map[string]*ipLimiter
	mutex      sync.RWMutex
	perMinute  int
	burst      int
	trustProxy bool
}

// NewRateLimiter creates a rate limiter whose stale entries are removed in
// the background until ctx is cancelled.
func NewRateLimiter(ctx context.Context, perMinute, burst int, trustProxy bool) *RateLimiter {
	rl := newRateLimiter(perMinute, burst, trustProxy)
	rl.startCleanup(ctx)
	return rl
}

func newRateLimiter(perMinute, burst int, trustProxy bool) *RateLimiter {
	if perMinute <= 0 {
		perMinute = models.RateLimit
	}
	if burst <= 0 {
		burst = models.RateBurst
	}
	return &RateLimiter{
		limiters:   make(map[string]*ipLimiter),
		perMinute:  perMinute,
		burst:      burst,
		trustProxy: trustProxy,
	}
}

// GetLimiter returns a rate limiter for the given IP address
func (rl *RateLimiter) GetLimiter(ip string) *rate.Limiter {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	entry, exists := rl.limiters[ip]
	if !exists {
		limiter := rate.NewLimiter(rate.Limit(rl.perMinute)/60, rl.burst)
		rl.limiters[ip] = &ipLimiter{limiter: limiter, lastSeen: time.Now()}

		logging.LogDebug("Created new rate limiter for IP",
			"ip", ip,
			"rate_per_minute", rl.perMinute,
			"burst", rl.burst)

		return limiter
	}

	entry.lastSeen = time.Now()
	return entry.limiter
}

// startCleanup runs a background goroutine to remove stale rate limiters
func (rl *RateLimiter) startCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.cleanupStale(time.Now())
			}
		}
	}()
}

// cleanupStale removes rate limiters not seen in the 10 minutes before now
func (rl *RateLimiter) cleanupStale(now time.Time) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	threshold := now.Add(-10 * time.Minute)
	removed := 0
	for ip, entry := range rl.limiters {
		if entry.lastSeen.Before(threshold) {
			delete(rl.limiters, ip)
			removed++
		}
	}

	if removed > 0 {
		logging.LogInfo("Cleaned up stale rate limiters",
			"removed", removed,
			"remaining", len(rl.limiters))
	}
}

// Middleware rejects clients that exceed their request budget with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := GetClientIP(r, rl.trustProxy)
		limiter := rl.GetLimiter(ip)

		if !limiter.Allow() {
			logging.LogSecurityEvent("Rate limit exceeded", "high",
				"ip", ip,
				"user_agent", r.UserAgent(),
				"path", r.URL.Path,
				"method", r.Method)

			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// GetClientIP extracts the client IP. Forwarding headers are honoured only
// with trustProxy set, i.e. behind a reverse proxy that overwrites them.
func GetClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if cfIP := r.Header.Get("CF-Connecting-IP"); cfIP != "" {
			return strings.TrimSpace(cfIP)
		}
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			// X-Forwarded-For can contain multiple IPs, get the first one
			if i := strings.IndexByte(forwarded, ','); i > 0 {
				forwarded = forwarded[:i]
			}
			if ip := strings.TrimSpace(forwarded); ip != "" {
				return ip
			}
		}
		if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
			return strings.TrimSpace(realIP)
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.Trim(r.RemoteAddr, "[]")
	}
	return host
}

// ValidateImport checks an uploaded project file before it is parsed.
func ValidateImport(filename string, size int64) error {
	if size > models.MaxImportSize {
		return fmt.Errorf("file too large: %d bytes (max: %d)", size, models.MaxImportSize)
	}
	if !strings.HasSuffix(strings.ToLower(filename), ".json") {
		return fmt.Errorf("only JSON files are allowed")
	}
	if len(filename) > models.MaxProjectNameLength+len(".json") {
		return fmt.Errorf("filename too long (max: %d characters)", models.MaxProjectNameLength)
	}

	// Check for potentially dangerous characters
	dangerousChars := []string{"../", "..\\", "<", ">", "|", "&", ";", "$", "`"}
	for _, char := range dangerousChars {
		if strings.Contains(filename, char) {
			return fmt.Errorf("filename contains invalid characters")
		}
	}

	return nil
}

// SanitizeProjectName normalises whitespace, drops control and markup
// characters and limits the length.
func SanitizeProjectName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '<' || r == '>':
			return -1
		case unicode.IsSpace(r):
			return ' '
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, name)
	name = strings.Join(strings.Fields(name), " ")

	if runes := []rune(name); len(runes) > models.MaxProjectNameLength {
		name = strings.TrimSpace(string(runes[:models.MaxProjectNameLength]))
	}
	return name
}

// ValidateProjectName rejects names that would be unusable as a key or in
// a download file name. The name should already be sanitized.
func ValidateProjectName(name string) error {
	switch {
	case name == "":
		return models.InvalidParameter("name", name, "is required")
	case len([]rune(name)) > models.MaxProjectNameLength:
		return models.InvalidParameter("name", name,
			fmt.Sprintf("must be at most %d characters", models.MaxProjectNameLength))
	case strings.ContainsAny(name, `/\`):
		return models.InvalidParameter("name", name, "must not contain slashes")
	case name == "." || name == "..":
		return models.InvalidParameter("name", name, "is reserved")
	}
	return nil
}

// SafeFilename turns a project name into a download file name.
func SafeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 128 && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}
	s := strings.Trim(b.String(), ".")
	if s == "" {
		return "project"
	}
	return s
}
