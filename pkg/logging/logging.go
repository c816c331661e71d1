package logging

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

var (
	logger    = slog.Default()
	startTime = time.Now()
)

// Options selects the log level and handler format
type Options struct {
	Level  string
	Format string // "json" or "text"
	Output io.Writer
}

// InitLogger initializes the structured logging system with JSON at info level
func InitLogger() {
	Configure(Options{Level: "info", Format: "json"})
}

// Configure installs a slog handler built from opts as the package and default logger
func Configure(opts Options) {
	startTime = time.Now()

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     parseLevel(opts.Level),
		AddSource: true,
	}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		handler = slog.NewTextHandler(out, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(out, handlerOpts)
	}
	logger = slog.New(handler)
	slog.SetDefault(logger)

	LogDebug("Logger initialized",
		"format", opts.Format,
		"level", opts.Level)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger returns the configured logger
func Logger() *slog.Logger {
	return logger
}

// LogInfo logs an informational message
func LogInfo(msg string, args ...any) {
	logger.Info(msg, args...)
}

// LogError logs an error message with error details
func LogError(msg string, err error, args ...any) {
	allArgs := append([]any{"error", err}, args...)
	logger.Error(msg, allArgs...)
}

// LogWarn logs a warning message
func LogWarn(msg string, args ...any) {
	logger.Warn(msg, args...)
}

// LogDebug logs a debug message
func LogDebug(msg string, args ...any) {
	logger.Debug(msg, args...)
}

// LogCritical logs a critical error and also writes to stderr
func LogCritical(msg string, err error, args ...any) {
	allArgs := append([]any{"error", err, "severity", "critical"}, args...)
	logger.Error(msg, allArgs...)
	log.Printf("CRITICAL: %s: %v", msg, err)
}

// LogPerformance logs performance metrics
func LogPerformance(operation string, duration time.Duration, args ...any) {
	allArgs := append([]any{
		"operation", operation,
		"duration_ms", duration.Milliseconds(),
		"duration_str", duration.String(),
	}, args...)
	logger.Info("Performance metric", allArgs...)
}

// LogSecurityEvent logs security-related events
func LogSecurityEvent(event string, severity string, args ...any) {
	allArgs := append([]any{
		"event_type", "security",
		"security_event", event,
		"severity", severity,
	}, args...)
	logger.Warn("Security event", allArgs...)
}

// LogSystemStats logs uptime and memory usage
func LogSystemStats() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(startTime)

	LogInfo("System statistics",
		"uptime_seconds", int(uptime.Seconds()),
		"uptime_str", uptime.String(),
		"goroutines", runtime.NumGoroutine(),
		"memory_alloc_mb", bToMb(m.Alloc),
		"memory_sys_mb", bToMb(m.Sys),
		"gc_runs", m.NumGC)
}

// LogHTTPRequest logs HTTP request details
func LogHTTPRequest(method, path, ip string, statusCode int, duration time.Duration) {
	LogInfo("HTTP request",
		"method", method,
		"path", path,
		"status_code", statusCode,
		"duration_ms", duration.Milliseconds(),
		"client_ip", ip)
}

// LogFileOperation logs export and import operations
func LogFileOperation(operation, filename string, size int64, duration time.Duration, success bool, args ...any) {
	allArgs := append([]any{
		"operation", operation,
		"filename", filename,
		"size_bytes", size,
		"duration_ms", duration.Milliseconds(),
		"success", success,
	}, args...)

	if success {
		LogInfo("File operation completed", allArgs...)
	} else {
		LogError("File operation failed", fmt.Errorf("%s failed", operation), allArgs...)
	}
}

// LogLinkCalculation logs a link budget evaluation
func LogLinkCalculation(modulation string, frequencyHz, distanceM, marginDB float64, duration time.Duration, success bool) {
	LogInfo("Link budget calculation",
		"modulation", modulation,
		"frequency_hz", frequencyHz,
		"distance_m", distanceM,
		"margin_db", marginDB,
		"duration_us", duration.Microseconds(),
		"success", success)
}

// LogDataCalculation logs a data budget evaluation
func LogDataCalculation(generationBps, downlinkBps, growthBps float64, recommendations int, duration time.Duration, success bool) {
	LogInfo("Data budget calculation",
		"generation_bps", generationBps,
		"downlink_bps", downlinkBps,
		"net_growth_bps", growthBps,
		"recommendation_count", recommendations,
		"duration_us", duration.Microseconds(),
		"success", success)
}

// LogProjectOperation logs project lifecycle events
func LogProjectOperation(operation, project string, err error, args ...any) {
	allArgs := append([]any{
		"operation", operation,
		"project", project,
	}, args...)
	if err != nil {
		LogError("Project operation failed", err, allArgs...)
		return
	}
	LogInfo("Project operation completed", allArgs...)
}

// Helper function to convert bytes to megabytes
func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
