// Package logx provides structured logging with automatic redaction of
// telephony and speech-service credentials.
//
// It wraps the standard library's log/slog with convenience functions for:
//   - call-scoped logging keyed by linkedId and phase
//   - PBX and STT credential redaction in logged URLs and headers
//   - level-based verbosity control via LOG_LEVEL
//
// All exported functions use the global DefaultLogger, safe for concurrent use.
package logx

import (
	"context"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// DefaultLogger is the global structured logger instance.
var DefaultLogger *slog.Logger

func init() {
	DefaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: levelFromEnv(),
	}))
}

func levelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
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

// SetLevel replaces the global logger with one at the given level.
func SetLevel(level slog.Level) {
	DefaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Call returns a logger scoped to one call, attaching linkedId and (if
// non-empty) the current phase to every record it emits.
func Call(linkedID, phase string) *slog.Logger {
	if phase == "" {
		return DefaultLogger.With("linked_id", linkedID)
	}
	return DefaultLogger.With("linked_id", linkedID, "phase", phase)
}

func Info(msg string, args ...any)  { DefaultLogger.Info(msg, args...) }
func Debug(msg string, args ...any) { DefaultLogger.Debug(msg, args...) }
func Warn(msg string, args ...any)  { DefaultLogger.Warn(msg, args...) }
func Error(msg string, args ...any) { DefaultLogger.Error(msg, args...) }

func InfoContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.InfoContext(ctx, msg, args...)
}
func ErrorContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.ErrorContext(ctx, msg, args...)
}

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`Bearer\s+[A-Za-z0-9._-]+`),
	regexp.MustCompile(`sk-[A-Za-z0-9]{10,}`),
	regexp.MustCompile(`://[^:/@\s]+:[^:/@\s]+@`), // basic-auth userinfo in ARI URLs
}

// RedactSensitiveData scrubs ARI basic-auth URLs, STT bearer tokens, and
// OpenAI-style API keys from a string before it is logged.
func RedactSensitiveData(input string) string {
	result := input
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			switch {
			case strings.HasPrefix(match, "Bearer"):
				return "Bearer [REDACTED]"
			case strings.HasPrefix(match, "sk-"):
				if len(match) > 6 {
					return match[:6] + "...[REDACTED]"
				}
				return "[REDACTED]"
			default:
				return "://[REDACTED]@"
			}
		})
	}
	return result
}

// RedactHeaders returns a copy of headers with sensitive values scrubbed.
func RedactHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return headers
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if strings.EqualFold(k, "Authorization") {
			out[k] = RedactSensitiveData(v)
			continue
		}
		out[k] = v
	}
	return out
}
