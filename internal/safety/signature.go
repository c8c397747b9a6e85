// Package safety guards self-modification: git snapshot and restore, test
// running with timeouts, repair and restart rate limiting, and crash
// signature deduplication.
package safety

import "strings"

// signatureMaxLen bounds a crash signature.
const signatureMaxLen = 200

// CrashSignature derives a stable string from stderr or a traceback, used to
// deduplicate repeated crashes. It prefers the last line mentioning Error or
// Exception, falls back to the last non-empty line, then to a fixed marker.
func CrashSignature(stderr string) string {
	lines := strings.Split(stderr, "\n")

	var lastError, lastNonEmpty string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		lastNonEmpty = trimmed
		if strings.Contains(trimmed, "Error") || strings.Contains(trimmed, "Exception") {
			lastError = trimmed
		}
	}

	sig := lastError
	if sig == "" {
		sig = lastNonEmpty
	}
	if sig == "" {
		return "unknown_crash"
	}
	if len(sig) > signatureMaxLen {
		sig = sig[:signatureMaxLen]
	}
	return sig
}
