package contract

import (
	"regexp"
	"strings"
)

// diagnosticPatterns matches lines that leak internal state: credentials,
// stack traces and provider-internal identifiers. Matching is per line so
// surrounding user content survives.
var diagnosticPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(api[_-]?key|secret|token|password|authorization)\b\s*[:=]`),
	regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/-]{16,}`),
	regexp.MustCompile(`^\s*(goroutine \d+|panic:|runtime error:)`),
	regexp.MustCompile(`^\s+at\s+\S+\(.*:\d+\)`),
	regexp.MustCompile(`^\s*\S+\.go:\d+`),
	regexp.MustCompile(`(?i)\b(traceback|stacktrace|stack trace)\b`),
	regexp.MustCompile(`(?i)\b(req|txn|trace)[_-]?id\s*[:=]\s*[A-Za-z0-9-]{8,}`),
	regexp.MustCompile(`(?i)\binternal error\b.*\bcode\b`),
	regexp.MustCompile(`(?i)connection string|database url|dsn\s*[:=]`),
}

// stripDiagnostics removes blocklisted lines. It reports whether any line
// was removed.
func stripDiagnostics(text string) (string, bool) {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	changed := false

	for _, line := range lines {
		if matchesDiagnostic(line) {
			changed = true

			continue
		}

		kept = append(kept, line)
	}

	if !changed {
		return text, false
	}

	return strings.TrimSpace(strings.Join(kept, "\n")), true
}

func matchesDiagnostic(line string) bool {
	for _, pattern := range diagnosticPatterns {
		if pattern.MatchString(line) {
			return true
		}
	}

	return false
}
