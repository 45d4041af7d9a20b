package nodes

import (
	"regexp"
)

const (
	maxPatternLength = 500
	maxSubjectLength = 2000
)

// Shapes with a history of catastrophic backtracking, rejected before the
// pattern is ever compiled.
var dangerousShapes = []*regexp.Regexp{
	// Quantified group that itself contains a quantifier: (a+)+, (a*)+, (a+){2}
	regexp.MustCompile(`\([^)]*[+*][^)]*\)\s*[+*{]`),
	// Quantified alternation group: (a|b)+
	regexp.MustCompile(`\([^)]*\|[^)]*\)\s*[+*{]`),
	// Adjacent quantified character classes: [a-z]+[a-z0-9]*
	regexp.MustCompile(`\[[^\]]*\][+*]\[[^\]]*\][+*]`),
	// Repeated dot-quantifier sequences: .*.* or .+.+
	regexp.MustCompile(`\.[+*].*\.[+*]`),
}

// safeRegexMatch evaluates pattern against subject under hardening rules:
// oversized or dangerous-looking patterns are rejected, the subject is
// truncated, and any compile or match failure yields false rather than an
// error. Condition rules must never be able to stall a worker.
func safeRegexMatch(pattern, subject string) bool {
	if len(pattern) > maxPatternLength {
		return false
	}

	for _, shape := range dangerousShapes {
		if shape.MatchString(pattern) {
			return false
		}
	}

	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}

	if len(subject) > maxSubjectLength {
		subject = subject[:maxSubjectLength]
	}

	return compiled.MatchString(subject)
}
