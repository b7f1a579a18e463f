// Package policy applies data-handling rules to call transcripts before they leave
// the process.
package policy

import "regexp"

type rule struct {
	pattern *regexp.Regexp
	mask    string
}

// Order matters: cards before national ids before phones, so long digit runs are
// classified by the most specific rule.
var rules = []rule{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\b\d{4}[ -]?\d{4}[ -]?\d{4}\b`), "[REDACTED_ID]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII masks emails, card numbers, 12-digit national ids and phone numbers.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, r := range rules {
		next := r.pattern.ReplaceAllString(out, r.mask)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// RedactLines redacts each line in place and reports how many changed.
func RedactLines(lines []string) int {
	n := 0
	for i, line := range lines {
		if out, changed := RedactPII(line); changed {
			lines[i] = out
			n++
		}
	}
	return n
}
