// Package redaction scrubs credentials out of text before it is logged or printed.
package redaction

import (
	"regexp"
)

// sensitivePatterns are compiled once at package init and applied in order.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)[a-zA-Z0-9._~+/=-]+`),                          // Authorization header values
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+(?:\.[a-zA-Z0-9_-]*)?`), // JWT tokens
	regexp.MustCompile(`(?i)("(?:access|refresh)_?token"\s*:\s*")[^"]*`),              // token fields in JSON bodies
	regexp.MustCompile(`(?i)("password"\s*:\s*")[^"]*`),                                // password field in JSON bodies
	regexp.MustCompile(`(?i)(password\s*[:=]\s*)[^\s"',}]+`),                           // password = ...
}

const replacement = "[REDACTED]"

// Redact replaces credentials in text with [REDACTED]. Prefixes that identify
// the credential (e.g. "Bearer ", `"password":"`) are kept so the output
// still shows what was removed.
func Redact(text string) string {
	for _, re := range sensitivePatterns {
		if re.NumSubexp() > 0 {
			text = re.ReplaceAllString(text, "${1}"+replacement)
			continue
		}
		text = re.ReplaceAllString(text, replacement)
	}
	return text
}

// Mask returns a placeholder for a configured secret, or "" when unset.
func Mask(secret string) string {
	if secret != "" {
		return "<redacted>"
	}
	return ""
}
