package logger

import (
	"regexp"
	"strings"
)

// redactions rewrite credentials inside free text. Each replacement keeps
// the surrounding context and drops only the secret.
var redactions = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9-._~+/]+=*`), "${1}[REDACTED]"},
	{regexp.MustCompile(`eyJ[a-zA-Z0-9_-]{5,}\.eyJ[a-zA-Z0-9_-]{5,}\.[a-zA-Z0-9_-]{5,}`), "[REDACTED]"},
	{regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{20,}`), "[REDACTED]"},
	{regexp.MustCompile(`(?i)((api|access|auth|token|secret|key|passw(or)?d)[0-9a-z\-_\.]*[\s:=]+)[^;,\s]{5,}`), "${1}[REDACTED]"},
	{regexp.MustCompile(`([a-z][a-z0-9+.-]*://[^:/@\s]+:)[^@\s]+@`), "${1}[REDACTED]@"},
}

// SensitiveKeywords are keywords that indicate fields may contain sensitive data
var SensitiveKeywords = []string{
	"password", "passwd", "secret", "credential", "token", "auth", "api_key",
	"apikey", "access_key", "secret_key", "authorization", "dsn",
}

// RedactSensitiveData replaces tokens, keys and URL passwords in input
// with "[REDACTED]".
func RedactSensitiveData(input string) string {
	for _, r := range redactions {
		if input == "" {
			break
		}
		input = r.re.ReplaceAllString(input, r.repl)
	}
	return input
}

// isSensitiveKey reports whether a field key indicates a credential value
func isSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, sensitiveKey := range SensitiveKeywords {
		if strings.Contains(keyLower, sensitiveKey) {
			return true
		}
	}
	return false
}
