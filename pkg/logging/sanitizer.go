package logging

import (
	"regexp"
)

// RedactedText is the replacement text for sensitive data.
const RedactedText = "[REDACTED]"

var (
	// password=xxx, pwd=xxx, pass=xxx in connection strings
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// user:pass@host credentials embedded in URLs
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)

	// AWS-style access key ids
	awsKeyPattern = regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)

	// generic key=value secrets (api_key=..., token=..., secret=...)
	secretParamPattern = regexp.MustCompile(`(?i)(api[_-]?key|token|secret)=[A-Za-z0-9\-_]{8,}`)
)

// SanitizeConnectionString removes credentials from a connection string
// before it is logged.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeError scrubs secrets from an error message. Job errors are
// persisted as last_error and surfaced in operator tooling; extraction
// errors can quote file content, so anything credential-shaped is redacted
// before storage.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
	sanitized = awsKeyPattern.ReplaceAllString(sanitized, RedactedText)
	return secretParamPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
}
