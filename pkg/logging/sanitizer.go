package logging

import (
	"regexp"
)

const (
	// MaxStatusErrorLength caps error text persisted into job status records.
	MaxStatusErrorLength = 1000
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// secret_key=xxx, access_key=xxx, api_key=xxx
	keyPattern = regexp.MustCompile(`(?i)((?:secret|access|api)[_-]?key)=[^;&\s]+`)

	// AWS access key ids
	awsKeyIDPattern = regexp.MustCompile(`\b(AKIA|ASIA)[A-Z0-9]{16}\b`)

	// user:pass@host
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@]+@[^/\s]+`)
)

// SanitizeConnectionString removes sensitive data from connection strings.
// Use this before logging any connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}

// SanitizeError sanitizes error messages that might contain sensitive data.
// Drivers echo DSNs and object-store credentials into their errors, so every
// error that crosses into a log line or a status record goes through here.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = keyPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = awsKeyIDPattern.ReplaceAllString(sanitized, RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}

// StatusError renders err for a job status record: sanitized and truncated.
func StatusError(err error) string {
	return TruncateString(SanitizeError(err), MaxStatusErrorLength)
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
