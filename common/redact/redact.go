// Package redact strips sensitive values from log output before it
// leaves the process boundary.
//
// # Threat model
//
// Secrets (openBIS passwords typed into chat, provider API keys) must
// never appear in:
//   - Log lines emitted by chatBIS
//   - Telemetry events sent to an error tracker
//
// Redaction is best-effort: it operates on string representations and relies
// on callers to pass the right set of sensitive terms.  It is NOT a substitute
// for keeping secrets out of log call-sites in the first place.
package redact

import (
	"strings"
)

const placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// [REDACTED].  Values shorter than 4 characters are skipped to avoid
// spurious redaction of common substrings.
//
// Example:
//
//	safe := redact.String(logLine, apiKey)
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Params returns a copy of the action parameter map with values replaced
// by [REDACTED] for every key whose name suggests it holds a secret
// (password, token, key, secret, credential, auth).  A message such as
// "connect url=... username=alice password=hunter2" must be loggable
// without leaking the credential.
func Params(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		if isSensitiveKey(k) && v != "" {
			out[k] = placeholder
			continue
		}
		out[k] = v
	}
	return out
}

// isSensitiveKey returns true when the key name suggests it holds a secret.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, word := range []string{"password", "passwd", "token", "secret", "key", "credential", "auth", "apikey"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
