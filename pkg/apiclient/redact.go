package apiclient

import (
	"net/url"
	"strings"
)

const redacted = "***REDACTED***"

var sensitiveKeys = []string{"token", "secret", "password", "authorization"}

// Redact returns a copy of params with sensitive values masked. A key is
// sensitive when it contains token, secret, password or authorization in
// any case.
func Redact(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
		if isSensitive(k) {
			out[k] = redacted
		}
	}
	return out
}

// RedactURL masks sensitive query values and any userinfo password in
// rawURL. An unparsable URL loses its whole query.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		base, _, _ := strings.Cut(rawURL, "?")
		return base
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	if u.RawQuery == "" {
		return u.String()
	}
	q := u.Query()
	for k := range q {
		if isSensitive(k) {
			q[k] = []string{redacted}
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func isSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
