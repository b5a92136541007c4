package event

import (
	"net/url"
	"strings"
)

// RedactedValue replaces the value of a sensitive query parameter.
const RedactedValue = "REDACTED"

// sensitiveParams are query parameter names whose values are never stored or
// transmitted. Matching is case-insensitive on the parameter name.
var sensitiveParams = map[string]struct{}{
	"token":          {},
	"access_token":   {},
	"refresh_token":  {},
	"id_token":       {},
	"auth":           {},
	"auth_token":     {},
	"api_key":        {},
	"apikey":         {},
	"key":            {},
	"secret":         {},
	"client_secret":  {},
	"password":       {},
	"passwd":         {},
	"session":        {},
	"session_id":     {},
	"sessionid":      {},
	"sid":            {},
	"code":           {},
	"state":          {},
	"oauth_token":    {},
	"oauth_verifier": {},
}

// Redact replaces the values of sensitive query parameters with
// RedactedValue. Idempotent: redacting an already-redacted URL is a no-op.
// URLs that fail to parse are returned unchanged.
func Redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if u.RawQuery == "" {
		return rawURL
	}

	// Rewrite the query by hand to keep parameter order stable and avoid
	// re-encoding untouched values.
	parts := strings.Split(u.RawQuery, "&")
	changed := false
	for i, part := range parts {
		name := part
		if eq := strings.IndexByte(part, '='); eq >= 0 {
			name = part[:eq]
		} else {
			continue // bare flag, nothing to redact
		}
		decoded, err := url.QueryUnescape(name)
		if err != nil {
			decoded = name
		}
		if _, sensitive := sensitiveParams[strings.ToLower(decoded)]; !sensitive {
			continue
		}
		redacted := name + "=" + RedactedValue
		if parts[i] != redacted {
			parts[i] = redacted
			changed = true
		}
	}
	if !changed {
		return rawURL
	}

	u.RawQuery = strings.Join(parts, "&")
	return u.String()
}
