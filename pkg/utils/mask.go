package utils

import (
	"regexp"
	"strings"
)

var dsnPasswordRegex = regexp.MustCompile(`(:)([^:@/]+)(@)`)

// MaskDSN hides the password portion of a connection string (postgres, amqp, redis, nats).
func MaskDSN(dsn string) string {
	return dsnPasswordRegex.ReplaceAllString(dsn, ":***@")
}

var sensitiveHeaders = map[string]struct{}{
	"authorization":    {},
	"fspiop-signature": {},
}

// RedactHeaders returns a copy of h safe for logging. Signature and credential
// values are replaced, everything else is kept as received.
func RedactHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if _, ok := sensitiveHeaders[strings.ToLower(k)]; ok && v != "" {
			out[k] = "***"
			continue
		}
		out[k] = v
	}
	return out
}
