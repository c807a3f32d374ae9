// Package statsd encodes metrics in the statsd line protocol and sends them over UDP.
package statsd

import "regexp"

var (
	whitespaceRun = regexp.MustCompile(`[ \t\n\v\f\r]+`)
	disallowed    = regexp.MustCompile(`[^a-zA-Z_\-0-9]`)
)

// Sanitize turns an arbitrary job or task name into a safe metric-name segment.
// The replacements run in a fixed order: whitespace runs become "_", dots become "_",
// slashes become "-", then anything outside [A-Za-z0-9_-] is dropped.
func Sanitize(key string) string {
	key = whitespaceRun.ReplaceAllString(key, "_")
	key = replaceByte(key, '.', '_')
	key = replaceByte(key, '/', '-')
	return disallowed.ReplaceAllString(key, "")
}

func replaceByte(s string, from, to byte) string {
	var b []byte
	for i := 0; i < len(s); i++ {
		if s[i] != from {
			continue
		}
		if b == nil {
			b = []byte(s)
		}
		b[i] = to
	}
	if b == nil {
		return s
	}
	return string(b)
}
