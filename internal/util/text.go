package util

import "strings"

// SanitizePostgresText drops invalid UTF-8 and NUL bytes, which text columns reject.
func SanitizePostgresText(value string) string {
	if value == "" {
		return value
	}

	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}

// SanitizePostgresStrings applies SanitizePostgresText to each element and drops values
// that end up empty. It returns a non-nil slice so text[] columns never receive NULL.
func SanitizePostgresStrings(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = SanitizePostgresText(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
