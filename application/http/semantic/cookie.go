package semantic

import (
	"maps"
	"slices"
	"strings"
)

// CookieHeader builds the value of a Cookie field.
// custom goes first when it is not empty, then name=value pairs sorted by name.
func CookieHeader(custom string, cookies map[string]string) string {
	parts := make([]string, 0, len(cookies)+1)
	if custom != "" {
		parts = append(parts, custom)
	}

	for _, name := range slices.Sorted(maps.Keys(cookies)) {
		parts = append(parts, name+"="+cookies[name])
	}

	return strings.Join(parts, "; ")
}

// MergeCookies copies src into dst, overwriting cookies with the same name.
func MergeCookies(dst, src map[string]string) map[string]string {
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	maps.Copy(dst, src)
	return dst
}
