package keys

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// PageKey derives the cache key for one upstream query page.
// Parameter order does not matter; url.Values.Encode sorts keys.
func PageKey(endpoint string, params url.Values) string {
	host, path := splitEndpoint(endpoint)
	canonical := strings.TrimRight(path, "/") + "?" + params.Encode()
	sum := xxhash.Sum64String(canonical)
	return fmt.Sprintf("page:%s:%016x", sanitizeHost(host), sum)
}

func splitEndpoint(endpoint string) (string, string) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil || u.Host == "" {
		return "", strings.TrimSpace(endpoint)
	}
	return strings.ToLower(u.Host), u.Path
}

func sanitizeHost(s string) string {
	if s == "" {
		return "_"
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := r
		if !isAlphaNum(r) && r != '.' && r != '-' {
			out = '-'
		}
		if out == '-' && prev == '-' {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
