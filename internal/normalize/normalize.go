// Package normalize cleans item text fields and canonicalizes URL-shaped
// identifiers. Every function is pure and idempotent.
package normalize

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/itemrelay/internal/item"
)

// Text collapses whitespace runs inside each line to one space, trims every
// line and rejoins the lines with "\n". Blank interior lines are kept.
func Text(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := splitLines(s)
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.Join(lines, "\n")
}

// Item applies Text to every top-level string field, control fields included.
func Item(it *item.Item) {
	for _, key := range it.Keys() {
		v, _ := it.Get(key)
		if s, ok := v.(string); ok {
			it.Set(key, Text(s))
		}
	}
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !isLineBreak(r) {
			i += size
			continue
		}
		lines = append(lines, s[start:i])
		i += size
		if r == '\r' && i < len(s) && s[i] == '\n' {
			i++
		}
		start = i
	}
	return append(lines, s[start:])
}

func isLineBreak(r rune) bool {
	switch r {
	case '\n', '\r', '\v', '\f', 0x1c, 0x1d, 0x1e, 0x85, 0x2028, 0x2029:
		return true
	}
	return false
}

var trackingParams = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"dclid":   {},
	"msclkid": {},
	"mc_cid":  {},
	"mc_eid":  {},
	"yclid":   {},
	"igshid":  {},
	"_ga":     {},
	"ref_src": {},
}

// LooksLikeURL reports whether s carries an http or https URL.
func LooksLikeURL(s string) bool {
	return strings.Contains(s, "http://") || strings.Contains(s, "https://")
}

// URL canonicalizes raw when it looks like a URL: it lowercases the scheme and
// host, removes default ports and the fragment, drops tracking parameters and
// sorts the remaining query. Anything else is returned unchanged.
func URL(raw string) string {
	if !LooksLikeURL(raw) {
		return raw
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawFragment = ""

	q := u.Query()
	for key := range q {
		if isTracking(key) {
			q.Del(key)
		}
	}
	// Encode sorts by key.
	u.RawQuery = q.Encode()
	u.ForceQuery = false

	return u.String()
}

func isTracking(key string) bool {
	k := strings.ToLower(key)
	if strings.HasPrefix(k, "utm") {
		return true
	}
	_, ok := trackingParams[k]
	return ok
}
