// Package urlnorm canonicalizes URLs so that trivially different spellings of
// the same address share one fingerprint.
package urlnorm

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/JakeFAU/linkkeeper/internal/hash/sha256"
)

// pathSafe lists the characters left unescaped in paths besides ASCII
// letters and digits.
const pathSafe = "/:@!$&'()*+,;=-._~"

var queryPairRe = regexp.MustCompile(`([^&=]+)(?:=([^&]*))?`)

// Normalize returns the canonical form of raw, or "" when raw is empty or
// carries no host.
//
// The scheme and host are lowercased (scheme defaults to http), trailing dots
// are stripped from the host, default ports are dropped, the path is decoded
// and re-encoded with a fixed safe set, the fragment is removed, and query
// pairs are sorted.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(escapeStrayPercent(raw))
	if err != nil {
		return ""
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "http"
	}
	host := strings.TrimRight(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	netloc := host
	if port != "" {
		netloc = host + ":" + port
	}

	path := quote(unquote(u.EscapedPath()))
	query := sortQuery(u.RawQuery)
	if path == "" {
		path = "/"
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(netloc)
	b.WriteString(path)
	if query != "" {
		b.WriteByte('?')
		b.WriteString(query)
	}
	return b.String()
}

// Fingerprint returns the hex SHA-256 of the canonical URL.
func Fingerprint(canonical string) string {
	return sha256.Hex([]byte(canonical))
}

// Domain returns the lowercase host of a URL without trailing dots or a
// leading "www.".
func Domain(canonical string) string {
	u, err := url.Parse(strings.TrimSpace(canonical))
	if err != nil {
		return ""
	}
	host := strings.TrimRight(strings.ToLower(u.Hostname()), ".")
	return strings.TrimPrefix(host, "www.")
}

func sortQuery(raw string) string {
	if raw == "" {
		return ""
	}
	type pair struct{ key, value string }
	matches := queryPairRe.FindAllStringSubmatch(raw, -1)
	pairs := make([]pair, 0, len(matches))
	for _, m := range matches {
		pairs = append(pairs, pair{key: m[1], value: m[2]})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].value < pairs[j].value
	})
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p.value == "" {
			parts = append(parts, p.key)
			continue
		}
		parts = append(parts, p.key+"="+p.value)
	}
	return strings.Join(parts, "&")
}

// escapeStrayPercent rewrites a "%" that does not start a %XX escape as
// "%25", so "/a%zz" survives parsing as "/a%25zz".
func escapeStrayPercent(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && (i+2 >= len(s) || !isHex(s[i+1]) || !isHex(s[i+2])) {
			b.WriteString("%25")
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// unquote decodes %XX escapes, leaving malformed sequences untouched.
func unquote(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			out = append(out, unhex(s[i+1])<<4|unhex(s[i+2]))
			i += 2
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}

func quote(s string) string {
	const upperHex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) || strings.IndexByte(pathSafe, c) >= 0 {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperHex[c>>4])
		b.WriteByte(upperHex[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
