package wikitext

import (
	"net/url"
	"regexp"
	"strings"
)

var externalURLRe = regexp.MustCompile(`https?://[^\s|\]})<>"']+`)

// ExtractURLs returns the distinct http(s) URLs in text in order of first
// appearance, with trailing sentence punctuation removed.
func ExtractURLs(text string) []string {
	matches := externalURLRe.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		m = strings.TrimRight(m, ".,;:!?)")
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// IsInternal reports whether rawURL points at internalHost. An empty
// internalHost matches nothing.
func IsInternal(rawURL, internalHost string) bool {
	if internalHost == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), internalHost)
}

// IsWebURL reports whether rawURL uses http or https.
func IsWebURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
