// Package wikitext reads and rewrites MediaWiki markup: citation template
// patching for dead links, external URL extraction, and the review log.
package wikitext

import (
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/linkkeeper/internal/urlnorm"
)

// citationTemplates are the template names whose url parameter may be
// annotated with an archive copy.
var citationTemplates = map[string]struct{}{
	"cite web":      {},
	"cite news":     {},
	"cite journal":  {},
	"cite magazine": {},
	"cite book":     {},
	"citation":      {},
}

var archiveParams = []string{"archive-url", "archiveurl"}

// Outcome classifies what PatchCitations did with a document.
type Outcome int

const (
	// Absent means the dead URL does not occur in the text.
	Absent Outcome = iota
	// AlreadyArchived means every citation of the URL already carries the archive copy.
	AlreadyArchived
	// Patched means at least one citation gained archive parameters.
	Patched
	// Unmatched means the URL occurs but no citation template could be patched.
	Unmatched
)

func (o Outcome) String() string {
	switch o {
	case Absent:
		return "absent"
	case AlreadyArchived:
		return "already_archived"
	case Patched:
		return "patched"
	case Unmatched:
		return "unmatched"
	default:
		return "unknown"
	}
}

// PatchResult is the output of PatchCitations.
type PatchResult struct {
	Text    string
	Outcome Outcome
	// Patched counts templates that gained archive parameters.
	Patched int
	// NeedsReview is set when the URL also occurs outside any citation
	// template, or when no template could take the archive copy.
	NeedsReview bool
}

// FormatArchiveDate renders a snapshot time as a calendar date.
func FormatArchiveDate(ts time.Time) string {
	if ts.IsZero() {
		return "unknown"
	}
	return ts.UTC().Format("2006-01-02")
}

// PatchCitations adds archive-url, archive-date, and url-status=dead to each
// citation template whose url parameter is deadURL and which has no archive
// parameter yet. Templates citing other URLs, or already archived, are left
// byte-for-byte untouched.
func PatchCitations(text, deadURL, archiveURL, archiveDate string) PatchResult {
	if !containsURL(text, deadURL) {
		return PatchResult{Text: text, Outcome: Absent}
	}

	var (
		toPatch  []template
		matched  []template
		archived int
	)
	for _, tpl := range findTemplates(text) {
		if !tpl.isCitation() || !sameURL(tpl.param("url"), deadURL) {
			continue
		}
		matched = append(matched, tpl)
		existing, ok := tpl.archiveURL()
		switch {
		case !ok:
			toPatch = append(toPatch, tpl)
		case existing == archiveURL:
			archived++
		}
	}

	res := PatchResult{Text: text, NeedsReview: containsURL(stripSpans(text, matched), deadURL)}
	switch {
	case len(toPatch) > 0:
		res.Text = insertArchive(text, toPatch, " |archive-url="+archiveURL+" |archive-date="+archiveDate+" |url-status=dead")
		res.Outcome = Patched
		res.Patched = len(toPatch)
	case archived > 0:
		res.Outcome = AlreadyArchived
	case len(matched) > 0:
		// Citations carry a different archive copy chosen by an editor.
		res.Outcome = AlreadyArchived
	default:
		res.Outcome = Unmatched
		res.NeedsReview = true
	}
	return res
}

type template struct {
	start, end int // text[start:end] spans "{{...}}"
	name       string
	params     map[string]string
}

func (t template) isCitation() bool {
	_, ok := citationTemplates[t.name]
	return ok
}

func (t template) param(name string) string {
	return t.params[name]
}

func (t template) archiveURL() (string, bool) {
	for _, name := range archiveParams {
		if v, ok := t.params[name]; ok {
			return v, true
		}
	}
	return "", false
}

// findTemplates returns every balanced "{{...}}" in text, nested ones
// included, in order of their opening braces.
func findTemplates(text string) []template {
	var out []template
	for i := 0; i+1 < len(text); i++ {
		if text[i] != '{' || text[i+1] != '{' {
			continue
		}
		end := matchBraces(text, i)
		if end < 0 {
			continue
		}
		out = append(out, parseTemplate(text, i, end))
	}
	return out
}

// matchBraces returns the index just past the "}}" closing the template
// opened at start, or -1 when unbalanced.
func matchBraces(text string, start int) int {
	depth := 0
	for i := start; i+1 < len(text); {
		switch {
		case text[i] == '{' && text[i+1] == '{':
			depth++
			i += 2
		case text[i] == '}' && text[i+1] == '}':
			depth--
			i += 2
			if depth == 0 {
				return i
			}
		default:
			i++
		}
	}
	return -1
}

func parseTemplate(text string, start, end int) template {
	inner := text[start+2 : end-2]
	parts := splitTopLevel(inner)
	tpl := template{start: start, end: end, params: map[string]string{}}
	if len(parts) == 0 {
		return tpl
	}
	tpl.name = canonicalName(parts[0])
	for _, part := range parts[1:] {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		tpl.params[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	return tpl
}

// splitTopLevel splits template content on pipes that are not inside a
// nested template or wikilink.
func splitTopLevel(s string) []string {
	var (
		parts []string
		depth int
		last  int
	)
	for i := 0; i < len(s); i++ {
		switch {
		case i+1 < len(s) && (s[i:i+2] == "{{" || s[i:i+2] == "[["):
			depth++
			i++
		case i+1 < len(s) && (s[i:i+2] == "}}" || s[i:i+2] == "]]"):
			if depth > 0 {
				depth--
			}
			i++
		case s[i] == '|' && depth == 0:
			parts = append(parts, s[last:i])
			last = i + 1
		}
	}
	return append(parts, s[last:])
}

func canonicalName(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", " ")
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func sameURL(candidate, deadURL string) bool {
	if candidate == "" {
		return false
	}
	if strings.TrimRight(candidate, "/") == strings.TrimRight(deadURL, "/") {
		return true
	}
	canonical := urlnorm.Normalize(candidate)
	return canonical != "" && canonical == urlnorm.Normalize(deadURL)
}

// containsURL reports whether deadURL occurs in text, either verbatim or,
// with or without a trailing slash, or as the url parameter of a template
// that names the same canonical URL. Prefix matches such as ".../a" inside
// ".../abc" do not count, nor does the URL embedded in an archive link.
func containsURL(text, deadURL string) bool {
	if deadURL == "" {
		return false
	}
	if occurs(text, deadURL) {
		return true
	}
	if trimmed := strings.TrimRight(deadURL, "/"); trimmed != deadURL && occurs(text, trimmed) {
		return true
	}
	for _, tpl := range findTemplates(text) {
		if sameURL(tpl.param("url"), deadURL) {
			return true
		}
	}
	return false
}

// occurs reports whether u appears in text as a whole URL.
func occurs(text, u string) bool {
	for from := 0; from < len(text); {
		i := strings.Index(text[from:], u)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(u)
		if startsURL(text, start) && endsURL(text[end:]) {
			return true
		}
		from = start + 1
	}
	return false
}

// startsURL rejects a match that continues an earlier URL or word.
func startsURL(text string, i int) bool {
	if i == 0 {
		return true
	}
	c := text[i-1]
	return !isAlnum(c) && !strings.ContainsRune("/.-_~%", rune(c))
}

// endsURL reports whether rest, the text after a match, ends the URL there.
// One trailing slash and trailing sentence punctuation are allowed.
func endsURL(rest string) bool {
	rest = strings.TrimPrefix(rest, "/")
	rest = strings.TrimLeft(rest, ".,;:!?')\"")
	if rest == "" {
		return true
	}
	c := rest[0]
	return !isAlnum(c) && !strings.ContainsRune("/-_~%?#&=+@$*", rune(c))
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// stripSpans blanks out the given template spans.
func stripSpans(text string, spans []template) string {
	if len(spans) == 0 {
		return text
	}
	var b strings.Builder
	last := 0
	for _, s := range sortedOuter(spans) {
		b.WriteString(text[last:s.start])
		b.WriteByte(' ')
		last = s.end
	}
	b.WriteString(text[last:])
	return b.String()
}

func insertArchive(text string, spans []template, params string) string {
	var b strings.Builder
	last := 0
	for _, s := range sortedOuter(spans) {
		body := text[s.start : s.end-2]
		at := s.start + len(strings.TrimRight(body, " \t\r\n"))
		b.WriteString(text[last:at])
		b.WriteString(params)
		last = at
	}
	b.WriteString(text[last:])
	return b.String()
}

// sortedOuter orders spans by position and drops any nested in an earlier one.
func sortedOuter(spans []template) []template {
	sorted := append([]template(nil), spans...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].start < sorted[j].start })
	out := sorted[:0]
	end := -1
	for _, s := range sorted {
		if s.start < end {
			continue
		}
		out = append(out, s)
		end = s.end
	}
	return out
}
