package probe

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var notFoundPhrases = regexp.MustCompile(
	`(?i)page\s*not\s*found|404\s*(error|not\s*found)|doesn.t\s*exist|no\s*longer\s*available|` +
		`has\s*been\s*(removed|deleted)|this\s*page\s*(is\s*)?no\s*longer`,
)

// Soft404Detector recognizes "not found" pages served with a success status.
type Soft404Detector struct {
	// MaxBodyBytes is the size below which a body is considered for matching.
	MaxBodyBytes int
}

// NewSoft404Detector creates a detector; threshold defaults to 1024 bytes.
func NewSoft404Detector(threshold int) *Soft404Detector {
	if threshold <= 0 {
		threshold = 1024
	}
	return &Soft404Detector{MaxBodyBytes: threshold}
}

// Matches reports whether body reads like a not-found page.
func (d *Soft404Detector) Matches(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	return notFoundPhrases.MatchString(visibleText(body))
}

// visibleText returns the document title and text, or the raw body when it
// does not parse as HTML.
func visibleText(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return string(body)
	}
	doc.Find("script, style").Remove()
	text := strings.Join([]string{doc.Find("title").Text(), doc.Find("body").Text()}, " ")
	if strings.TrimSpace(text) == "" {
		return string(body)
	}
	return strings.Join(strings.Fields(text), " ")
}
