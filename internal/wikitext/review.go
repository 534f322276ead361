package wikitext

import (
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/linkkeeper/internal/link"
)

// ReviewNotice heads a newly created review page.
const ReviewNotice = "{{Notice|This page is maintained by the LinkKeeper bot. Review dead links below and approve fixes.}}"

// ReviewSection renders one dated batch of review entries.
func ReviewSection(date time.Time, entries []link.ReviewEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n== Review batch %s ==\n", date.UTC().Format("2006-01-02"))
	for _, e := range entries {
		fmt.Fprintf(&b, "* [[Special:Redirect/page/%d|Page %d]]: <code>%s</code> → [%s archive]\n",
			e.DocumentID, e.DocumentID, e.URL, e.ArchiveURL)
	}
	return b.String()
}

// AppendReview adds section to the existing review page text, starting a new
// page with the standing notice when existing is empty.
func AppendReview(existing, section string) string {
	if strings.TrimSpace(existing) == "" {
		return ReviewNotice + "\n\n" + section
	}
	return existing + "\n" + section
}
