package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkkeeper/internal/link"
	"github.com/JakeFAU/linkkeeper/internal/metrics"
	"github.com/JakeFAU/linkkeeper/internal/wiki"
	"github.com/JakeFAU/linkkeeper/internal/wikitext"
)

const (
	// DefaultMinFailures is the failure streak required before a dead link is rewritten.
	DefaultMinFailures = 7
	// DefaultMinDeadAge is how long a link must have been dead before it is rewritten.
	DefaultMinDeadAge = 30 * 24 * time.Hour
	// DefaultReviewPage collects suggestions that could not be applied automatically.
	DefaultReviewPage = "Project:LinkKeeper/Review"

	reviewSummary = "LinkKeeper: Added dead links for review"
)

// Documents reads and writes wiki page text.
type Documents interface {
	GetText(ctx context.Context, pageID int64) (string, error)
	SaveText(ctx context.Context, pageID int64, text, summary string) error
	GetTextByTitle(ctx context.Context, title string) (string, error)
	SaveTextByTitle(ctx context.Context, title, text, summary string) error
}

// RemediateConfig controls the Remediator.
type RemediateConfig struct {
	MinFailures     int
	MinDeadAge      time.Duration
	ReviewPage      string
	RemediatedTopic string
}

// RemediatedEvent is published once a record's documents were processed.
type RemediatedEvent struct {
	RecordID    int64   `json:"record_id"`
	URL         string  `json:"url"`
	ArchiveURL  string  `json:"archive_url"`
	DocumentIDs []int64 `json:"document_ids"`
	Patched     int     `json:"patched"`
	NeedsReview int     `json:"needs_review"`
}

// Remediator rewrites citations of long-dead links to their archive copies.
type Remediator struct {
	store     RemediationStore
	docs      Documents
	publisher link.Publisher
	clock     link.Clock
	caps      link.Capabilities
	cfg       RemediateConfig
	logger    *zap.Logger
}

// NewRemediator constructs a Remediator. publisher may be nil.
func NewRemediator(
	store RemediationStore,
	docs Documents,
	publisher link.Publisher,
	clock link.Clock,
	caps link.Capabilities,
	cfg RemediateConfig,
	logger *zap.Logger,
) *Remediator {
	if cfg.MinFailures <= 0 {
		cfg.MinFailures = DefaultMinFailures
	}
	if cfg.MinDeadAge <= 0 {
		cfg.MinDeadAge = DefaultMinDeadAge
	}
	if cfg.ReviewPage == "" {
		cfg.ReviewPage = DefaultReviewPage
	}
	return &Remediator{
		store:     store,
		docs:      docs,
		publisher: publisher,
		clock:     clock,
		caps:      caps,
		cfg:       cfg,
		logger:    loggerOrNop(logger, "remediate"),
	}
}

// Run processes every eligible record. Without the remediate capability the
// run is forced into dry-run.
func (m *Remediator) Run(ctx context.Context, opts Options) (Summary, error) {
	if !m.caps.Has(link.CapabilityRemediate) && !opts.DryRun {
		opts.DryRun = true
		m.logger.Warn("document writes unavailable; running as dry-run",
			zap.String("hint", "set wiki.username and wiki.password"))
	}
	ctx, r := startRun(ctx, "remediate-dead", m.clock, m.logger, opts)

	now := m.clock.Now()
	recs, err := m.store.ListRemediationCandidates(ctx, m.cfg.MinFailures, now.Add(-m.cfg.MinDeadAge))
	if err != nil {
		return r.finish(fmt.Errorf("list remediation candidates: %w", err))
	}
	if opts.Limit > 0 && len(recs) > opts.Limit {
		recs = recs[:opts.Limit]
	}

	var reviews []link.ReviewEntry
	for _, rec := range recs {
		if ctx.Err() != nil {
			return r.finish(ctx.Err())
		}
		r.summary.Processed++
		event, entries := m.remediate(ctx, r, rec, opts.DryRun)
		reviews = append(reviews, entries...)

		if opts.DryRun {
			r.summary.Skipped++
			continue
		}
		if err := m.store.MarkRemediated(ctx, rec.ID, m.clock.Now()); err != nil {
			r.summary.Failed++
			r.logger.Error("mark remediated failed", append(recordFields(rec), zap.Error(err))...)
			continue
		}
		r.summary.Succeeded++
		m.notify(ctx, rec, event)
	}

	if len(reviews) > 0 {
		if err := m.appendReview(ctx, r, now, reviews, opts.DryRun); err != nil {
			r.summary.Failed++
			r.logger.Error("append review page failed", zap.String("page", m.cfg.ReviewPage), zap.Error(err))
		}
	}
	return r.finish(nil)
}

func (m *Remediator) remediate(ctx context.Context, r *run, rec link.Record, dryRun bool) (RemediatedEvent, []link.ReviewEntry) {
	event := RemediatedEvent{
		RecordID:    rec.ID,
		URL:         rec.URL,
		ArchiveURL:  rec.ArchiveURL,
		DocumentIDs: rec.DocumentIDs,
	}
	var archivedAt time.Time
	if rec.ArchiveTimestamp != nil {
		archivedAt = *rec.ArchiveTimestamp
	}
	date := wikitext.FormatArchiveDate(archivedAt)

	var reviews []link.ReviewEntry
	for _, docID := range rec.DocumentIDs {
		fields := append(recordFields(rec), zap.Int64("document_id", docID))
		text, err := m.docs.GetText(ctx, docID)
		if err != nil {
			metrics.ObserveRemediation("fetch_failed")
			if errors.Is(err, wiki.ErrPageMissing) {
				r.logger.Info("document no longer exists", fields...)
				continue
			}
			// The record is still marked remediated, so leave the citation
			// for an editor.
			r.logger.Warn("fetch document failed", append(fields, zap.Error(err))...)
			reviews = append(reviews, link.ReviewEntry{DocumentID: docID, URL: rec.URL, ArchiveURL: rec.ArchiveURL})
			event.NeedsReview++
			continue
		}

		res := wikitext.PatchCitations(text, rec.URL, rec.ArchiveURL, date)
		entry := link.ReviewEntry{DocumentID: docID, URL: rec.URL, ArchiveURL: rec.ArchiveURL}
		if res.NeedsReview {
			reviews = append(reviews, entry)
			event.NeedsReview++
		}
		metrics.ObserveRemediation(res.Outcome.String())
		if res.Outcome != wikitext.Patched {
			r.logger.Debug("document left unchanged", append(fields, zap.Stringer("outcome", res.Outcome))...)
			continue
		}

		if dryRun {
			r.summary.intend(fmt.Sprintf("patch %d citation(s) of %s in document %d", res.Patched, rec.URL, docID))
			r.logger.Info("would patch citations", append(fields, zap.Int("citations", res.Patched), zap.Bool("dry_run", true))...)
			continue
		}
		summary := "LinkKeeper: Added archive URL for dead link " + rec.URL
		if err := m.docs.SaveText(ctx, docID, res.Text, summary); err != nil {
			metrics.ObserveRemediation("save_failed")
			r.logger.Warn("save document failed", append(fields, zap.Error(err))...)
			if !res.NeedsReview {
				reviews = append(reviews, entry)
				event.NeedsReview++
			}
			continue
		}
		event.Patched += res.Patched
		r.logger.Info("citations patched", append(fields, zap.Int("citations", res.Patched))...)
	}
	return event, reviews
}

func (m *Remediator) appendReview(ctx context.Context, r *run, now time.Time, entries []link.ReviewEntry, dryRun bool) error {
	if dryRun {
		for _, e := range entries {
			r.summary.intend(fmt.Sprintf("review %s in document %d", e.URL, e.DocumentID))
		}
		r.logger.Info("would append review entries",
			zap.String("page", m.cfg.ReviewPage), zap.Int("entries", len(entries)), zap.Bool("dry_run", true))
		return nil
	}

	existing, err := m.docs.GetTextByTitle(ctx, m.cfg.ReviewPage)
	if err != nil && !errors.Is(err, wiki.ErrPageMissing) {
		return fmt.Errorf("read review page: %w", err)
	}
	text := wikitext.AppendReview(existing, wikitext.ReviewSection(now, entries))
	if err := m.docs.SaveTextByTitle(ctx, m.cfg.ReviewPage, text, reviewSummary); err != nil {
		return fmt.Errorf("save review page: %w", err)
	}
	r.logger.Info("review entries appended", zap.String("page", m.cfg.ReviewPage), zap.Int("entries", len(entries)))
	return nil
}

func (m *Remediator) notify(ctx context.Context, rec link.Record, event RemediatedEvent) {
	if m.publisher == nil || m.cfg.RemediatedTopic == "" {
		return
	}
	if _, err := m.publisher.Publish(ctx, m.cfg.RemediatedTopic, event); err != nil {
		m.logger.Warn("publish remediated event failed", append(recordFields(rec), zap.Error(err))...)
	}
}
