package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkkeeper/internal/link"
	"github.com/JakeFAU/linkkeeper/internal/metrics"
	"github.com/JakeFAU/linkkeeper/internal/wayback"
)

const (
	// DefaultArchiveBatch is the number of records considered per run.
	DefaultArchiveBatch = 50
	// DefaultFreshness is how old a public snapshot may be before a new
	// capture is requested.
	DefaultFreshness = 90 * 24 * time.Hour
	// SubmitPaceKey is the pacer key shared by every paid submission.
	SubmitPaceKey = "spn2"
)

// ArchiveIndex looks up and requests public archive captures.
type ArchiveIndex interface {
	LookupLatest(ctx context.Context, rawURL string) (link.Snapshot, bool, error)
	Submit(ctx context.Context, rawURL string, creds wayback.Credentials) (link.SubmitResult, error)
}

// ArchiveConfig controls the Archiver.
type ArchiveConfig struct {
	BatchSize   int
	Freshness   time.Duration
	Credentials wayback.Credentials
}

// Archiver makes sure live links have a recent public archive copy.
type Archiver struct {
	store  ArchiveStore
	index  ArchiveIndex
	pacer  Pacer
	clock  link.Clock
	caps   link.Capabilities
	cfg    ArchiveConfig
	logger *zap.Logger
}

// NewArchiver constructs an Archiver. pacer spaces paid submissions under
// SubmitPaceKey.
func NewArchiver(
	store ArchiveStore,
	index ArchiveIndex,
	pacer Pacer,
	clock link.Clock,
	caps link.Capabilities,
	cfg ArchiveConfig,
	logger *zap.Logger,
) *Archiver {
	if cfg.Freshness <= 0 {
		cfg.Freshness = DefaultFreshness
	}
	return &Archiver{
		store:  store,
		index:  index,
		pacer:  pacer,
		clock:  clock,
		caps:   caps,
		cfg:    cfg,
		logger: loggerOrNop(logger, "archive"),
	}
}

// Run considers one batch of archive candidates.
func (a *Archiver) Run(ctx context.Context, opts Options) (Summary, error) {
	limit := batchSize(opts.Limit, batchSize(a.cfg.BatchSize, DefaultArchiveBatch))
	ctx, r := startRun(ctx, "submit-archive", a.clock, a.logger, opts)

	canSubmit := a.caps.Has(link.CapabilityArchive) && a.cfg.Credentials.Valid()
	if !canSubmit && !opts.DryRun {
		r.summary.Unavailable = link.CapabilityArchive
		r.logger.Warn("archive submission unavailable; only free lookups will run",
			zap.String("hint", "set archive.access_key and archive.secret_key"))
	}

	recs, err := a.store.ListArchiveCandidates(ctx, limit)
	if err != nil {
		return r.finish(fmt.Errorf("list archive candidates: %w", err))
	}

	for _, rec := range recs {
		if ctx.Err() != nil {
			return r.finish(ctx.Err())
		}
		r.summary.Processed++
		if err := a.archive(ctx, r, rec, canSubmit, opts.DryRun); err != nil {
			r.summary.Failed++
			r.logger.Error("archive record failed", append(recordFields(rec), zap.Error(err))...)
		}
	}
	return r.finish(nil)
}

func (a *Archiver) archive(ctx context.Context, r *run, rec link.Record, canSubmit, dryRun bool) error {
	now := a.clock.Now()
	update := link.ArchiveUpdate{Status: rec.ArchiveStatus, CheckedAt: now}
	if update.Status == "" {
		update.Status = link.ArchiveNone
	}

	snap, found, err := a.index.LookupLatest(ctx, rec.URL)
	if err != nil {
		// The paid tier still gets a chance when the free index is down.
		r.logger.Warn("snapshot lookup failed", append(recordFields(rec), zap.Error(err))...)
		found = false
	}
	if found {
		ts := snap.Timestamp
		update.ArchiveURL = snap.URL
		update.ArchiveTimestamp = &ts
		update.Status = link.ArchiveSuccess
		if now.Sub(snap.Timestamp) <= a.cfg.Freshness {
			if err := a.persist(ctx, rec, update); err != nil {
				return err
			}
			metrics.ObserveArchiveOutcome("fresh")
			r.summary.Succeeded++
			return nil
		}
	}

	switch {
	case dryRun:
		if found {
			if err := a.persist(ctx, rec, update); err != nil {
				return err
			}
		}
		r.summary.Skipped++
		r.summary.intend("submit " + rec.URL)
		r.logger.Info("would submit for capture", append(recordFields(rec), zap.Bool("dry_run", true))...)
		return nil
	case !canSubmit:
		if err := a.persist(ctx, rec, update); err != nil {
			return err
		}
		r.summary.Skipped++
		metrics.ObserveArchiveOutcome("unavailable")
		return nil
	}

	if err := a.pacer.Wait(ctx, SubmitPaceKey); err != nil {
		return fmt.Errorf("wait for submission slot: %w", err)
	}
	res, err := a.index.Submit(ctx, rec.URL, a.cfg.Credentials)
	switch {
	case err != nil:
		update.Status = link.ArchiveError
		metrics.ObserveArchiveOutcome("error")
		r.logger.Warn("capture request failed", append(recordFields(rec), zap.Error(err))...)
	case res.Outcome == link.SubmitAccepted:
		update.Status = link.ArchivePending
		metrics.ObserveArchiveOutcome(string(res.Outcome))
		r.logger.Info("capture requested", append(recordFields(rec), zap.String("job_id", res.JobID))...)
	default:
		update.Status = link.ArchiveError
		metrics.ObserveArchiveOutcome(string(res.Outcome))
		r.logger.Warn("capture request not accepted", append(recordFields(rec),
			zap.String("outcome", string(res.Outcome)), zap.String("message", res.Message))...)
	}
	if err := a.persist(ctx, rec, update); err != nil {
		return err
	}
	if update.Status != link.ArchivePending {
		r.summary.Failed++
		return nil
	}
	r.summary.Succeeded++
	return nil
}

func (a *Archiver) persist(ctx context.Context, rec link.Record, u link.ArchiveUpdate) error {
	if err := a.store.UpdateArchive(ctx, rec.ID, u); err != nil {
		return fmt.Errorf("update archive: %w", err)
	}
	return nil
}
