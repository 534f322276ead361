package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkkeeper/internal/link"
	"github.com/JakeFAU/linkkeeper/internal/metrics"
	"github.com/JakeFAU/linkkeeper/internal/urlnorm"
)

// DefaultDrainBatch is the number of queue items claimed per run.
const DefaultDrainBatch = 200

// Drainer turns queued discoveries into link records.
type Drainer struct {
	store     QueueStore
	clock     link.Clock
	batchSize int
	logger    *zap.Logger
}

// NewDrainer constructs a Drainer.
func NewDrainer(store QueueStore, clock link.Clock, batchSize int, logger *zap.Logger) *Drainer {
	return &Drainer{
		store:     store,
		clock:     clock,
		batchSize: batchSize,
		logger:    loggerOrNop(logger, "queue"),
	}
}

type drainResult string

const (
	drainCreated   drainResult = "created"
	drainLinked    drainResult = "linked"
	drainUnchanged drainResult = "unchanged"
	drainDiscarded drainResult = "discarded"
)

// Run claims one batch and processes it.
func (d *Drainer) Run(ctx context.Context, opts Options) (Summary, error) {
	limit := batchSize(opts.Limit, batchSize(d.batchSize, DefaultDrainBatch))
	ctx, r := startRun(ctx, "process-queue", d.clock, d.logger, opts)

	token := d.clock.Now()
	items, err := d.store.ClaimQueue(ctx, token, limit)
	if err != nil {
		return r.finish(fmt.Errorf("claim queue: %w", err))
	}

	var release []int64
	for i, item := range items {
		if ctx.Err() != nil {
			for _, rest := range items[i:] {
				release = append(release, rest.ID)
			}
			d.release(ctx, r, token, release)
			return r.finish(ctx.Err())
		}
		r.summary.Processed++
		res, err := d.handle(ctx, item)
		if err != nil {
			r.summary.Failed++
			metrics.ObserveQueueItem("failed")
			r.logger.Error("queue item failed",
				zap.Int64("queue_id", item.ID), zap.String("url", item.URL), zap.Error(err))
			release = append(release, item.ID)
			continue
		}
		metrics.ObserveQueueItem(string(res))
		if res == drainDiscarded {
			r.summary.Skipped++
		} else {
			r.summary.Succeeded++
		}
		if err := d.store.DeleteQueueItem(ctx, item.ID); err != nil && !errors.Is(err, link.ErrNotFound) {
			r.logger.Warn("delete queue item failed", zap.Int64("queue_id", item.ID), zap.Error(err))
		}
	}
	d.release(ctx, r, token, release)
	return r.finish(nil)
}

// release hands unfinished items back to the queue. It runs even after ctx
// is canceled; a release that fails is covered by the claim lease.
func (d *Drainer) release(ctx context.Context, r *run, token time.Time, ids []int64) {
	if len(ids) == 0 {
		return
	}
	if err := d.store.ReleaseQueueItems(context.WithoutCancel(ctx), token, ids); err != nil {
		r.logger.Warn("release queue claims failed", zap.Int("items", len(ids)), zap.Error(err))
	}
}

func (d *Drainer) handle(ctx context.Context, item link.QueueItem) (drainResult, error) {
	canonical := urlnorm.Normalize(item.URL)
	if canonical == "" {
		d.logger.Debug("discarding unparseable url", zap.Int64("queue_id", item.ID), zap.String("url", item.URL))
		return drainDiscarded, nil
	}
	fingerprint := urlnorm.Fingerprint(canonical)

	// A concurrent drain may insert the same fingerprint between our lookup
	// and insert; one retry resolves it to the existing record.
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := d.store.GetByFingerprint(ctx, fingerprint)
		switch {
		case err == nil:
			if existing.HasDocument(item.DocumentID) {
				return drainUnchanged, nil
			}
			changed, err := d.store.AddDocument(ctx, existing.ID, item.DocumentID)
			if err != nil {
				return "", fmt.Errorf("add document: %w", err)
			}
			if !changed {
				return drainUnchanged, nil
			}
			return drainLinked, nil
		case !errors.Is(err, link.ErrNotFound):
			return "", fmt.Errorf("lookup fingerprint: %w", err)
		}

		_, err = d.store.InsertRecord(ctx, link.Record{
			URL:           canonical,
			Fingerprint:   fingerprint,
			Domain:        urlnorm.Domain(canonical),
			DocumentIDs:   []int64{item.DocumentID},
			FirstSeen:     d.clock.Now(),
			ArchiveStatus: link.ArchiveNone,
		})
		if err == nil {
			return drainCreated, nil
		}
		if !errors.Is(err, link.ErrDuplicate) {
			return "", fmt.Errorf("insert record: %w", err)
		}
	}
	return "", fmt.Errorf("insert record: %w", link.ErrDuplicate)
}
