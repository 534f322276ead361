package jobs

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkkeeper/internal/link"
	"github.com/JakeFAU/linkkeeper/internal/wikitext"
)

const syncFlushSize = 500

var errSyncLimit = errors.New("sync limit reached")

// LinkInventory enumerates every external link the document system knows about.
type LinkInventory interface {
	ExternalLinks(ctx context.Context, fn func(rawURL string, pageID int64) error) error
}

// Syncer enqueues the document system's full external-link table.
type Syncer struct {
	inventory    LinkInventory
	queue        Enqueuer
	clock        link.Clock
	internalHost string
	logger       *zap.Logger
}

// NewSyncer constructs a Syncer. URLs on internalHost are skipped.
func NewSyncer(inventory LinkInventory, queue Enqueuer, clock link.Clock, internalHost string, logger *zap.Logger) *Syncer {
	return &Syncer{
		inventory:    inventory,
		queue:        queue,
		clock:        clock,
		internalHost: internalHost,
		logger:       loggerOrNop(logger, "sync"),
	}
}

// Run walks the inventory once. A positive limit stops after that many
// links were seen.
func (s *Syncer) Run(ctx context.Context, opts Options) (Summary, error) {
	ctx, r := startRun(ctx, "sync-externallinks", s.clock, s.logger, opts)

	var pending []link.QueueItem
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		n, err := s.queue.Enqueue(ctx, pending)
		if err != nil {
			r.summary.Failed += len(pending)
			pending = pending[:0]
			return fmt.Errorf("enqueue: %w", err)
		}
		r.summary.Succeeded += n
		pending = pending[:0]
		return nil
	}

	now := s.clock.Now()
	err := s.inventory.ExternalLinks(ctx, func(rawURL string, pageID int64) error {
		if opts.Limit > 0 && r.summary.Processed >= opts.Limit {
			return errSyncLimit
		}
		r.summary.Processed++
		if !wikitext.IsWebURL(rawURL) || wikitext.IsInternal(rawURL, s.internalHost) {
			r.summary.Skipped++
			return nil
		}
		pending = append(pending, link.QueueItem{URL: rawURL, DocumentID: pageID, DiscoveredAt: now})
		if len(pending) >= syncFlushSize {
			return flush()
		}
		return nil
	})
	if err != nil && !errors.Is(err, errSyncLimit) {
		return r.finish(fmt.Errorf("walk external links: %w", err))
	}
	if err := flush(); err != nil {
		return r.finish(err)
	}
	return r.finish(nil)
}
