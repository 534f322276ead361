package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkkeeper/internal/link"
	"github.com/JakeFAU/linkkeeper/internal/wikitext"
)

// Intake queues the external links found in a saved document.
type Intake struct {
	queue        Enqueuer
	clock        link.Clock
	internalHost string
	logger       *zap.Logger
}

// NewIntake constructs an Intake. URLs on internalHost are skipped.
func NewIntake(queue Enqueuer, clock link.Clock, internalHost string, logger *zap.Logger) *Intake {
	return &Intake{
		queue:        queue,
		clock:        clock,
		internalHost: internalHost,
		logger:       loggerOrNop(logger, "intake"),
	}
}

// Discover extracts the distinct external URLs in text and enqueues them
// against documentID. It returns the number queued.
func (i *Intake) Discover(ctx context.Context, documentID int64, text string) (int, error) {
	now := i.clock.Now()
	var items []link.QueueItem
	for _, u := range wikitext.ExtractURLs(text) {
		if wikitext.IsInternal(u, i.internalHost) {
			continue
		}
		items = append(items, link.QueueItem{URL: u, DocumentID: documentID, DiscoveredAt: now})
	}
	if len(items) == 0 {
		return 0, nil
	}
	n, err := i.queue.Enqueue(ctx, items)
	if err != nil {
		return 0, fmt.Errorf("enqueue discoveries: %w", err)
	}
	i.logger.Debug("links discovered", zap.Int64("document_id", documentID), zap.Int("queued", n))
	return n, nil
}
