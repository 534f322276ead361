package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkkeeper/internal/link"
	"github.com/JakeFAU/linkkeeper/internal/metrics"
)

// DefaultHealthBatch is the number of records probed per run.
const DefaultHealthBatch = 100

// Prober checks whether a URL still resolves.
type Prober interface {
	Probe(ctx context.Context, rawURL, domain string) link.ProbeResult
}

// HealthConfig controls the HealthChecker.
type HealthConfig struct {
	BatchSize     int
	DeadThreshold int
	// DeadTopic receives a notification when a link is declared dead.
	DeadTopic string
}

// DeadEvent is published on the alive to dead transition.
type DeadEvent struct {
	RecordID            int64  `json:"record_id"`
	URL                 string `json:"url"`
	Domain              string `json:"domain"`
	HTTPStatus          int    `json:"http_status"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	DeadSince           string `json:"dead_since"`
	Error               string `json:"error,omitempty"`
}

// HealthChecker probes the links that were checked least recently.
type HealthChecker struct {
	store     HealthStore
	prober    Prober
	publisher link.Publisher
	clock     link.Clock
	cfg       HealthConfig
	logger    *zap.Logger
}

// NewHealthChecker constructs a HealthChecker. publisher may be nil.
func NewHealthChecker(
	store HealthStore,
	prober Prober,
	publisher link.Publisher,
	clock link.Clock,
	cfg HealthConfig,
	logger *zap.Logger,
) *HealthChecker {
	if cfg.DeadThreshold <= 0 {
		cfg.DeadThreshold = link.DefaultDeadThreshold
	}
	return &HealthChecker{
		store:     store,
		prober:    prober,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    loggerOrNop(logger, "health"),
	}
}

// Run probes one batch.
func (h *HealthChecker) Run(ctx context.Context, opts Options) (Summary, error) {
	limit := batchSize(opts.Limit, batchSize(h.cfg.BatchSize, DefaultHealthBatch))
	ctx, r := startRun(ctx, "check-links", h.clock, h.logger, opts)

	recs, err := h.store.ListDueForCheck(ctx, limit)
	if err != nil {
		return r.finish(fmt.Errorf("list due records: %w", err))
	}

	for _, rec := range recs {
		res := h.prober.Probe(ctx, rec.URL, rec.Domain)
		if ctx.Err() != nil {
			// A canceled probe says nothing about the link.
			return r.finish(ctx.Err())
		}
		r.summary.Processed++

		update := link.ApplyProbe(rec, res, h.clock.Now(), h.cfg.DeadThreshold)
		if err := h.store.UpdateHealth(ctx, rec.ID, update); err != nil {
			r.summary.Failed++
			r.logger.Error("update health failed", append(recordFields(rec), zap.Error(err))...)
			continue
		}
		r.summary.Succeeded++
		metrics.ObserveCheck(checkResult(res))

		if !res.Healthy() {
			r.logger.Debug("probe failed", append(recordFields(rec),
				zap.Int("status", res.Status),
				zap.Int("consecutive_failures", update.ConsecutiveFailures),
				zap.String("error", res.Err))...)
		}
		if update.BecameDead {
			metrics.ObserveDeadTransition()
			r.logger.Info("link declared dead", append(recordFields(rec),
				zap.Int("consecutive_failures", update.ConsecutiveFailures))...)
			h.notifyDead(ctx, rec, res, update)
		}
	}
	return r.finish(nil)
}

func (h *HealthChecker) notifyDead(ctx context.Context, rec link.Record, res link.ProbeResult, u link.HealthUpdate) {
	if h.publisher == nil || h.cfg.DeadTopic == "" {
		return
	}
	event := DeadEvent{
		RecordID:            rec.ID,
		URL:                 rec.URL,
		Domain:              rec.Domain,
		HTTPStatus:          u.HTTPStatus,
		ConsecutiveFailures: u.ConsecutiveFailures,
		Error:               res.Err,
	}
	if u.DeadSince != nil {
		event.DeadSince = u.DeadSince.UTC().Format(time.RFC3339)
	}
	if _, err := h.publisher.Publish(ctx, h.cfg.DeadTopic, event); err != nil {
		h.logger.Warn("publish dead event failed", append(recordFields(rec), zap.Error(err))...)
	}
}

func checkResult(res link.ProbeResult) string {
	switch {
	case res.Soft404:
		return "soft_404"
	case res.Healthy():
		return "healthy"
	default:
		return "failed"
	}
}
