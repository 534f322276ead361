package jobs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkkeeper/internal/link"
	"github.com/JakeFAU/linkkeeper/internal/metrics"
	"github.com/JakeFAU/linkkeeper/internal/warc"
)

// PageFetcher retrieves a full HTTP response for capture.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (link.Page, error)
}

// SnapshotConfig controls the Snapshotter.
type SnapshotConfig struct {
	// Domains is the default priority list when no single domain is requested.
	Domains []string
	// TempDir holds WARC files between writing and upload. Empty means os.TempDir.
	TempDir string
	// KeyPrefix is prepended to every object key.
	KeyPrefix string
}

// Snapshotter keeps self-hosted WARC captures of links on priority domains.
type Snapshotter struct {
	store   SnapshotStore
	fetcher PageFetcher
	blobs   link.BlobStore
	ids     link.IDGenerator
	clock   link.Clock
	caps    link.Capabilities
	cfg     SnapshotConfig
	logger  *zap.Logger
}

// NewSnapshotter constructs a Snapshotter. blobs may be nil when no object
// storage is configured; runs then report the capability as unavailable.
func NewSnapshotter(
	store SnapshotStore,
	fetcher PageFetcher,
	blobs link.BlobStore,
	ids link.IDGenerator,
	clock link.Clock,
	caps link.Capabilities,
	cfg SnapshotConfig,
	logger *zap.Logger,
) *Snapshotter {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "warcs"
	}
	return &Snapshotter{
		store:   store,
		fetcher: fetcher,
		blobs:   blobs,
		ids:     ids,
		clock:   clock,
		caps:    caps,
		cfg:     cfg,
		logger:  loggerOrNop(logger, "snapshot"),
	}
}

// Run captures one pass over the selected domains. A zero limit captures
// every candidate.
func (s *Snapshotter) Run(ctx context.Context, opts Options) (Summary, error) {
	ctx, r := startRun(ctx, "snapshot-critical", s.clock, s.logger, opts)

	if !s.caps.Has(link.CapabilitySnapshot) || s.blobs == nil {
		r.summary.Unavailable = link.CapabilitySnapshot
		r.logger.Warn("snapshot capture unavailable", zap.String("hint", "configure storage.backend"))
		return r.finish(nil)
	}

	domains := s.cfg.Domains
	if opts.Domain != "" {
		domains = []string{opts.Domain}
	}
	if len(domains) == 0 {
		r.logger.Warn("no snapshot domains configured")
		return r.finish(nil)
	}

	recs, err := s.store.ListSnapshotCandidates(ctx, domains, opts.Limit)
	if err != nil {
		return r.finish(fmt.Errorf("list snapshot candidates: %w", err))
	}

	for _, rec := range recs {
		if ctx.Err() != nil {
			return r.finish(ctx.Err())
		}
		r.summary.Processed++
		key, size, err := s.capture(ctx, rec)
		if err != nil {
			r.summary.Failed++
			metrics.ObserveSnapshot("failed", 0)
			r.logger.Warn("snapshot failed", append(recordFields(rec), zap.Error(err))...)
			continue
		}
		r.summary.Succeeded++
		metrics.ObserveSnapshot("stored", size)
		r.logger.Info("snapshot stored", append(recordFields(rec),
			zap.String("key", key), zap.Int64("size", size))...)
	}
	return r.finish(nil)
}

func (s *Snapshotter) capture(ctx context.Context, rec link.Record) (string, int64, error) {
	page, err := s.fetcher.Fetch(ctx, rec.URL)
	if err != nil {
		return "", 0, fmt.Errorf("fetch: %w", err)
	}

	now := s.clock.Now()
	filename := warc.Filename(rec.URL, now)
	path, size, err := s.writeWARC(page, rec.URL, filename, now)
	if path != "" {
		defer func() {
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				s.logger.Warn("remove temp warc failed", zap.String("path", path), zap.Error(rmErr))
			}
		}()
	}
	if err != nil {
		return "", 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("reopen warc: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			s.logger.Warn("close temp warc failed", zap.String("path", path), zap.Error(cerr))
		}
	}()

	key := s.cfg.KeyPrefix + "/" + rec.Domain + "/" + filename
	uri, err := s.blobs.PutObject(ctx, key, warc.ContentType, f)
	if err != nil {
		return "", 0, fmt.Errorf("upload warc: %w", err)
	}

	if err := s.store.UpdateStorage(ctx, rec.ID, link.StorageUpdate{Key: key, Size: size, CheckedAt: now}); err != nil {
		return "", 0, fmt.Errorf("update storage: %w", err)
	}
	s.logger.Debug("warc uploaded", zap.String("uri", uri))
	return key, size, nil
}

// writeWARC writes the capture to a file under the temp dir. The returned
// path is set whenever a file was created, even on error.
func (s *Snapshotter) writeWARC(page link.Page, targetURL, filename string, now time.Time) (string, int64, error) {
	dir := s.cfg.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create temp dir: %w", err)
	}
	f, err := os.CreateTemp(dir, "capture-*-"+filepath.Base(filename))
	if err != nil {
		return "", 0, fmt.Errorf("create temp warc: %w", err)
	}
	path := f.Name()

	w := warc.NewWriter(f, s.ids)
	infoID, err := w.WriteInfo(now, filename, warc.DefaultInfo)
	if err == nil {
		fetchedAt := page.FetchedAt
		if fetchedAt.IsZero() {
			fetchedAt = now
		}
		var respID string
		respID, err = w.WriteResponse(warc.Response{
			TargetURI:  targetURL,
			Date:       fetchedAt,
			Proto:      page.Proto,
			StatusCode: page.StatusCode,
			Header:     captureHeader(page.Header, len(page.Body)),
			Body:       page.Body,
		}, infoID)
		if err == nil && page.RequestHeader != nil {
			_, err = w.WriteRequest(warc.Request{
				TargetURI: targetURL,
				Date:      fetchedAt,
				Header:    page.RequestHeader,
			}, infoID, respID)
		}
	}
	if err != nil {
		_ = f.Close()
		return path, 0, err
	}

	size, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		_ = f.Close()
		return path, 0, fmt.Errorf("size temp warc: %w", err)
	}
	if err := f.Close(); err != nil {
		return path, 0, fmt.Errorf("close temp warc: %w", err)
	}
	return path, size, nil
}

// captureHeader describes the stored body, which is already decoded.
func captureHeader(h http.Header, bodyLen int) http.Header {
	out := h.Clone()
	if out == nil {
		out = http.Header{}
	}
	out.Del("Content-Encoding")
	out.Del("Transfer-Encoding")
	out.Set("Content-Length", strconv.Itoa(bodyLen))
	return out
}
