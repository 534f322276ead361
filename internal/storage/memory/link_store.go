package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/linkkeeper/internal/link"
)

// LinkStore keeps link records and the discovery queue in memory. It backs
// tests and local runs without a database.
type LinkStore struct {
	mu      sync.RWMutex
	records map[int64]link.Record
	byFP    map[string]int64
	queue   map[int64]link.QueueItem
	nextRec int64
	nextQ   int64
}

// NewLinkStore constructs an empty LinkStore.
func NewLinkStore() *LinkStore {
	return &LinkStore{
		records: make(map[int64]link.Record),
		byFP:    make(map[string]int64),
		queue:   make(map[int64]link.QueueItem),
	}
}

// Ping always succeeds.
func (s *LinkStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *LinkStore) Close() {}

// Enqueue appends discoveries to the queue.
func (s *LinkStore) Enqueue(_ context.Context, items []link.QueueItem) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		s.nextQ++
		item.ID = s.nextQ
		item.ClaimedAt = nil
		s.queue[item.ID] = item
	}
	return len(items), nil
}

// ClaimQueue marks up to limit unclaimed or stale items with token and
// returns them in id order.
func (s *LinkStore) ClaimQueue(_ context.Context, token time.Time, limit int) ([]link.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stale := token.Add(-link.QueueLease)
	ids := make([]int64, 0, len(s.queue))
	for id, item := range s.queue {
		if item.ClaimedAt == nil || item.ClaimedAt.Before(stale) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]link.QueueItem, 0, len(ids))
	for _, id := range ids {
		item := s.queue[id]
		claimed := token
		item.ClaimedAt = &claimed
		s.queue[id] = item
		out = append(out, item)
	}
	return out, nil
}

// ReleaseQueueItems clears claims still held under token.
func (s *LinkStore) ReleaseQueueItems(_ context.Context, token time.Time, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		item, ok := s.queue[id]
		if !ok || item.ClaimedAt == nil || !item.ClaimedAt.Equal(token) {
			continue
		}
		item.ClaimedAt = nil
		s.queue[id] = item
	}
	return nil
}

// DeleteQueueItem removes a handled queue item.
func (s *LinkStore) DeleteQueueItem(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queue[id]; !ok {
		return link.ErrNotFound
	}
	delete(s.queue, id)
	return nil
}

// GetByFingerprint returns the record with the given fingerprint.
func (s *LinkStore) GetByFingerprint(_ context.Context, fingerprint string) (link.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byFP[fingerprint]
	if !ok {
		return link.Record{}, link.ErrNotFound
	}
	return cloneRecord(s.records[id]), nil
}

// Get returns the record with the given id.
func (s *LinkStore) Get(_ context.Context, id int64) (link.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return link.Record{}, link.ErrNotFound
	}
	return cloneRecord(rec), nil
}

// InsertRecord stores a new record and returns its id.
func (s *LinkStore) InsertRecord(_ context.Context, rec link.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byFP[rec.Fingerprint]; exists {
		return 0, link.ErrDuplicate
	}
	s.nextRec++
	rec.ID = s.nextRec
	if rec.ArchiveStatus == "" {
		rec.ArchiveStatus = link.ArchiveNone
	}
	s.records[rec.ID] = cloneRecord(rec)
	s.byFP[rec.Fingerprint] = rec.ID
	return rec.ID, nil
}

// AddDocument adds documentID to the record's reference set and reports
// whether the set changed.
func (s *LinkStore) AddDocument(_ context.Context, id, documentID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return false, link.ErrNotFound
	}
	docs, changed := link.AddDocument(rec.DocumentIDs, documentID)
	rec.DocumentIDs = docs
	s.records[id] = rec
	return changed, nil
}

// ListDueForCheck returns records ordered by last check, never-checked first.
func (s *LinkStore) ListDueForCheck(_ context.Context, limit int) ([]link.Record, error) {
	return s.list(func(link.Record) bool { return true },
		func(r link.Record) *time.Time { return r.LastCheckedAt }, limit), nil
}

// UpdateHealth writes a probe outcome.
func (s *LinkStore) UpdateHealth(_ context.Context, id int64, u link.HealthUpdate) error {
	return s.update(id, func(rec *link.Record) { rec.Apply(u) })
}

// ListArchiveCandidates returns live records without a successful archive.
func (s *LinkStore) ListArchiveCandidates(_ context.Context, limit int) ([]link.Record, error) {
	return s.list(link.Record.ArchiveEligible,
		func(r link.Record) *time.Time { return r.ArchiveCheckedAt }, limit), nil
}

// UpdateArchive writes an archival outcome.
func (s *LinkStore) UpdateArchive(_ context.Context, id int64, u link.ArchiveUpdate) error {
	return s.update(id, func(rec *link.Record) {
		if u.ArchiveURL != "" {
			rec.ArchiveURL = u.ArchiveURL
			rec.ArchiveTimestamp = u.ArchiveTimestamp
		}
		rec.ArchiveStatus = u.Status
		checked := u.CheckedAt
		rec.ArchiveCheckedAt = &checked
	})
}

// ListSnapshotCandidates returns live records in the given domains, least
// recently captured first.
func (s *LinkStore) ListSnapshotCandidates(_ context.Context, domains []string, limit int) ([]link.Record, error) {
	allowed := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		allowed[d] = struct{}{}
	}
	return s.list(func(r link.Record) bool {
		_, ok := allowed[r.Domain]
		return ok && !r.IsDead
	}, func(r link.Record) *time.Time { return r.StorageCheckedAt }, limit), nil
}

// UpdateStorage records a completed capture.
func (s *LinkStore) UpdateStorage(_ context.Context, id int64, u link.StorageUpdate) error {
	return s.update(id, func(rec *link.Record) {
		rec.StorageKey = u.Key
		rec.StorageSize = u.Size
		checked := u.CheckedAt
		rec.StorageCheckedAt = &checked
	})
}

// ListRemediationCandidates returns dead, archived, unremediated records.
func (s *LinkStore) ListRemediationCandidates(_ context.Context, minFailures int, deadBefore time.Time) ([]link.Record, error) {
	return s.list(func(r link.Record) bool {
		return r.RemediationEligible(minFailures, deadBefore)
	}, func(link.Record) *time.Time { return nil }, 0), nil
}

// MarkRemediated flags the record as rewritten.
func (s *LinkStore) MarkRemediated(_ context.Context, id int64, at time.Time) error {
	return s.update(id, func(rec *link.Record) {
		rec.Remediated = true
		rec.RemediatedAt = &at
	})
}

// Stats counts records by state.
func (s *LinkStore) Stats(context.Context) (link.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := link.Stats{Total: int64(len(s.records)), QueueDepth: int64(len(s.queue))}
	domains := map[string]struct{}{}
	for _, rec := range s.records {
		domains[rec.Domain] = struct{}{}
		if rec.IsDead {
			stats.Dead++
		}
		if rec.ArchiveURL != "" {
			stats.Archived++
		}
		if rec.StorageKey != "" {
			stats.Snapshotted++
		}
		if rec.Remediated {
			stats.Remediated++
		}
	}
	stats.Domains = int64(len(domains))
	return stats, nil
}

// ListDead returns dead records, most recently dead first.
func (s *LinkStore) ListDead(_ context.Context, limit int) ([]link.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []link.Record
	for _, rec := range s.records {
		if rec.IsDead {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].DeadSince, out[j].DeadSince
		if a != nil && b != nil && !a.Equal(*b) {
			return a.After(*b)
		}
		if (a == nil) != (b == nil) {
			return a != nil
		}
		return out[i].ID < out[j].ID
	})
	return truncate(out, limit), nil
}

// DomainHealth summarises records per domain, busiest first.
func (s *LinkStore) DomainHealth(_ context.Context, limit int) ([]link.DomainHealth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byDomain := map[string]*link.DomainHealth{}
	for _, rec := range s.records {
		dh, ok := byDomain[rec.Domain]
		if !ok {
			dh = &link.DomainHealth{Domain: rec.Domain}
			byDomain[rec.Domain] = dh
		}
		dh.Total++
		if rec.IsDead {
			dh.Dead++
		} else if rec.ConsecutiveFailures == 0 {
			dh.Healthy++
		}
	}
	out := make([]link.DomainHealth, 0, len(byDomain))
	for _, dh := range byDomain {
		out = append(out, *dh)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Domain < out[j].Domain
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *LinkStore) update(id int64, fn func(*link.Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return link.ErrNotFound
	}
	fn(&rec)
	s.records[id] = rec
	return nil
}

// list filters records and orders them by the key timestamp, nulls first,
// then by id.
func (s *LinkStore) list(keep func(link.Record) bool, key func(link.Record) *time.Time, limit int) []link.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []link.Record
	for _, rec := range s.records {
		if keep(rec) {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := key(out[i]), key(out[j])
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return out[i].ID < out[j].ID
	})
	return truncate(out, limit)
}

func truncate(recs []link.Record, limit int) []link.Record {
	if limit > 0 && len(recs) > limit {
		return recs[:limit]
	}
	return recs
}

func cloneRecord(rec link.Record) link.Record {
	rec.DocumentIDs = append([]int64(nil), rec.DocumentIDs...)
	return rec
}
