package link

import (
	"context"
	"errors"
	"io"
	"net/http"
	"slices"
	"time"
)

// ErrNotFound is returned by stores when a record or queue item does not exist.
var ErrNotFound = errors.New("link: not found")

// ErrDuplicate is returned when inserting a record whose fingerprint already exists.
var ErrDuplicate = errors.New("link: duplicate fingerprint")

// ArchiveStatus tracks the public-archive submission state of a record.
type ArchiveStatus string

const (
	// ArchiveNone means no archive copy is known and nothing was submitted.
	ArchiveNone ArchiveStatus = "none"
	// ArchivePending means a capture request was accepted but not yet observed.
	ArchivePending ArchiveStatus = "pending"
	// ArchiveSuccess means a public archive copy is recorded.
	ArchiveSuccess ArchiveStatus = "success"
	// ArchiveError means the last submission was rejected.
	ArchiveError ArchiveStatus = "error"
)

// Record is the persistent link record, unique by fingerprint.
type Record struct {
	ID                  int64         `json:"id"`
	URL                 string        `json:"url"`
	Fingerprint         string        `json:"fingerprint"`
	Domain              string        `json:"domain"`
	DocumentIDs         []int64       `json:"document_ids"`
	FirstSeen           time.Time     `json:"first_seen"`
	HTTPStatus          int           `json:"http_status"`
	LastCheckedAt       *time.Time    `json:"last_checked_at,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	IsDead              bool          `json:"is_dead"`
	DeadSince           *time.Time    `json:"dead_since,omitempty"`
	Soft404             bool          `json:"soft_404"`
	RedirectURL         string        `json:"redirect_url,omitempty"`
	ArchiveURL          string        `json:"archive_url,omitempty"`
	ArchiveTimestamp    *time.Time    `json:"archive_timestamp,omitempty"`
	ArchiveStatus       ArchiveStatus `json:"archive_status"`
	ArchiveCheckedAt    *time.Time    `json:"archive_checked_at,omitempty"`
	StorageKey          string        `json:"storage_key,omitempty"`
	StorageCheckedAt    *time.Time    `json:"storage_checked_at,omitempty"`
	StorageSize         int64         `json:"storage_size,omitempty"`
	Remediated          bool          `json:"remediated"`
	RemediatedAt        *time.Time    `json:"remediated_at,omitempty"`
}

// HasDocument reports whether the record is referenced by the document.
func (r Record) HasDocument(documentID int64) bool {
	_, found := slices.BinarySearch(r.DocumentIDs, documentID)
	return found
}

// AddDocument returns the sorted reference set with documentID added and
// whether the set changed.
func AddDocument(ids []int64, documentID int64) ([]int64, bool) {
	idx, found := slices.BinarySearch(ids, documentID)
	if found {
		return ids, false
	}
	out := make([]int64, 0, len(ids)+1)
	out = append(out, ids[:idx]...)
	out = append(out, documentID)
	out = append(out, ids[idx:]...)
	return out, true
}

// QueueLease is how long a claim on a queue item holds. A claim older than
// this is treated as abandoned and the item can be claimed again.
const QueueLease = 30 * time.Minute

// QueueItem is an unprocessed link discovery awaiting the drain job.
type QueueItem struct {
	ID           int64      `json:"id"`
	URL          string     `json:"url"`
	DocumentID   int64      `json:"document_id"`
	DiscoveredAt time.Time  `json:"discovered_at"`
	ClaimedAt    *time.Time `json:"claimed_at,omitempty"`
}

// ReviewEntry is a suggested fix the remediator could not apply automatically.
type ReviewEntry struct {
	DocumentID int64  `json:"document_id"`
	URL        string `json:"url"`
	ArchiveURL string `json:"archive_url"`
}

// ProbeResult is the outcome of one reachability check.
type ProbeResult struct {
	Status      int    `json:"status"`
	Alive       bool   `json:"alive"`
	Soft404     bool   `json:"soft_404"`
	RedirectURL string `json:"redirect_url,omitempty"`
	Err         string `json:"error,omitempty"`
}

// Healthy reports whether the probe counts as a success.
func (p ProbeResult) Healthy() bool {
	return p.Alive && !p.Soft404
}

// HealthUpdate is the set of fields the health checker writes back.
type HealthUpdate struct {
	HTTPStatus          int
	CheckedAt           time.Time
	ConsecutiveFailures int
	IsDead              bool
	DeadSince           *time.Time
	Soft404             bool
	RedirectURL         string
	// BecameDead is set on the transition from alive to dead.
	BecameDead bool
}

// ArchiveUpdate is the set of fields the archival job writes back. An empty
// ArchiveURL leaves the stored URL and timestamp untouched.
type ArchiveUpdate struct {
	ArchiveURL       string
	ArchiveTimestamp *time.Time
	Status           ArchiveStatus
	CheckedAt        time.Time
}

// StorageUpdate records a completed self-hosted capture.
type StorageUpdate struct {
	Key       string
	Size      int64
	CheckedAt time.Time
}

// Snapshot is the most recent capture found in a public archive.
type Snapshot struct {
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
}

// SubmitOutcome is the result class of a public-archive capture request.
type SubmitOutcome string

const (
	// SubmitAccepted means the archive queued a capture.
	SubmitAccepted SubmitOutcome = "accepted"
	// SubmitRejected means the archive refused the request.
	SubmitRejected SubmitOutcome = "rejected"
	// SubmitRateLimited means the archive asked us to slow down.
	SubmitRateLimited SubmitOutcome = "rate_limited"
)

// SubmitResult carries a submission outcome and any detail the archive returned.
type SubmitResult struct {
	Outcome SubmitOutcome `json:"outcome"`
	JobID   string        `json:"job_id,omitempty"`
	Message string        `json:"message,omitempty"`
}

// Page is a fetched HTTP response kept verbatim for self-hosted capture.
type Page struct {
	URL        string
	StatusCode int
	Proto      string
	Header     http.Header
	Body       []byte
	FetchedAt  time.Time
	// RequestHeader holds the headers sent for the final request, when known.
	RequestHeader http.Header
}

// Stats aggregates counts shown by the status surfaces.
type Stats struct {
	Total       int64 `json:"total"`
	Dead        int64 `json:"dead"`
	Archived    int64 `json:"archived"`
	Snapshotted int64 `json:"snapshotted"`
	Remediated  int64 `json:"remediated"`
	QueueDepth  int64 `json:"queue_depth"`
	Domains     int64 `json:"domains"`
}

// DomainHealth summarises the records of one domain.
type DomainHealth struct {
	Domain  string `json:"domain"`
	Total   int64  `json:"total"`
	Healthy int64  `json:"healthy"`
	Dead    int64  `json:"dead"`
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Sleeper blocks for a duration or until the context ends.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Publisher pushes lifecycle events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
