package jobs

import (
	"context"
	"time"

	"github.com/JakeFAU/linkkeeper/internal/link"
)

// QueueStore is the store surface used by the Drainer.
type QueueStore interface {
	ClaimQueue(ctx context.Context, token time.Time, limit int) ([]link.QueueItem, error)
	ReleaseQueueItems(ctx context.Context, token time.Time, ids []int64) error
	DeleteQueueItem(ctx context.Context, id int64) error
	GetByFingerprint(ctx context.Context, fingerprint string) (link.Record, error)
	InsertRecord(ctx context.Context, rec link.Record) (int64, error)
	AddDocument(ctx context.Context, id, documentID int64) (bool, error)
}

// Enqueuer accepts newly discovered links.
type Enqueuer interface {
	Enqueue(ctx context.Context, items []link.QueueItem) (int, error)
}

// HealthStore is the store surface used by the HealthChecker.
type HealthStore interface {
	ListDueForCheck(ctx context.Context, limit int) ([]link.Record, error)
	UpdateHealth(ctx context.Context, id int64, u link.HealthUpdate) error
}

// ArchiveStore is the store surface used by the Archiver.
type ArchiveStore interface {
	ListArchiveCandidates(ctx context.Context, limit int) ([]link.Record, error)
	UpdateArchive(ctx context.Context, id int64, u link.ArchiveUpdate) error
}

// SnapshotStore is the store surface used by the Snapshotter.
type SnapshotStore interface {
	ListSnapshotCandidates(ctx context.Context, domains []string, limit int) ([]link.Record, error)
	UpdateStorage(ctx context.Context, id int64, u link.StorageUpdate) error
}

// RemediationStore is the store surface used by the Remediator.
type RemediationStore interface {
	ListRemediationCandidates(ctx context.Context, minFailures int, deadBefore time.Time) ([]link.Record, error)
	MarkRemediated(ctx context.Context, id int64, at time.Time) error
}

// Pacer spaces out requests sharing a key.
type Pacer interface {
	Wait(ctx context.Context, key string) error
}
