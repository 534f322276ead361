package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkkeeper/internal/link"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func ts(d time.Duration) *time.Time {
	t := base.Add(d)
	return &t
}

func TestQueueClaimAndDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewLinkStore()
	n, err := store.Enqueue(ctx, []link.QueueItem{
		{URL: "http://a.example/", DocumentID: 1},
		{URL: "http://b.example/", DocumentID: 2},
		{URL: "http://c.example/", DocumentID: 3},
	})
	require.NoError(t, err)
	require.Equal(t, 3, n)

	first, err := store.ClaimQueue(ctx, base, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Equal(t, "http://a.example/", first[0].URL)
	require.Equal(t, base, *first[0].ClaimedAt)

	second, err := store.ClaimQueue(ctx, base.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.Equal(t, "http://c.example/", second[0].URL)

	require.NoError(t, store.DeleteQueueItem(ctx, first[0].ID))
	require.ErrorIs(t, store.DeleteQueueItem(ctx, first[0].ID), link.ErrNotFound)

	// A release under the wrong token is ignored.
	require.NoError(t, store.ReleaseQueueItems(ctx, base, []int64{second[0].ID}))
	none, err := store.ClaimQueue(ctx, base.Add(2*time.Minute), 10)
	require.NoError(t, err)
	require.Empty(t, none)

	require.NoError(t, store.ReleaseQueueItems(ctx, base.Add(time.Minute), []int64{second[0].ID, 99}))
	again, err := store.ClaimQueue(ctx, base.Add(3*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, again, 1)
	require.Equal(t, "http://c.example/", again[0].URL)

	// first[1] was never released; it comes back once the lease runs out.
	stale, err := store.ClaimQueue(ctx, base.Add(link.QueueLease+time.Second), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, first[1].ID, stale[0].ID)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.QueueDepth)
}

func TestInsertAndAddDocument(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewLinkStore()
	id, err := store.InsertRecord(ctx, link.Record{URL: "http://a.example/", Fingerprint: "fp", Domain: "a.example", DocumentIDs: []int64{42}})
	require.NoError(t, err)

	_, err = store.InsertRecord(ctx, link.Record{Fingerprint: "fp"})
	require.ErrorIs(t, err, link.ErrDuplicate)

	changed, err := store.AddDocument(ctx, id, 42)
	require.NoError(t, err)
	require.False(t, changed)
	changed, err = store.AddDocument(ctx, id, 7)
	require.NoError(t, err)
	require.True(t, changed)

	rec, err := store.GetByFingerprint(ctx, "fp")
	require.NoError(t, err)
	require.Equal(t, []int64{7, 42}, rec.DocumentIDs)
	require.Equal(t, link.ArchiveNone, rec.ArchiveStatus)

	_, err = store.GetByFingerprint(ctx, "missing")
	require.ErrorIs(t, err, link.ErrNotFound)
}

func TestListDueForCheckOrdersNullsFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewLinkStore()
	for i, checked := range []*time.Time{ts(2 * time.Hour), nil, ts(time.Hour), nil} {
		_, err := store.InsertRecord(ctx, link.Record{Fingerprint: string(rune('a' + i)), LastCheckedAt: checked})
		require.NoError(t, err)
	}

	recs, err := store.ListDueForCheck(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, []int64{2, 4, 3}, []int64{recs[0].ID, recs[1].ID, recs[2].ID})
}

func TestCandidateSelections(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewLinkStore()
	alive, _ := store.InsertRecord(ctx, link.Record{Fingerprint: "alive", Domain: "homeofpoi.com"})
	dead, _ := store.InsertRecord(ctx, link.Record{
		Fingerprint: "dead", Domain: "homeofpoi.com", IsDead: true, DeadSince: ts(0),
		ConsecutiveFailures: 8, ArchiveURL: "https://web.archive.org/web/1/x", ArchiveStatus: link.ArchiveSuccess,
	})
	other, _ := store.InsertRecord(ctx, link.Record{Fingerprint: "other", Domain: "other.example"})

	archive, err := store.ListArchiveCandidates(ctx, 10)
	require.NoError(t, err)
	require.Len(t, archive, 2)
	require.Equal(t, alive, archive[0].ID)
	require.Equal(t, other, archive[1].ID)

	snaps, err := store.ListSnapshotCandidates(ctx, []string{"homeofpoi.com"}, 0)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Equal(t, alive, snaps[0].ID)

	fixes, err := store.ListRemediationCandidates(ctx, 7, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, fixes, 1)
	require.Equal(t, dead, fixes[0].ID)

	require.NoError(t, store.MarkRemediated(ctx, dead, base))
	fixes, err = store.ListRemediationCandidates(ctx, 7, base.Add(time.Hour))
	require.NoError(t, err)
	require.Empty(t, fixes)
}

func TestUpdatesAndReports(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewLinkStore()
	id, _ := store.InsertRecord(ctx, link.Record{Fingerprint: "a", Domain: "a.example"})
	_, _ = store.InsertRecord(ctx, link.Record{Fingerprint: "b", Domain: "a.example"})

	require.NoError(t, store.UpdateHealth(ctx, id, link.HealthUpdate{
		HTTPStatus: 404, CheckedAt: base, ConsecutiveFailures: 3, IsDead: true, DeadSince: ts(0),
	}))
	require.NoError(t, store.UpdateArchive(ctx, id, link.ArchiveUpdate{
		ArchiveURL: "https://web.archive.org/web/1/x", Status: link.ArchiveSuccess, CheckedAt: base,
	}))
	require.NoError(t, store.UpdateArchive(ctx, id, link.ArchiveUpdate{Status: link.ArchiveError, CheckedAt: base}))
	require.NoError(t, store.UpdateStorage(ctx, id, link.StorageUpdate{Key: "warcs/a.example/x.warc.gz", Size: 10, CheckedAt: base}))
	require.ErrorIs(t, store.UpdateHealth(ctx, 99, link.HealthUpdate{}), link.ErrNotFound)

	rec, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "https://web.archive.org/web/1/x", rec.ArchiveURL)
	require.Equal(t, link.ArchiveError, rec.ArchiveStatus)
	require.True(t, rec.IsDead)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, link.Stats{Total: 2, Dead: 1, Archived: 1, Snapshotted: 1, Domains: 1}, stats)

	dead, err := store.ListDead(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)

	domains, err := store.DomainHealth(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []link.DomainHealth{{Domain: "a.example", Total: 2, Healthy: 1, Dead: 1}}, domains)
}
