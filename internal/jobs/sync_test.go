package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type usage struct {
	url    string
	pageID int64
}

type stubInventory struct {
	links []usage
	err   error
}

func (s *stubInventory) ExternalLinks(_ context.Context, fn func(rawURL string, pageID int64) error) error {
	for _, u := range s.links {
		if err := fn(u.url, u.pageID); err != nil {
			return fmt.Errorf("callback: %w", err)
		}
	}
	return s.err
}

func TestSyncerEnqueuesExternalLinks(t *testing.T) {
	t.Parallel()

	store, clock := newFixture(t)
	inv := &stubInventory{links: []usage{
		{"http://a.example/", 1},
		{"ftp://files.example/x", 1},
		{"https://flowarts.wiki/wiki/Poi", 2},
		{"https://b.example/x", 2},
	}}

	sum, err := NewSyncer(inv, store, clock, "flowarts.wiki", nil).Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 4, sum.Processed)
	require.Equal(t, 2, sum.Succeeded)
	require.Equal(t, 2, sum.Skipped)

	items, err := store.ClaimQueue(context.Background(), runStart, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "http://a.example/", items[0].URL)
	require.EqualValues(t, 1, items[0].DocumentID)
	require.Equal(t, "https://b.example/x", items[1].URL)
	require.Equal(t, runStart, items[1].DiscoveredAt)
}

func TestSyncerHonorsLimit(t *testing.T) {
	t.Parallel()

	store, clock := newFixture(t)
	links := make([]usage, 0, 10)
	for i := 0; i < 10; i++ {
		links = append(links, usage{fmt.Sprintf("http://site%d.example/", i), int64(i)})
	}

	sum, err := NewSyncer(&stubInventory{links: links}, store, clock, "", nil).Run(context.Background(), Options{Limit: 3})
	require.NoError(t, err)
	require.Equal(t, 3, sum.Processed)
	require.Equal(t, 3, sum.Succeeded)
}

func TestSyncerReportsInventoryError(t *testing.T) {
	t.Parallel()

	store, clock := newFixture(t)
	inv := &stubInventory{links: []usage{{"http://a.example/", 1}}, err: errors.New("api down")}

	_, err := NewSyncer(inv, store, clock, "", nil).Run(context.Background(), Options{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "api down")
}

func TestIntakeDiscover(t *testing.T) {
	t.Parallel()

	store, clock := newFixture(t)
	intake := NewIntake(store, clock, "flowarts.wiki", nil)
	text := "See http://a.example/page. Also [https://b.example/x Site] and http://a.example/page again, " +
		"plus https://flowarts.wiki/wiki/Staff."

	n, err := intake.Discover(context.Background(), 42, text)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = intake.Discover(context.Background(), 43, "no links here")
	require.NoError(t, err)
	require.Zero(t, n)

	sum, err := NewDrainer(store, clock, 0, nil).Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 2, sum.Succeeded)
	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.Total)
}
