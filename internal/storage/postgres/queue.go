package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/JakeFAU/linkkeeper/internal/link"
)

// Enqueue appends discoveries to the queue in one statement.
func (s *LinkStore) Enqueue(ctx context.Context, items []link.QueueItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	urls := make([]string, len(items))
	docs := make([]int64, len(items))
	seen := make([]time.Time, len(items))
	for i, item := range items {
		urls[i] = item.URL
		docs[i] = item.DocumentID
		seen[i] = item.DiscoveredAt
	}
	const query = `
INSERT INTO link_queue (url, document_id, discovered_at)
SELECT * FROM unnest($1::text[], $2::bigint[], $3::timestamptz[])`
	tag, err := s.pool.Exec(ctx, query, urls, docs, seen)
	if err != nil {
		return 0, fmt.Errorf("enqueue links: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ClaimQueue stamps up to limit items with token and returns them in id
// order. Unclaimed items qualify, as do items whose claim is older than
// link.QueueLease. Rows locked by a concurrent drain are skipped.
func (s *LinkStore) ClaimQueue(ctx context.Context, token time.Time, limit int) ([]link.QueueItem, error) {
	const query = `
UPDATE link_queue SET claimed_at = $1
WHERE id IN (
	SELECT id FROM link_queue
	WHERE claimed_at IS NULL OR claimed_at < $3
	ORDER BY id
	LIMIT $2
	FOR UPDATE SKIP LOCKED
)
RETURNING id, url, document_id, discovered_at, claimed_at`
	rows, err := s.pool.Query(ctx, query, token, limitArg(limit), token.Add(-link.QueueLease))
	if err != nil {
		return nil, fmt.Errorf("claim queue: %w", err)
	}
	defer rows.Close()
	var out []link.QueueItem
	for rows.Next() {
		var item link.QueueItem
		if err := rows.Scan(&item.ID, &item.URL, &item.DocumentID, &item.DiscoveredAt, &item.ClaimedAt); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim queue: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ReleaseQueueItems clears the claim on the given items so the next drain
// picks them up. Items since reclaimed under another token are left alone.
func (s *LinkStore) ReleaseQueueItems(ctx context.Context, token time.Time, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE link_queue SET claimed_at = NULL WHERE id = ANY($1) AND claimed_at = $2`
	if _, err := s.pool.Exec(ctx, query, ids, token); err != nil {
		return fmt.Errorf("release queue items: %w", err)
	}
	return nil
}

// DeleteQueueItem removes a handled queue item.
func (s *LinkStore) DeleteQueueItem(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM link_queue WHERE id = $1`, id)
	return affected(tag.RowsAffected(), err, "delete queue item", id)
}
