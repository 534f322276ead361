package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/linkkeeper/internal/link"
)

// Stats counts records by state.
func (s *LinkStore) Stats(ctx context.Context) (link.Stats, error) {
	const query = `
SELECT
	count(*),
	count(*) FILTER (WHERE is_dead),
	count(*) FILTER (WHERE archive_url IS NOT NULL AND archive_url <> ''),
	count(*) FILTER (WHERE storage_key IS NOT NULL AND storage_key <> ''),
	count(*) FILTER (WHERE remediated),
	(SELECT count(*) FROM link_queue),
	count(DISTINCT domain)
FROM link_records`
	var st link.Stats
	err := s.pool.QueryRow(ctx, query).Scan(
		&st.Total, &st.Dead, &st.Archived, &st.Snapshotted, &st.Remediated, &st.QueueDepth, &st.Domains,
	)
	if err != nil {
		return link.Stats{}, fmt.Errorf("link stats: %w", err)
	}
	return st, nil
}

// ListDead returns dead records, most recently dead first.
func (s *LinkStore) ListDead(ctx context.Context, limit int) ([]link.Record, error) {
	return s.queryRecords(ctx, "dead links", `
SELECT `+recordColumns+` FROM link_records
WHERE is_dead
ORDER BY dead_since DESC NULLS LAST, id
LIMIT $1`, limitArg(limit))
}

// DomainHealth summarises records per domain, busiest first.
func (s *LinkStore) DomainHealth(ctx context.Context, limit int) ([]link.DomainHealth, error) {
	const query = `
SELECT domain,
	count(*),
	count(*) FILTER (WHERE NOT is_dead AND consecutive_failures = 0),
	count(*) FILTER (WHERE is_dead)
FROM link_records
GROUP BY domain
ORDER BY count(*) DESC, domain
LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("domain health: %w", err)
	}
	defer rows.Close()
	var out []link.DomainHealth
	for rows.Next() {
		var dh link.DomainHealth
		if err := rows.Scan(&dh.Domain, &dh.Total, &dh.Healthy, &dh.Dead); err != nil {
			return nil, fmt.Errorf("scan domain health: %w", err)
		}
		out = append(out, dh)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("domain health: %w", err)
	}
	return out, nil
}
