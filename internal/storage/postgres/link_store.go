package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/linkkeeper/internal/link"
)

const recordColumns = `id, url, fingerprint, domain, document_ids, first_seen, http_status,
	last_checked_at, consecutive_failures, is_dead, dead_since, soft_404,
	COALESCE(redirect_url, ''), COALESCE(archive_url, ''), archive_timestamp, archive_status,
	archive_checked_at, COALESCE(storage_key, ''), storage_checked_at, storage_size,
	remediated, remediated_at`

func scanRecord(row pgx.Row) (link.Record, error) {
	var (
		rec    link.Record
		status string
	)
	err := row.Scan(
		&rec.ID, &rec.URL, &rec.Fingerprint, &rec.Domain, &rec.DocumentIDs, &rec.FirstSeen, &rec.HTTPStatus,
		&rec.LastCheckedAt, &rec.ConsecutiveFailures, &rec.IsDead, &rec.DeadSince, &rec.Soft404,
		&rec.RedirectURL, &rec.ArchiveURL, &rec.ArchiveTimestamp, &status,
		&rec.ArchiveCheckedAt, &rec.StorageKey, &rec.StorageCheckedAt, &rec.StorageSize,
		&rec.Remediated, &rec.RemediatedAt,
	)
	if err != nil {
		return link.Record{}, err
	}
	rec.ArchiveStatus = link.ArchiveStatus(status)
	slices.Sort(rec.DocumentIDs)
	return rec, nil
}

func (s *LinkStore) queryRecords(ctx context.Context, what, query string, args ...any) ([]link.Record, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", what, err)
	}
	defer rows.Close()
	var out []link.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", what, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", what, err)
	}
	return out, nil
}

func (s *LinkStore) getRecord(ctx context.Context, where string, arg any) (link.Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM link_records WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return link.Record{}, link.ErrNotFound
	}
	if err != nil {
		return link.Record{}, fmt.Errorf("get link record: %w", err)
	}
	return rec, nil
}

// GetByFingerprint returns the record with the given fingerprint.
func (s *LinkStore) GetByFingerprint(ctx context.Context, fingerprint string) (link.Record, error) {
	return s.getRecord(ctx, "fingerprint = $1", fingerprint)
}

// Get returns the record with the given id.
func (s *LinkStore) Get(ctx context.Context, id int64) (link.Record, error) {
	return s.getRecord(ctx, "id = $1", id)
}

// InsertRecord stores a new record and returns its id. A concurrent insert of
// the same fingerprint yields link.ErrDuplicate.
func (s *LinkStore) InsertRecord(ctx context.Context, rec link.Record) (int64, error) {
	status := rec.ArchiveStatus
	if status == "" {
		status = link.ArchiveNone
	}
	docs := rec.DocumentIDs
	if docs == nil {
		docs = []int64{}
	}
	const query = `
INSERT INTO link_records (url, fingerprint, domain, document_ids, first_seen, archive_status)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (fingerprint) DO NOTHING
RETURNING id`
	var id int64
	err := s.pool.QueryRow(ctx, query,
		rec.URL, rec.Fingerprint, rec.Domain, docs, rec.FirstSeen, string(status),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, link.ErrDuplicate
	}
	if err != nil {
		return 0, fmt.Errorf("insert link record: %w", err)
	}
	return id, nil
}

// AddDocument adds documentID to the record's reference set and reports
// whether the set changed.
func (s *LinkStore) AddDocument(ctx context.Context, id, documentID int64) (bool, error) {
	const query = `
UPDATE link_records
SET document_ids = array_append(document_ids, $2::bigint)
WHERE id = $1 AND NOT ($2::bigint = ANY(document_ids))`
	tag, err := s.pool.Exec(ctx, query, id, documentID)
	if err != nil {
		return false, fmt.Errorf("add document %d to link %d: %w", documentID, id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListDueForCheck returns records ordered by last check, never-checked first.
func (s *LinkStore) ListDueForCheck(ctx context.Context, limit int) ([]link.Record, error) {
	return s.queryRecords(ctx, "records due for check", `
SELECT `+recordColumns+` FROM link_records
ORDER BY last_checked_at ASC NULLS FIRST, id
LIMIT $1`, limitArg(limit))
}

// UpdateHealth writes a probe outcome.
func (s *LinkStore) UpdateHealth(ctx context.Context, id int64, u link.HealthUpdate) error {
	const query = `
UPDATE link_records
SET http_status = $2, last_checked_at = $3, consecutive_failures = $4, is_dead = $5,
	dead_since = $6, soft_404 = $7, redirect_url = NULLIF($8, '')
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		id, u.HTTPStatus, u.CheckedAt, u.ConsecutiveFailures, u.IsDead, u.DeadSince, u.Soft404, u.RedirectURL,
	)
	return affected(tag.RowsAffected(), err, "update health", id)
}

// ListArchiveCandidates returns live records without a successful archive.
func (s *LinkStore) ListArchiveCandidates(ctx context.Context, limit int) ([]link.Record, error) {
	return s.queryRecords(ctx, "archive candidates", `
SELECT `+recordColumns+` FROM link_records
WHERE NOT is_dead AND archive_status IN ('none', 'error')
ORDER BY archive_checked_at ASC NULLS FIRST, id
LIMIT $1`, limitArg(limit))
}

// UpdateArchive writes an archival outcome. An empty ArchiveURL keeps the
// stored archive copy.
func (s *LinkStore) UpdateArchive(ctx context.Context, id int64, u link.ArchiveUpdate) error {
	const query = `
UPDATE link_records
SET archive_url = COALESCE(NULLIF($2::text, ''), archive_url),
	archive_timestamp = CASE WHEN $2::text = '' THEN archive_timestamp ELSE $3 END,
	archive_status = $4,
	archive_checked_at = $5
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, u.ArchiveURL, u.ArchiveTimestamp, string(u.Status), u.CheckedAt)
	return affected(tag.RowsAffected(), err, "update archive", id)
}

// ListSnapshotCandidates returns live records in the given domains, least
// recently captured first.
func (s *LinkStore) ListSnapshotCandidates(ctx context.Context, domains []string, limit int) ([]link.Record, error) {
	return s.queryRecords(ctx, "snapshot candidates", `
SELECT `+recordColumns+` FROM link_records
WHERE NOT is_dead AND domain = ANY($1)
ORDER BY storage_checked_at ASC NULLS FIRST, id
LIMIT $2`, domains, limitArg(limit))
}

// UpdateStorage records a completed capture.
func (s *LinkStore) UpdateStorage(ctx context.Context, id int64, u link.StorageUpdate) error {
	const query = `
UPDATE link_records
SET storage_key = $2, storage_size = $3, storage_checked_at = $4
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, u.Key, u.Size, u.CheckedAt)
	return affected(tag.RowsAffected(), err, "update storage", id)
}

// ListRemediationCandidates returns dead, archived, unremediated records with
// a long enough failure streak.
func (s *LinkStore) ListRemediationCandidates(ctx context.Context, minFailures int, deadBefore time.Time) ([]link.Record, error) {
	return s.queryRecords(ctx, "remediation candidates", `
SELECT `+recordColumns+` FROM link_records
WHERE is_dead AND NOT remediated
	AND archive_url IS NOT NULL AND archive_url <> ''
	AND consecutive_failures >= $1
	AND dead_since <= $2
ORDER BY id`, minFailures, deadBefore)
}

// MarkRemediated flags the record as rewritten.
func (s *LinkStore) MarkRemediated(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE link_records SET remediated = TRUE, remediated_at = $2 WHERE id = $1`, id, at)
	return affected(tag.RowsAffected(), err, "mark remediated", id)
}

func affected(rows int64, err error, op string, id int64) error {
	if err != nil {
		return fmt.Errorf("%s %d: %w", op, id, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %d: %w", op, id, link.ErrNotFound)
	}
	return nil
}
