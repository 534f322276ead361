// Package cmd defines the linkkeeper command line.
//
// Architecture overview:
//   - Intake: links enter the discovery queue from POST /v1/discover (the wiki's save hook) or from
//     sync-externallinks, which walks the wiki's external link table. process-queue claims queue items,
//     normalizes each URL into its fingerprint and creates or extends the link record.
//   - Health: check-links probes the least recently checked records (HEAD, falling back to GET, with soft
//     404 detection) under a per-domain pacer. A record turns dead after the configured streak of failures
//     and a dead-link event is published when Pub/Sub is configured.
//   - Archival tiers: submit-archive records the newest public snapshot and, with archive credentials, asks
//     for a fresh capture through a single account-wide pacer. snapshot-critical writes WARC captures of the
//     priority domains to GCS or a local directory.
//   - Remediation: remediate-dead rewrites citations of long-dead, archived links in wiki pages and lists
//     whatever it cannot patch on a review page. Without wiki credentials it runs as a dry run.
//   - Plumbing: Viper loads config from file, .env and LINKKEEPER_* variables; zap provides structured
//     logging; Prometheus counters track every outcome and are served on /metrics; each job run is an
//     OpenTelemetry span.
//
// Operational notes:
//   - Every job is one bounded, sequential pass. Per-record failures are logged and counted in the printed
//     summary and never abort the batch; only setup failures exit non-zero.
//   - serve runs the API plus a cron scheduler that skips a job while its previous run is still going.
//   - Missing credentials disable a tier instead of failing: status lists each tier with a hint.
//
// Quick checklist:
//   - LINKKEEPER_DATABASE_DSN (or DATABASE_URL) and linkkeeper migrate before the first run.
//   - IA_ACCESS_KEY / IA_SECRET_KEY for paid archive submission.
//   - LINKKEEPER_STORAGE_BACKEND=gcs with LINKKEEPER_STORAGE_GCS_BUCKET for WARC captures.
//   - WIKI_API, WIKI_BOT_USER and WIKI_BOT_PASSWORD for remediation.
package cmd
