// Package link defines the records, queue items, and collaborator interfaces
// shared by the link-health and archival jobs: the health state machine that
// turns probe results into record updates, the eligibility rules for each
// archival tier, and the capability set that gates optional tiers.
package link
