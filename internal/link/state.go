package link

import (
	"sort"
	"time"
)

// DefaultDeadThreshold is the failure streak at which a link is declared dead.
const DefaultDeadThreshold = 3

// ApplyProbe computes the health update for rec after a probe at now.
//
// A healthy probe clears the failure streak and any dead state. A failed probe
// extends the streak; once it reaches threshold the link is dead, and DeadSince
// is stamped only on the step from alive to dead.
func ApplyProbe(rec Record, res ProbeResult, now time.Time, threshold int) HealthUpdate {
	if threshold <= 0 {
		threshold = DefaultDeadThreshold
	}
	update := HealthUpdate{
		HTTPStatus:  res.Status,
		CheckedAt:   now,
		Soft404:     res.Soft404,
		RedirectURL: res.RedirectURL,
	}
	if res.Healthy() {
		return update
	}

	update.ConsecutiveFailures = rec.ConsecutiveFailures + 1
	update.IsDead = update.ConsecutiveFailures >= threshold
	switch {
	case update.IsDead && rec.IsDead:
		update.DeadSince = rec.DeadSince
		if update.DeadSince == nil {
			update.DeadSince = &now
		}
	case update.IsDead:
		update.DeadSince = &now
		update.BecameDead = true
	}
	return update
}

// Apply copies a health update onto the record.
func (r *Record) Apply(u HealthUpdate) {
	r.HTTPStatus = u.HTTPStatus
	checked := u.CheckedAt
	r.LastCheckedAt = &checked
	r.ConsecutiveFailures = u.ConsecutiveFailures
	r.IsDead = u.IsDead
	r.DeadSince = u.DeadSince
	r.Soft404 = u.Soft404
	r.RedirectURL = u.RedirectURL
}

// ArchiveEligible reports whether the archival job should consider the record.
func (r Record) ArchiveEligible() bool {
	return !r.IsDead && (r.ArchiveStatus == ArchiveNone || r.ArchiveStatus == ArchiveError || r.ArchiveStatus == "")
}

// RemediationEligible reports whether the record may be rewritten to its
// archive copy: dead, archived, not yet remediated, with at least minFailures
// consecutive failures and dead since no later than deadBefore.
func (r Record) RemediationEligible(minFailures int, deadBefore time.Time) bool {
	if !r.IsDead || r.Remediated || r.ArchiveURL == "" {
		return false
	}
	if r.ConsecutiveFailures < minFailures || r.DeadSince == nil {
		return false
	}
	return !r.DeadSince.After(deadBefore)
}

// Capability names an optional processing tier.
type Capability string

const (
	// CapabilityArchive enables paid public-archive submission.
	CapabilityArchive Capability = "archive"
	// CapabilitySnapshot enables self-hosted captures to object storage.
	CapabilitySnapshot Capability = "snapshot"
	// CapabilityRemediate enables document writes.
	CapabilityRemediate Capability = "remediate"
)

// AllCapabilities lists every optional tier in pipeline order.
var AllCapabilities = []Capability{CapabilityArchive, CapabilitySnapshot, CapabilityRemediate}

// Capabilities is the set of tiers whose credentials are configured.
type Capabilities map[Capability]struct{}

// NewCapabilities builds a set from the given tiers.
func NewCapabilities(caps ...Capability) Capabilities {
	set := make(Capabilities, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}

// Has reports whether tier is available.
func (c Capabilities) Has(tier Capability) bool {
	_, ok := c[tier]
	return ok
}

// List returns the tiers in a stable order.
func (c Capabilities) List() []Capability {
	out := make([]Capability, 0, len(c))
	for tier := range c {
		out = append(out, tier)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
