package persistence

import "time"

// A JobClaim is a lease on one shard of a recurring job's scan.
//
// Producers take the claim with a conditional write before dispatching
// the shard, so that in a multi-worker deployment each firing scans
// each shard once. A claim is never removed; it lapses when ExpiresAt
// passes and is re-taken in place.
type JobClaim struct {
	// Job is the name of the job family the claim belongs to.
	Job string

	// Shard is the shard prefix the claim covers.
	Shard string

	// ExpiresAt is the time the claim lapses.
	ExpiresAt time.Time

	// Revision is the claim's optimistic-concurrency revision. It is 0
	// for a claim that has never been persisted.
	Revision uint64
}

// ID returns the key that identifies the claim.
func (c JobClaim) ID() string {
	return c.Job + "/" + c.Shard
}
