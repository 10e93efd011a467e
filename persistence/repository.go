package persistence

import (
	"context"

	"github.com/perdure/perdure/continuation"
)

// TokenRepository is an interface for reading persisted continuation
// tokens.
type TokenRepository interface {
	// LoadContinuationToken loads the token with the given tracking ID.
	//
	// ok is false if no token exists, which is how a redelivered resume
	// message for a completed operation is recognized as stale.
	LoadContinuationToken(ctx context.Context, trackingID string) (t continuation.Token, ok bool, err error)
}

// QueueRepository is an interface for reading resume messages from the
// dispatch queue.
type QueueRepository interface {
	// LoadQueueItems loads the n items with the earliest next-attempt
	// times.
	LoadQueueItems(ctx context.Context, n int) ([]QueueItem, error)
}

// ResourceRepository is an interface for reading resource-pool records.
type ResourceRepository interface {
	// LoadResourceRecord loads the record with the given resource ID.
	LoadResourceRecord(ctx context.Context, id string) (rec ResourceRecord, ok bool, err error)

	// LoadOldestUnassigned loads the oldest unassigned record matching
	// the given SKU, type and location.
	//
	// Oldest-first keeps allocation FIFO, bounding staleness and
	// preventing long-idle pool entries from starving.
	LoadOldestUnassigned(ctx context.Context, sku string, t ResourceType, location string) (rec ResourceRecord, ok bool, err error)

	// CountUnassigned returns the number of unassigned records matching
	// the given SKU, type and location.
	CountUnassigned(ctx context.Context, sku string, t ResourceType, location string) (int, error)

	// ListShard loads every record whose resource ID falls in the shard
	// identified by the given prefix.
	ListShard(ctx context.Context, prefix string) ([]ResourceRecord, error)
}

// ClaimRepository is an interface for reading recurring-job shard claims.
type ClaimRepository interface {
	// LoadJobClaim loads the claim held on one shard of a job's scan.
	//
	// ok is false if the shard has never been claimed.
	LoadJobClaim(ctx context.Context, job, shard string) (c JobClaim, ok bool, err error)
}

// A DataStore is the complete persistence surface required by the engine:
// a document-style store with conditional updates and range/filter
// queries.
type DataStore interface {
	Persister
	TokenRepository
	QueueRepository
	ResourceRepository
	ClaimRepository

	// Close closes the data store.
	Close() error
}

// A Provider opens data stores.
type Provider interface {
	// Open returns the data store for the given application key.
	Open(ctx context.Context, key string) (DataStore, error)
}
