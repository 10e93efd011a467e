// Package fixtures contains test stubs for the engine's interfaces.
package fixtures

import (
	"context"

	"github.com/perdure/perdure/continuation"
	"github.com/perdure/perdure/persistence"
)

// DataStoreStub is a test implementation of the persistence.DataStore
// interface.
type DataStoreStub struct {
	persistence.DataStore

	PersistFunc               func(context.Context, persistence.Batch) error
	LoadContinuationTokenFunc func(context.Context, string) (continuation.Token, bool, error)
	LoadQueueItemsFunc        func(context.Context, int) ([]persistence.QueueItem, error)
	LoadJobClaimFunc          func(context.Context, string, string) (persistence.JobClaim, bool, error)
}

// NewDataStoreStub returns a new stub that forwards to the given data
// store by default.
func NewDataStoreStub(next persistence.DataStore) *DataStoreStub {
	return &DataStoreStub{
		DataStore: next,
	}
}

// Persist performs the given batch of operations atomically.
func (ds *DataStoreStub) Persist(ctx context.Context, b persistence.Batch) error {
	if ds.PersistFunc != nil {
		return ds.PersistFunc(ctx, b)
	}

	if ds.DataStore != nil {
		return ds.DataStore.Persist(ctx, b)
	}

	return nil
}

// LoadContinuationToken loads the token with the given tracking ID.
func (ds *DataStoreStub) LoadContinuationToken(ctx context.Context, trackingID string) (continuation.Token, bool, error) {
	if ds.LoadContinuationTokenFunc != nil {
		return ds.LoadContinuationTokenFunc(ctx, trackingID)
	}

	if ds.DataStore != nil {
		return ds.DataStore.LoadContinuationToken(ctx, trackingID)
	}

	return continuation.Token{}, false, nil
}

// LoadJobClaim loads the claim held on one shard of a job's scan.
func (ds *DataStoreStub) LoadJobClaim(ctx context.Context, job, shard string) (persistence.JobClaim, bool, error) {
	if ds.LoadJobClaimFunc != nil {
		return ds.LoadJobClaimFunc(ctx, job, shard)
	}

	if ds.DataStore != nil {
		return ds.DataStore.LoadJobClaim(ctx, job, shard)
	}

	return persistence.JobClaim{}, false, nil
}

// LoadQueueItems loads the n items with the earliest next-attempt times.
func (ds *DataStoreStub) LoadQueueItems(ctx context.Context, n int) ([]persistence.QueueItem, error) {
	if ds.LoadQueueItemsFunc != nil {
		return ds.LoadQueueItemsFunc(ctx, n)
	}

	if ds.DataStore != nil {
		return ds.DataStore.LoadQueueItems(ctx, n)
	}

	return nil, nil
}
