package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/perdure/perdure/continuation"
	"github.com/perdure/perdure/persistence"
)

// dataStore is an in-memory implementation of persistence.DataStore.
type dataStore struct {
	m         sync.RWMutex
	tokens    map[string]continuation.Token
	queue     map[string]persistence.QueueItem
	resources map[string]persistence.ResourceRecord
	claims    map[string]persistence.JobClaim
}

func newDataStore() *dataStore {
	return &dataStore{
		tokens:    map[string]continuation.Token{},
		queue:     map[string]persistence.QueueItem{},
		resources: map[string]persistence.ResourceRecord{},
		claims:    map[string]persistence.JobClaim{},
	}
}

// Persist commits a batch of operations atomically.
//
// The entire batch is checked for optimistic concurrency conflicts before
// anything is applied, so a rejected batch leaves the store untouched.
func (ds *dataStore) Persist(ctx context.Context, b persistence.Batch) error {
	b.MustValidate()

	ds.m.Lock()
	defer ds.m.Unlock()

	v := &validator{ds: ds}
	for _, op := range b {
		if err := op.AcceptVisitor(ctx, v); err != nil {
			return err
		}
	}

	c := &committer{ds: ds}
	for _, op := range b {
		if err := op.AcceptVisitor(ctx, c); err != nil {
			// Unreachable: the validator has already accepted the batch.
			panic(err)
		}
	}

	return nil
}

// LoadContinuationToken loads the token with the given tracking ID.
func (ds *dataStore) LoadContinuationToken(
	_ context.Context,
	trackingID string,
) (continuation.Token, bool, error) {
	ds.m.RLock()
	defer ds.m.RUnlock()

	t, ok := ds.tokens[trackingID]
	return cloneToken(t), ok, nil
}

// LoadQueueItems loads the n items with the earliest next-attempt times.
func (ds *dataStore) LoadQueueItems(
	_ context.Context,
	n int,
) ([]persistence.QueueItem, error) {
	ds.m.RLock()
	defer ds.m.RUnlock()

	items := make([]persistence.QueueItem, 0, len(ds.queue))
	for _, i := range ds.queue {
		items = append(items, i)
	}

	sort.Slice(items, func(a, b int) bool {
		return items[a].NextAttemptAt.Before(items[b].NextAttemptAt)
	})

	if len(items) > n {
		items = items[:n]
	}

	for i := range items {
		items[i].Token = cloneToken(items[i].Token)
	}

	return items, nil
}

// LoadResourceRecord loads the record with the given resource ID.
func (ds *dataStore) LoadResourceRecord(
	_ context.Context,
	id string,
) (persistence.ResourceRecord, bool, error) {
	ds.m.RLock()
	defer ds.m.RUnlock()

	rec, ok := ds.resources[id]
	return rec, ok, nil
}

// LoadOldestUnassigned loads the oldest unassigned record matching the
// given SKU, type and location.
func (ds *dataStore) LoadOldestUnassigned(
	_ context.Context,
	sku string,
	t persistence.ResourceType,
	location string,
) (persistence.ResourceRecord, bool, error) {
	ds.m.RLock()
	defer ds.m.RUnlock()

	var (
		oldest persistence.ResourceRecord
		found  bool
	)

	for _, rec := range ds.resources {
		if rec.IsAssigned || rec.SkuName != sku || rec.Type != t || rec.Location != location {
			continue
		}

		if !found || rec.Created.Before(oldest.Created) {
			oldest = rec
			found = true
		}
	}

	return oldest, found, nil
}

// CountUnassigned returns the number of unassigned records matching the
// given SKU, type and location.
func (ds *dataStore) CountUnassigned(
	_ context.Context,
	sku string,
	t persistence.ResourceType,
	location string,
) (int, error) {
	ds.m.RLock()
	defer ds.m.RUnlock()

	n := 0
	for _, rec := range ds.resources {
		if !rec.IsAssigned && rec.SkuName == sku && rec.Type == t && rec.Location == location {
			n++
		}
	}

	return n, nil
}

// ListShard loads every record whose resource ID falls in the shard
// identified by the given prefix.
func (ds *dataStore) ListShard(
	_ context.Context,
	prefix string,
) ([]persistence.ResourceRecord, error) {
	ds.m.RLock()
	defer ds.m.RUnlock()

	var recs []persistence.ResourceRecord
	for _, rec := range ds.resources {
		if strings.HasPrefix(strings.ToLower(rec.ID), strings.ToLower(prefix)) {
			recs = append(recs, rec)
		}
	}

	sort.Slice(recs, func(a, b int) bool {
		return recs[a].ID < recs[b].ID
	})

	return recs, nil
}

// LoadJobClaim loads the claim held on one shard of a job's scan.
func (ds *dataStore) LoadJobClaim(
	_ context.Context,
	job, shard string,
) (persistence.JobClaim, bool, error) {
	ds.m.RLock()
	defer ds.m.RUnlock()

	c, ok := ds.claims[persistence.JobClaim{Job: job, Shard: shard}.ID()]
	return c, ok, nil
}

// Close closes the data store.
func (ds *dataStore) Close() error {
	return nil
}

// validator checks a batch for optimistic concurrency conflicts without
// applying it. It assumes ds.m is held.
type validator struct {
	ds *dataStore
}

func (v *validator) VisitSaveContinuationToken(_ context.Context, op persistence.SaveContinuationToken) error {
	if v.ds.tokens[op.Token.TrackingID].Revision != op.Token.Revision {
		return persistence.ConflictError{Cause: op}
	}
	return nil
}

func (v *validator) VisitRemoveContinuationToken(_ context.Context, op persistence.RemoveContinuationToken) error {
	t, ok := v.ds.tokens[op.Token.TrackingID]
	if !ok || t.Revision != op.Token.Revision {
		return persistence.ConflictError{Cause: op}
	}
	return nil
}

func (v *validator) VisitSaveQueueItem(_ context.Context, op persistence.SaveQueueItem) error {
	if v.ds.queue[op.Item.ID()].Revision != op.Item.Revision {
		return persistence.ConflictError{Cause: op}
	}
	return nil
}

func (v *validator) VisitRemoveQueueItem(_ context.Context, op persistence.RemoveQueueItem) error {
	i, ok := v.ds.queue[op.Item.ID()]
	if !ok || i.Revision != op.Item.Revision {
		return persistence.ConflictError{Cause: op}
	}
	return nil
}

func (v *validator) VisitSaveResourceRecord(_ context.Context, op persistence.SaveResourceRecord) error {
	if v.ds.resources[op.Record.ID].Revision != op.Record.Revision {
		return persistence.ConflictError{Cause: op}
	}
	return nil
}

func (v *validator) VisitRemoveResourceRecord(_ context.Context, op persistence.RemoveResourceRecord) error {
	rec, ok := v.ds.resources[op.Record.ID]
	if !ok || rec.Revision != op.Record.Revision {
		return persistence.ConflictError{Cause: op}
	}
	return nil
}

func (v *validator) VisitSaveJobClaim(_ context.Context, op persistence.SaveJobClaim) error {
	if v.ds.claims[op.Claim.ID()].Revision != op.Claim.Revision {
		return persistence.ConflictError{Cause: op}
	}
	return nil
}

// committer applies an already-validated batch. It assumes ds.m is held.
type committer struct {
	ds *dataStore
}

func (c *committer) VisitSaveContinuationToken(_ context.Context, op persistence.SaveContinuationToken) error {
	t := cloneToken(op.Token)
	t.Revision++
	c.ds.tokens[t.TrackingID] = t
	return nil
}

func (c *committer) VisitRemoveContinuationToken(_ context.Context, op persistence.RemoveContinuationToken) error {
	delete(c.ds.tokens, op.Token.TrackingID)
	return nil
}

func (c *committer) VisitSaveQueueItem(_ context.Context, op persistence.SaveQueueItem) error {
	i := op.Item
	i.Token = cloneToken(i.Token)
	i.Revision++
	c.ds.queue[i.ID()] = i
	return nil
}

func (c *committer) VisitRemoveQueueItem(_ context.Context, op persistence.RemoveQueueItem) error {
	delete(c.ds.queue, op.Item.ID())
	return nil
}

func (c *committer) VisitSaveResourceRecord(_ context.Context, op persistence.SaveResourceRecord) error {
	rec := op.Record
	rec.Revision++
	c.ds.resources[rec.ID] = rec
	return nil
}

func (c *committer) VisitRemoveResourceRecord(_ context.Context, op persistence.RemoveResourceRecord) error {
	delete(c.ds.resources, op.Record.ID)
	return nil
}

func (c *committer) VisitSaveJobClaim(_ context.Context, op persistence.SaveJobClaim) error {
	claim := op.Claim
	claim.Revision++
	c.ds.claims[claim.ID()] = claim
	return nil
}

// cloneToken deep-copies a token so that callers can not mutate the
// store's view of it.
func cloneToken(t continuation.Token) continuation.Token {
	if t.Properties != nil {
		props := make(map[string]string, len(t.Properties))
		for k, v := range t.Properties {
			props[k] = v
		}
		t.Properties = props
	}

	if t.Payload.Data != nil {
		data := make([]byte, len(t.Payload.Data))
		copy(data, t.Payload.Data)
		t.Payload.Data = data
	}

	return t
}
