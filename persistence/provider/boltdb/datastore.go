package boltdb

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/perdure/perdure/continuation"
	"github.com/perdure/perdure/persistence"
	"go.etcd.io/bbolt"
)

var (
	tokensBucket    = []byte("tokens")
	queueBucket     = []byte("queue")
	resourcesBucket = []byte("resources")
	claimsBucket    = []byte("claims")
)

// dataStore is a BoltDB-backed implementation of persistence.DataStore.
//
// Records are stored as JSON documents in per-application nested buckets.
// Optimistic concurrency revisions are checked and bumped inside a single
// update transaction, which makes each batch atomic.
type dataStore struct {
	db  *bbolt.DB
	key []byte
}

// Persist commits a batch of operations atomically.
func (ds *dataStore) Persist(ctx context.Context, b persistence.Batch) error {
	b.MustValidate()

	return ds.db.Update(func(tx *bbolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists(ds.key)
		if err != nil {
			return err
		}

		c := &committer{root: root}
		for _, op := range b {
			if err := op.AcceptVisitor(ctx, c); err != nil {
				return err
			}
		}

		return nil
	})
}

// LoadContinuationToken loads the token with the given tracking ID.
func (ds *dataStore) LoadContinuationToken(
	_ context.Context,
	trackingID string,
) (continuation.Token, bool, error) {
	var (
		t  continuation.Token
		ok bool
	)

	err := ds.db.View(func(tx *bbolt.Tx) error {
		data := get(tx, ds.key, tokensBucket, []byte(trackingID))
		if data == nil {
			return nil
		}

		ok = true
		return json.Unmarshal(data, &t)
	})

	return t, ok, err
}

// LoadQueueItems loads the n items with the earliest next-attempt times.
func (ds *dataStore) LoadQueueItems(
	_ context.Context,
	n int,
) ([]persistence.QueueItem, error) {
	var items []persistence.QueueItem

	err := ds.db.View(func(tx *bbolt.Tx) error {
		b := bucket(tx, ds.key, queueBucket)
		if b == nil {
			return nil
		}

		return b.ForEach(func(_, data []byte) error {
			var i persistence.QueueItem
			if err := json.Unmarshal(data, &i); err != nil {
				return err
			}

			items = append(items, i)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(items, func(a, b int) bool {
		return items[a].NextAttemptAt.Before(items[b].NextAttemptAt)
	})

	if len(items) > n {
		items = items[:n]
	}

	return items, nil
}

// LoadResourceRecord loads the record with the given resource ID.
func (ds *dataStore) LoadResourceRecord(
	_ context.Context,
	id string,
) (persistence.ResourceRecord, bool, error) {
	var (
		rec persistence.ResourceRecord
		ok  bool
	)

	err := ds.db.View(func(tx *bbolt.Tx) error {
		data := get(tx, ds.key, resourcesBucket, []byte(id))
		if data == nil {
			return nil
		}

		ok = true
		return json.Unmarshal(data, &rec)
	})

	return rec, ok, err
}

// LoadOldestUnassigned loads the oldest unassigned record matching the
// given SKU, type and location.
func (ds *dataStore) LoadOldestUnassigned(
	ctx context.Context,
	sku string,
	t persistence.ResourceType,
	location string,
) (persistence.ResourceRecord, bool, error) {
	var (
		oldest persistence.ResourceRecord
		found  bool
	)

	err := ds.forEachResource(func(rec persistence.ResourceRecord) {
		if rec.IsAssigned || rec.SkuName != sku || rec.Type != t || rec.Location != location {
			return
		}

		if !found || rec.Created.Before(oldest.Created) {
			oldest = rec
			found = true
		}
	})

	return oldest, found, err
}

// CountUnassigned returns the number of unassigned records matching the
// given SKU, type and location.
func (ds *dataStore) CountUnassigned(
	_ context.Context,
	sku string,
	t persistence.ResourceType,
	location string,
) (int, error) {
	n := 0

	err := ds.forEachResource(func(rec persistence.ResourceRecord) {
		if !rec.IsAssigned && rec.SkuName == sku && rec.Type == t && rec.Location == location {
			n++
		}
	})

	return n, err
}

// ListShard loads every record whose resource ID falls in the shard
// identified by the given prefix.
func (ds *dataStore) ListShard(
	_ context.Context,
	prefix string,
) ([]persistence.ResourceRecord, error) {
	var recs []persistence.ResourceRecord

	err := ds.forEachResource(func(rec persistence.ResourceRecord) {
		if strings.HasPrefix(strings.ToLower(rec.ID), strings.ToLower(prefix)) {
			recs = append(recs, rec)
		}
	})
	if err != nil {
		return nil, err
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
	var (
		claim persistence.JobClaim
		ok    bool
	)

	err := ds.db.View(func(tx *bbolt.Tx) error {
		id := persistence.JobClaim{Job: job, Shard: shard}.ID()

		data := get(tx, ds.key, claimsBucket, []byte(id))
		if data == nil {
			return nil
		}

		ok = true
		return json.Unmarshal(data, &claim)
	})

	return claim, ok, err
}

// Close closes the data store.
//
// The underlying database is shared between stores and is closed by the
// provider.
func (ds *dataStore) Close() error {
	return nil
}

func (ds *dataStore) forEachResource(fn func(persistence.ResourceRecord)) error {
	return ds.db.View(func(tx *bbolt.Tx) error {
		b := bucket(tx, ds.key, resourcesBucket)
		if b == nil {
			return nil
		}

		return b.ForEach(func(_, data []byte) error {
			var rec persistence.ResourceRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}

			fn(rec)
			return nil
		})
	})
}

// committer applies operations within an update transaction.
type committer struct {
	root *bbolt.Bucket
}

func (c *committer) VisitSaveContinuationToken(_ context.Context, op persistence.SaveContinuationToken) error {
	t := op.Token
	t.Revision++

	return save(c.root, tokensBucket, []byte(t.TrackingID), op.Token.Revision, t, op)
}

func (c *committer) VisitRemoveContinuationToken(_ context.Context, op persistence.RemoveContinuationToken) error {
	return remove(c.root, tokensBucket, []byte(op.Token.TrackingID), op.Token.Revision, op)
}

func (c *committer) VisitSaveQueueItem(_ context.Context, op persistence.SaveQueueItem) error {
	i := op.Item
	i.Revision++

	return save(c.root, queueBucket, []byte(i.ID()), op.Item.Revision, i, op)
}

func (c *committer) VisitRemoveQueueItem(_ context.Context, op persistence.RemoveQueueItem) error {
	return remove(c.root, queueBucket, []byte(op.Item.ID()), op.Item.Revision, op)
}

func (c *committer) VisitSaveResourceRecord(_ context.Context, op persistence.SaveResourceRecord) error {
	rec := op.Record
	rec.Revision++

	return save(c.root, resourcesBucket, []byte(rec.ID), op.Record.Revision, rec, op)
}

func (c *committer) VisitRemoveResourceRecord(_ context.Context, op persistence.RemoveResourceRecord) error {
	return remove(c.root, resourcesBucket, []byte(op.Record.ID), op.Record.Revision, op)
}

func (c *committer) VisitSaveJobClaim(_ context.Context, op persistence.SaveJobClaim) error {
	claim := op.Claim
	claim.Revision++

	return save(c.root, claimsBucket, []byte(claim.ID()), op.Claim.Revision, claim, op)
}

// save writes a record after checking its persisted revision against the
// revision the operation was built from.
func save(
	root *bbolt.Bucket,
	name, key []byte,
	rev uint64,
	rec interface{},
	op persistence.Operation,
) error {
	b, err := root.CreateBucketIfNotExists(name)
	if err != nil {
		return err
	}

	if revisionOf(b.Get(key)) != rev {
		return persistence.ConflictError{Cause: op}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return b.Put(key, data)
}

// remove deletes a record after checking its persisted revision.
func remove(
	root *bbolt.Bucket,
	name, key []byte,
	rev uint64,
	op persistence.Operation,
) error {
	b := root.Bucket(name)
	if b == nil {
		return persistence.ConflictError{Cause: op}
	}

	data := b.Get(key)
	if data == nil || revisionOf(data) != rev {
		return persistence.ConflictError{Cause: op}
	}

	return b.Delete(key)
}

// revisionOf extracts the revision field from a stored document.
//
// A missing document has revision 0, matching a record that has never
// been persisted.
func revisionOf(data []byte) uint64 {
	if data == nil {
		return 0
	}

	var doc struct {
		Revision uint64
	}

	if err := json.Unmarshal(data, &doc); err != nil {
		return 0
	}

	return doc.Revision
}

func bucket(tx *bbolt.Tx, path ...[]byte) *bbolt.Bucket {
	b := tx.Bucket(path[0])

	for _, name := range path[1:] {
		if b == nil {
			return nil
		}
		b = b.Bucket(name)
	}

	return b
}

func get(tx *bbolt.Tx, root, name, key []byte) []byte {
	b := bucket(tx, root, name)
	if b == nil {
		return nil
	}

	return b.Get(key)
}
