package persistence

import "context"

// Batch is a set of operations that are committed to the data store
// atomically.
type Batch []Operation

// MustValidate panics if the batch contains multiple operations that
// address the same record.
//
// Whole-record replacement keyed by identity is what eliminates
// lost-update races between workers; two operations on one record within
// a batch would reintroduce them.
func (b Batch) MustValidate() {
	ids := map[string]struct{}{}

	check := func(id string) {
		if _, ok := ids[id]; ok {
			panic("batch contains multiple operations for the same record: " + id)
		}
		ids[id] = struct{}{}
	}

	for _, op := range b {
		switch op := op.(type) {
		case SaveContinuationToken:
			check("token:" + op.Token.TrackingID)
		case RemoveContinuationToken:
			check("token:" + op.Token.TrackingID)
		case SaveQueueItem:
			check("queue:" + op.Item.ID())
		case RemoveQueueItem:
			check("queue:" + op.Item.ID())
		case SaveResourceRecord:
			check("resource:" + op.Record.ID)
		case RemoveResourceRecord:
			check("resource:" + op.Record.ID)
		case SaveJobClaim:
			check("claim:" + op.Claim.ID())
		}
	}
}

// A Persister commits batches of operations to the data store atomically.
type Persister interface {
	// Persist commits a batch of operations atomically.
	//
	// If any one of the operations causes an optimistic concurrency
	// conflict the entire batch is aborted and a ConflictError is
	// returned.
	Persist(context.Context, Batch) error
}
