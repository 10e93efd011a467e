package persistence

import (
	"context"

	"github.com/perdure/perdure/continuation"
)

// Operation is a persistence operation that can be performed as part of an
// atomic batch.
type Operation interface {
	// AcceptVisitor calls the appropriate visit method on the given
	// visitor.
	AcceptVisitor(context.Context, OperationVisitor) error
}

// SaveContinuationToken is a persistence operation that creates or updates
// a continuation token.
type SaveContinuationToken struct {
	// Token is the token to persist.
	//
	// Token.Revision must be the revision of the token as currently
	// persisted, otherwise an optimistic concurrency conflict occurs and
	// the entire batch of operations is rejected.
	Token continuation.Token
}

// RemoveContinuationToken is a persistence operation that removes a
// continuation token.
type RemoveContinuationToken struct {
	// Token is the token to remove.
	//
	// Token.Revision must be the revision of the token as currently
	// persisted, otherwise an optimistic concurrency conflict occurs and
	// the entire batch of operations is rejected.
	Token continuation.Token
}

// SaveQueueItem is a persistence operation that creates or updates an item
// on the dispatch queue.
type SaveQueueItem struct {
	// Item is the item to persist.
	//
	// Item.Revision must be the revision of the item as currently
	// persisted, otherwise an optimistic concurrency conflict occurs and
	// the entire batch of operations is rejected.
	Item QueueItem
}

// RemoveQueueItem is a persistence operation that removes an item from the
// dispatch queue.
type RemoveQueueItem struct {
	// Item is the item to remove.
	//
	// Item.Revision must be the revision of the item as currently
	// persisted, otherwise an optimistic concurrency conflict occurs and
	// the entire batch of operations is rejected.
	Item QueueItem
}

// SaveResourceRecord is a persistence operation that creates or updates a
// resource-pool record.
type SaveResourceRecord struct {
	// Record is the record to persist.
	//
	// Record.Revision must be the revision of the record as currently
	// persisted, otherwise an optimistic concurrency conflict occurs and
	// the entire batch of operations is rejected. This is the
	// compare-and-set that gives at-most-one assignment without a global
	// lock.
	Record ResourceRecord
}

// RemoveResourceRecord is a persistence operation that removes a
// resource-pool record.
type RemoveResourceRecord struct {
	// Record is the record to remove.
	//
	// Record.Revision must be the revision of the record as currently
	// persisted, otherwise an optimistic concurrency conflict occurs and
	// the entire batch of operations is rejected.
	Record ResourceRecord
}

// SaveJobClaim is a persistence operation that creates or updates a claim
// on one shard of a recurring job's scan.
type SaveJobClaim struct {
	// Claim is the claim to persist.
	//
	// Claim.Revision must be the revision of the claim as currently
	// persisted, otherwise an optimistic concurrency conflict occurs and
	// the entire batch of operations is rejected. This is the
	// compare-and-set that lets exactly one producer win each shard.
	Claim JobClaim
}

// OperationVisitor visits persistence operations.
type OperationVisitor interface {
	VisitSaveContinuationToken(context.Context, SaveContinuationToken) error
	VisitRemoveContinuationToken(context.Context, RemoveContinuationToken) error
	VisitSaveQueueItem(context.Context, SaveQueueItem) error
	VisitRemoveQueueItem(context.Context, RemoveQueueItem) error
	VisitSaveResourceRecord(context.Context, SaveResourceRecord) error
	VisitRemoveResourceRecord(context.Context, RemoveResourceRecord) error
	VisitSaveJobClaim(context.Context, SaveJobClaim) error
}

// AcceptVisitor calls v.VisitSaveContinuationToken().
func (op SaveContinuationToken) AcceptVisitor(ctx context.Context, v OperationVisitor) error {
	return v.VisitSaveContinuationToken(ctx, op)
}

// AcceptVisitor calls v.VisitRemoveContinuationToken().
func (op RemoveContinuationToken) AcceptVisitor(ctx context.Context, v OperationVisitor) error {
	return v.VisitRemoveContinuationToken(ctx, op)
}

// AcceptVisitor calls v.VisitSaveQueueItem().
func (op SaveQueueItem) AcceptVisitor(ctx context.Context, v OperationVisitor) error {
	return v.VisitSaveQueueItem(ctx, op)
}

// AcceptVisitor calls v.VisitRemoveQueueItem().
func (op RemoveQueueItem) AcceptVisitor(ctx context.Context, v OperationVisitor) error {
	return v.VisitRemoveQueueItem(ctx, op)
}

// AcceptVisitor calls v.VisitSaveResourceRecord().
func (op SaveResourceRecord) AcceptVisitor(ctx context.Context, v OperationVisitor) error {
	return v.VisitSaveResourceRecord(ctx, op)
}

// AcceptVisitor calls v.VisitRemoveResourceRecord().
func (op RemoveResourceRecord) AcceptVisitor(ctx context.Context, v OperationVisitor) error {
	return v.VisitRemoveResourceRecord(ctx, op)
}

// AcceptVisitor calls v.VisitSaveJobClaim().
func (op SaveJobClaim) AcceptVisitor(ctx context.Context, v OperationVisitor) error {
	return v.VisitSaveJobClaim(ctx, op)
}
