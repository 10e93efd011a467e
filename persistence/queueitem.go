package persistence

import (
	"time"

	"github.com/perdure/perdure/continuation"
)

// A QueueItem is a resume message persisted on the dispatch queue.
//
// There is at most one item per tracking ID at any time, which is what
// keeps the steps of a single operation logically serial even when many
// workers share the queue.
type QueueItem struct {
	// NextAttemptAt is the time at which the item becomes visible to
	// consumers.
	NextAttemptAt time.Time

	// FailureCount is the number of times handling of this item has
	// failed at the dispatch level (distinct from the token's own retry
	// counter).
	FailureCount uint

	// Token is the continuation being resumed. It round-trips through the
	// store byte-for-byte.
	Token continuation.Token

	// Revision is the item's optimistic-concurrency revision. It is 0 for
	// an item that has never been persisted.
	Revision uint64
}

// ID returns the item's unique identifier on the queue.
func (i QueueItem) ID() string {
	return i.Token.TrackingID
}
