package queue

import (
	"context"
	"time"

	"github.com/perdure/perdure/continuation"
	"github.com/perdure/perdure/persistence"
)

// Message represents a resume message that has been popped from a Queue.
type Message struct {
	queue *Queue
	item  persistence.QueueItem
	done  bool
}

// ID returns the ID of the message.
func (m *Message) ID() string {
	return m.item.ID()
}

// Token returns the continuation being resumed.
func (m *Message) Token() continuation.Token {
	return m.item.Token
}

// FailureCount returns the number of times handling of this message has
// already failed, not including this attempt.
func (m *Message) FailureCount() uint {
	return m.item.FailureCount
}

// Item returns the persisted queue item as it was when the message was
// popped.
func (m *Message) Item() persistence.QueueItem {
	return m.item
}

// Ack acknowledges successful handling of the message.
//
// The message is removed from the queue atomically with b, the batch of
// operations produced while handling it.
func (m *Message) Ack(ctx context.Context, b persistence.Batch) error {
	if err := m.queue.DataStore.Persist(
		ctx,
		append(
			b,
			persistence.RemoveQueueItem{Item: m.item},
		),
	); err != nil {
		return err
	}

	m.done = true
	m.queue.discard(m.item.ID())

	return nil
}

// Defer re-suspends the message's operation in place of acknowledging
// it.
//
// The queue item is replaced with i atomically with b, the batch of
// operations produced while handling the message, and becomes visible
// again at its next-attempt time. i must carry the same revision as the
// item being handled.
func (m *Message) Defer(
	ctx context.Context,
	i persistence.QueueItem,
	b persistence.Batch,
) error {
	if err := m.queue.DataStore.Persist(
		ctx,
		append(
			b,
			persistence.SaveQueueItem{Item: i},
		),
	); err != nil {
		return err
	}

	i.Revision++
	m.done = true
	m.queue.requeue(i)

	return nil
}

// Nack indicates a failure to handle the message.
//
// The message becomes visible again at n, possibly to a different worker.
func (m *Message) Nack(ctx context.Context, n time.Time) error {
	i := m.item
	i.FailureCount++
	i.NextAttemptAt = n

	if err := m.queue.DataStore.Persist(
		ctx,
		persistence.Batch{
			persistence.SaveQueueItem{Item: i},
		},
	); err != nil {
		return err
	}

	i.Revision++
	m.done = true
	m.queue.requeue(i)

	return nil
}

// Close releases the message.
//
// If the message has been neither acknowledged nor negatively
// acknowledged it is returned to the in-memory queue for redelivery.
func (m *Message) Close() {
	if m.done {
		return
	}

	m.done = true
	m.queue.requeue(m.item)
}
