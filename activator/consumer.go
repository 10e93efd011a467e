package activator

import (
	"context"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/linger/backoff"
	"github.com/perdure/perdure/queue"
	"github.com/perdure/perdure/semaphore"
	"golang.org/x/sync/errgroup"
)

// Consumer pops resume messages from a queue and drives their operations
// through the activator.
type Consumer struct {
	// Queue is the dispatch queue to consume.
	Queue *queue.Queue

	// Activator steps the operations resumed by the messages.
	Activator *Activator

	// Semaphore is used to limit the number of operations being stepped
	// concurrently.
	Semaphore semaphore.Semaphore

	// BackoffStrategy is the strategy used to delay redelivery of a
	// message after an infrastructure failure, such as a data store
	// outage. If it is nil, backoff.DefaultStrategy is used.
	//
	// It does not govern step retries; those are delayed by the machine's
	// own strategy.
	BackoffStrategy backoff.Strategy

	// Logger is the target for log messages from the consumer.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger

	group *errgroup.Group
}

// Run handles messages from the queue until an error occurs or ctx is
// canceled.
func (c *Consumer) Run(ctx context.Context) error {
	c.group, ctx = errgroup.WithContext(ctx)

	c.group.Go(func() error {
		return c.consume(ctx)
	})

	<-ctx.Done()
	return c.group.Wait()
}

// consume pops messages from the queue and starts a goroutine to handle
// each one. It waits for c.Semaphore before starting each goroutine.
func (c *Consumer) consume(ctx context.Context) error {
	logging.LogString(
		c.Logger,
		"consuming resume messages from queue",
	)

	for {
		m, err := c.Queue.Pop(ctx)
		if err != nil {
			return err
		}

		if err := c.Semaphore.Acquire(ctx); err != nil {
			m.Close()
			return err
		}

		c.group.Go(func() error {
			defer c.Semaphore.Release()
			return c.process(ctx, m)
		})
	}
}

// process resumes the operation in m, negatively acknowledging the
// message if it cannot be handled.
func (c *Consumer) process(ctx context.Context, m *queue.Message) error {
	defer m.Close()

	if _, err := c.Activator.Resume(ctx, m); err != nil {
		s := c.BackoffStrategy
		if s == nil {
			s = backoff.DefaultStrategy
		}

		delay := s(err, m.FailureCount())

		logging.Log(
			c.Logger,
			"delaying redelivery of %s for %s: %s",
			m.ID(),
			delay,
			err.Error(),
		)

		return m.Nack(
			ctx,
			time.Now().Add(delay),
		)
	}

	return nil
}
