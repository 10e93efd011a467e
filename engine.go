// Package perdure is a continuation-based orchestration engine for
// cloud resource lifecycles.
//
// Operations are expressed as named state machines whose steps never
// block on the cloud provider: each step returns promptly with a
// resumable continuation token, and the engine persists the token and
// schedules the next step through a durable dispatch queue. Any worker
// sharing the data store can execute any step of any operation, so
// operations survive worker crashes and scale across processes.
package perdure

import (
	"context"

	"github.com/perdure/perdure/activator"
	"github.com/perdure/perdure/continuation"
	"github.com/perdure/perdure/queue"
	"github.com/perdure/perdure/scheduler"
	"github.com/perdure/perdure/semaphore"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Engine hosts a set of continuation machines.
//
// It consumes the dispatch queue, fires registered recurring jobs, and
// exposes an executor for starting new operations.
type Engine struct {
	opts  *engineOptions
	ready chan struct{}
	act   *activator.Activator
}

// New returns a new engine configured by the given options.
//
// At least one machine must be provided via WithMachine().
func New(options ...EngineOption) *Engine {
	return &Engine{
		opts:  resolveEngineOptions(options...),
		ready: make(chan struct{}),
	}
}

// Execute starts a new operation on one of the engine's machines.
//
// It blocks until the engine is running, then executes the operation's
// first step synchronously; the remaining steps run on queue
// deliveries.
func (e *Engine) Execute(
	ctx context.Context,
	in continuation.Input,
) (continuation.Result, error) {
	select {
	case <-e.ready:
	case <-ctx.Done():
		return continuation.Result{}, ctx.Err()
	}

	return e.act.Execute(ctx, in)
}

// Run drives the engine until ctx is canceled or an error occurs.
func (e *Engine) Run(ctx context.Context) (err error) {
	ds, err := e.opts.PersistenceProvider.Open(ctx, e.opts.ApplicationKey)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, ds.Close())
	}()

	q := &queue.Queue{
		DataStore: ds,
	}

	e.act = &activator.Activator{
		Router:           e.opts.Router,
		DataStore:        ds,
		Queue:            q,
		Packer:           e.opts.newPacker(),
		Backoff:          e.opts.MessageBackoff,
		OperationTimeout: e.opts.OperationTimeout,
		Logger:           e.opts.Logger,
	}
	close(e.ready)

	consumer := &activator.Consumer{
		Queue:           q,
		Activator:       e.act,
		Semaphore:       semaphore.New(int(e.opts.ConcurrencyLimit)),
		BackoffStrategy: e.opts.MessageBackoff,
		Logger:          e.opts.Logger,
	}

	parent := ctx
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return consumer.Run(ctx)
	})

	if len(e.opts.Jobs) > 0 {
		producer := &scheduler.Producer{
			Executor:  e.act,
			DataStore: ds,
			Flags:     e.opts.Flags,
			Logger:    e.opts.Logger,
		}

		for _, j := range e.opts.Jobs {
			if err := producer.Register(j); err != nil {
				return err
			}
		}

		g.Go(func() error {
			return producer.Run(ctx)
		})
	}

	err = g.Wait()

	if parent.Err() != nil {
		return parent.Err()
	}

	return err
}
