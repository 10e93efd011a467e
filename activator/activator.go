// Package activator implements the continuation task activator, the
// engine that drives every multi-step resource-lifecycle operation to
// completion.
//
// The activator executes exactly one step of a machine at a time. When a
// step reports that the operation is still in progress, the activator
// persists a continuation token and publishes a resume message on the
// dispatch queue; any worker sharing the data store picks the operation
// up from there. No operation state ever lives in process memory between
// steps, which is what lets an operation survive worker crashes.
package activator

import (
	"context"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/linger/backoff"
	"github.com/perdure/perdure/continuation"
	"github.com/perdure/perdure/handler"
	"github.com/perdure/perdure/internal/mlog"
	"github.com/perdure/perdure/persistence"
	"github.com/perdure/perdure/queue"
)

var (
	// DefaultOperationTimeout is the default wall-clock budget for a
	// whole operation, measured from the time its tracking ID was first
	// seen.
	DefaultOperationTimeout = 1 * time.Hour

	// DefaultBackoff is the default strategy used to delay retries of a
	// transiently-failed state.
	DefaultBackoff backoff.Strategy = backoff.WithTransforms(
		backoff.Exponential(5*time.Second),
		linger.FullJitter,
		linger.Limiter(0, 10*time.Minute),
	)
)

// An Executor starts new operations.
//
// It is implemented by the Activator and by anything that fronts one,
// such as the engine.
type Executor interface {
	// Execute runs the first step of a new operation.
	Execute(ctx context.Context, in continuation.Input) (continuation.Result, error)
}

// Activator drives continuation machines.
type Activator struct {
	// Router maps target handler identifiers to machines.
	Router handler.Router

	// DataStore persists continuation tokens and queue items.
	DataStore persistence.DataStore

	// Queue is the dispatch queue used to resume suspended operations.
	Queue *queue.Queue

	// Packer builds tokens and marshals step payloads.
	Packer *continuation.Packer

	// Backoff is the strategy used to delay retries when a machine does
	// not provide its own. If it is nil, DefaultBackoff is used.
	Backoff backoff.Strategy

	// OperationTimeout is the wall-clock budget for a whole operation. If
	// it is zero, DefaultOperationTimeout is used.
	OperationTimeout time.Duration

	// Logger is the target for log messages about operation transitions.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger
}

// Execute runs the first step of a new operation.
//
// If the step leaves the operation in progress, the activator persists a
// continuation token and publishes a resume message, then returns; the
// remaining steps run on queue deliveries.
func (a *Activator) Execute(
	ctx context.Context,
	in continuation.Input,
) (continuation.Result, error) {
	t, err := a.Packer.Pack(in)
	if err != nil {
		return continuation.Result{}, err
	}

	o, err := a.step(ctx, t)
	if err != nil {
		return continuation.Result{}, err
	}

	if !o.suspend {
		// Terminal on the very first step. The token was never persisted,
		// so there is nothing to clean up.
		return o.result, nil
	}

	item := persistence.QueueItem{
		NextAttemptAt: time.Now().Add(o.delay),
		Token:         o.next,
	}

	if err := a.DataStore.Persist(
		ctx,
		persistence.Batch{
			persistence.SaveContinuationToken{Token: o.next},
			persistence.SaveQueueItem{Item: item},
		},
	); err != nil {
		return continuation.Result{}, err
	}

	item.Revision++
	item.Token.Revision++
	a.Queue.Track(item)

	mlog.LogSuspend(a.Logger, o.next, o.delay)

	return o.result, nil
}

// ExecuteSync runs an operation to completion in-process.
//
// Instead of suspending to the queue it loops over the machine's steps,
// sleeping between polls. It is intended for tests and tools; production
// callers use Execute so that the operation survives worker crashes.
func (a *Activator) ExecuteSync(
	ctx context.Context,
	in continuation.Input,
) (continuation.Result, error) {
	t, err := a.Packer.Pack(in)
	if err != nil {
		return continuation.Result{}, err
	}

	for {
		o, err := a.step(ctx, t)
		if err != nil {
			return continuation.Result{}, err
		}

		if !o.suspend {
			return o.result, nil
		}

		if err := linger.Sleep(ctx, o.delay); err != nil {
			return continuation.Result{}, err
		}

		t = o.next
	}
}

// Resume runs the next step of a suspended operation, delivered as a
// resume message from the dispatch queue.
//
// A message whose token is missing or has moved on is stale (a
// redelivery of an already-handled message) and is dropped without
// executing anything.
func (a *Activator) Resume(
	ctx context.Context,
	m *queue.Message,
) (continuation.Result, error) {
	t, ok, err := a.DataStore.LoadContinuationToken(ctx, m.ID())
	if err != nil {
		return continuation.Result{}, err
	}

	if !ok || t.StepCount != m.Token().StepCount {
		mlog.LogStale(a.Logger, m.ID())
		return continuation.Result{}, m.Ack(ctx, nil)
	}

	o, err := a.step(ctx, t)
	if err != nil {
		if _, isUnknown := err.(handler.UnknownHandlerError); isUnknown {
			// A resume message cannot outlive a deployment error by
			// retrying, so fail the operation and drop the message.
			logging.Log(a.Logger, "abandoning operation %s: %s", m.ID(), err)

			return continuation.Result{
					Status: continuation.StateFailed,
					Reason: err.Error(),
				}, m.Ack(ctx, persistence.Batch{
					persistence.RemoveContinuationToken{Token: t},
				})
		}

		return continuation.Result{}, err
	}

	if !o.suspend {
		return o.result, m.Ack(ctx, persistence.Batch{
			persistence.RemoveContinuationToken{Token: t},
		})
	}

	item := m.Item()
	item.NextAttemptAt = time.Now().Add(o.delay)
	item.Token = o.next

	if err := m.Defer(
		ctx,
		item,
		persistence.Batch{
			persistence.SaveContinuationToken{Token: o.next},
		},
	); err != nil {
		return continuation.Result{}, err
	}

	mlog.LogSuspend(a.Logger, o.next, o.delay)

	return o.result, nil
}

// outcome is the engine-internal result of executing one step.
type outcome struct {
	// result is the caller-observable result.
	result continuation.Result

	// suspend is true if the operation is still in progress and next must
	// be persisted.
	suspend bool

	// next is the token for the next step.
	next continuation.Token

	// delay is the minimum time before the next step runs.
	delay time.Duration
}

// step executes one step of the machine targeted by t and computes the
// token for the step after it.
//
// It performs no persistence; callers choreograph the store and queue
// writes according to how they were invoked.
func (a *Activator) step(
	ctx context.Context,
	t continuation.Token,
) (outcome, error) {
	m, err := a.Router.Route(t.Handler)
	if err != nil {
		return outcome{}, err
	}

	if d := a.operationTimeout(m); time.Since(t.CreatedAt) > d {
		res := continuation.Failed("operation timed out")
		mlog.LogTerminal(a.Logger, t, res.Status, res.Reason)
		return outcome{result: res}, nil
	}

	state := t.State
	if state == "" {
		state = m.Initial
		t.State = state
	}

	fn, ok := m.Step(state)
	if !ok {
		res := continuation.Failed("machine '" + m.Name + "' has no step for state '" + string(state) + "'")
		mlog.LogTerminal(a.Logger, t, res.Status, res.Reason)
		return outcome{result: res}, nil
	}

	payload, err := a.Packer.UnpackPayload(t)
	if err != nil {
		res := continuation.Failed("cannot unmarshal step payload: " + err.Error())
		mlog.LogTerminal(a.Logger, t, res.Status, res.Reason)
		return outcome{result: res}, nil
	}

	mlog.LogStep(a.Logger, t, state)

	res, err := fn(ctx, handler.Request{
		TrackingID:   t.TrackingID,
		State:        state,
		Payload:      payload,
		RetryAttempt: t.RetryAttempt,
		Properties:   t.Properties,
		Logger:       a.Logger,
	})
	if err != nil {
		return a.stepFailed(m, t, err)
	}

	switch {
	case res.Status == continuation.StateInProgress:
		return a.stepInProgress(m, t, res)

	case res.Status.IsTerminal():
		mlog.LogTerminal(a.Logger, t, res.Status, res.Reason)
		return outcome{result: res}, nil

	default:
		out := continuation.Failed("machine '" + m.Name + "' returned invalid status '" + string(res.Status) + "'")
		mlog.LogTerminal(a.Logger, t, out.Status, out.Reason)
		return outcome{result: out}, nil
	}
}

// stepInProgress computes the outcome of a step that left the operation
// in progress.
func (a *Activator) stepInProgress(
	m *handler.Machine,
	t continuation.Token,
	res continuation.Result,
) (outcome, error) {
	if res.NextState == "" {
		out := continuation.Failed("machine '" + m.Name + "' reported in-progress without a next state")
		mlog.LogTerminal(a.Logger, t, out.Status, out.Reason)
		return outcome{result: out}, nil
	}

	packet, err := a.Packer.PackPayload(res.NextPayload)
	if err != nil {
		return outcome{}, err
	}

	var next continuation.Token
	if res.NextState == t.State {
		// Poll-and-wait: the machine is not advancing, so the repeat
		// counts against the state's retry budget.
		if t.RetryAttempt >= m.MaxRetries {
			out := continuation.Failed("state '" + string(t.State) + "' exceeded its retry budget")
			mlog.LogTerminal(a.Logger, t, out.Status, out.Reason)
			return outcome{result: out}, nil
		}

		next = t.Retry()
		next.Payload = packet
	} else {
		next = t.Next(res.NextState, packet)
	}

	delay := res.RetryAfter
	if delay <= 0 && res.NextState == t.State {
		delay = a.backoff()(nil, next.RetryAttempt)
	}

	return outcome{
		result:  continuation.Result{Status: continuation.StateInProgress, NextState: next.State, RetryAfter: delay},
		suspend: true,
		next:    next,
		delay:   delay,
	}, nil
}

// stepFailed classifies an error thrown by a step.
//
// Callers never see raw provider errors; they observe a state and a
// reason.
func (a *Activator) stepFailed(
	m *handler.Machine,
	t continuation.Token,
	err error,
) (outcome, error) {
	if retryAfter, ok := handler.IsTransient(err); ok {
		if t.RetryAttempt >= m.MaxRetries {
			res := continuation.Failed("state '" + string(t.State) + "' exceeded its retry budget: " + err.Error())
			mlog.LogTerminal(a.Logger, t, res.Status, res.Reason)
			return outcome{result: res}, nil
		}

		next := t.Retry()

		delay := retryAfter
		if delay <= 0 {
			delay = a.machineBackoff(m)(err, next.RetryAttempt)
		}

		return outcome{
			result:  continuation.Result{Status: continuation.StateInProgress, NextState: next.State, RetryAfter: delay},
			suspend: true,
			next:    next,
			delay:   delay,
		}, nil
	}

	res := continuation.Failed(err.Error())
	mlog.LogTerminal(a.Logger, t, res.Status, res.Reason)
	return outcome{result: res}, nil
}

func (a *Activator) operationTimeout(m *handler.Machine) time.Duration {
	if m.Timeout > 0 {
		return m.Timeout
	}

	if a.OperationTimeout > 0 {
		return a.OperationTimeout
	}

	return DefaultOperationTimeout
}

func (a *Activator) backoff() backoff.Strategy {
	if a.Backoff != nil {
		return a.Backoff
	}

	return DefaultBackoff
}

func (a *Activator) machineBackoff(m *handler.Machine) backoff.Strategy {
	if m.Backoff != nil {
		return m.Backoff
	}

	return a.backoff()
}
