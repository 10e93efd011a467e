package fixtures

import (
	"context"
	"sync"

	"github.com/perdure/perdure/continuation"
)

// ExecutorStub is a test implementation of the activator.Executor
// interface.
type ExecutorStub struct {
	ExecuteFunc func(context.Context, continuation.Input) (continuation.Result, error)

	m      sync.Mutex
	inputs []continuation.Input
}

// Execute runs the first step of a new operation.
func (e *ExecutorStub) Execute(ctx context.Context, in continuation.Input) (continuation.Result, error) {
	e.m.Lock()
	e.inputs = append(e.inputs, in)
	e.m.Unlock()

	if e.ExecuteFunc != nil {
		return e.ExecuteFunc(ctx, in)
	}

	return continuation.Result{Status: continuation.StateInProgress}, nil
}

// Inputs returns every input passed to Execute so far.
func (e *ExecutorStub) Inputs() []continuation.Input {
	e.m.Lock()
	defer e.m.Unlock()

	inputs := make([]continuation.Input, len(e.inputs))
	copy(inputs, e.inputs)

	return inputs
}
