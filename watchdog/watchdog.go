// Package watchdog implements the heartbeat monitor: a continuation
// that waits for heartbeats from a running resource and triggers the
// repair workflow when they lapse.
package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/perdure/perdure/activator"
	"github.com/perdure/perdure/continuation"
	"github.com/perdure/perdure/flags"
	"github.com/perdure/perdure/handler"
)

const (
	// Handler is the identifier of the heartbeat monitor machine.
	Handler = "heartbeat-monitor"

	// FlagMonitorHeartbeat gates heartbeat monitoring. When it is
	// disabled Start() declines without starting anything.
	FlagMonitorHeartbeat = "watchdog.monitor-heartbeat"
)

var (
	// DefaultWindow is the default interval within which a resource must
	// produce a heartbeat.
	DefaultWindow = 2 * time.Minute

	// DefaultMaxRenewals bounds the number of times one monitoring
	// episode can re-arm itself, so a monitor cannot outlive its
	// resource indefinitely.
	DefaultMaxRenewals uint = 1440
)

// A Heartbeat is one heartbeat received from a resource.
type Heartbeat struct {
	// ResourceID identifies the resource that produced the heartbeat.
	ResourceID string

	// Timestamp is the time the heartbeat was produced.
	Timestamp time.Time

	// States carries the monitor states reported with the heartbeat.
	States []string
}

// An Episode is the step payload for one monitoring episode.
type Episode struct {
	// EnvironmentID is the environment whose resource is monitored.
	EnvironmentID string

	// ResourceID is the resource being monitored.
	ResourceID string

	// Seen is the timestamp of the latest heartbeat the episode has
	// accounted for.
	Seen time.Time
}

// A Repairer runs the repair workflow for a resource whose heartbeats
// have lapsed.
type Repairer interface {
	// Repair force-suspends or marks the resource unavailable.
	Repair(ctx context.Context, environmentID, resourceID string) error
}

// RepairFunc adapts a function to the Repairer interface.
type RepairFunc func(ctx context.Context, environmentID, resourceID string) error

// Repair calls fn.
func (fn RepairFunc) Repair(ctx context.Context, environmentID, resourceID string) error {
	return fn(ctx, environmentID, resourceID)
}

// Monitor watches resource heartbeats.
//
// Each monitored resource gets one continuation episode: a wait step
// that re-arms itself while heartbeats stay fresh and advances to the
// repair step when they lapse. Heartbeats are ingested via Record().
type Monitor struct {
	// Executor starts the monitoring continuations.
	Executor activator.Executor

	// Flags gates monitoring. If it is nil, every flag is treated as
	// enabled.
	Flags flags.Provider

	// Repairer runs the repair workflow on lapse.
	Repairer Repairer

	// Window is the interval within which a resource must heartbeat. If
	// it is zero, DefaultWindow is used.
	Window time.Duration

	// MaxRenewals bounds how many times an episode can re-arm. If it is
	// zero, DefaultMaxRenewals is used.
	MaxRenewals uint

	// Logger is the target for log messages from the monitor.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger

	m     sync.Mutex
	beats map[string]Heartbeat
}

// Start begins monitoring the given resource.
//
// If the monitoring flag is disabled it declines and returns without
// starting anything.
func (w *Monitor) Start(ctx context.Context, environmentID, resourceID string) error {
	f := w.Flags
	if f == nil {
		f = flags.Enabled
	}

	on, err := f.IsEnabled(ctx, FlagMonitorHeartbeat)
	if err != nil {
		return err
	}

	if !on {
		logging.Debug(
			w.Logger,
			"declining to monitor %s, %s is disabled",
			resourceID,
			FlagMonitorHeartbeat,
		)
		return nil
	}

	_, err = w.Executor.Execute(
		ctx,
		continuation.Input{
			Handler: Handler,
			Payload: Episode{
				EnvironmentID: environmentID,
				ResourceID:    resourceID,
				Seen:          time.Now(),
			},
			Properties: map[string]string{
				"environment-id": environmentID,
				"resource-id":    resourceID,
			},
		},
	)

	return err
}

// Record ingests a heartbeat.
func (w *Monitor) Record(_ context.Context, hb Heartbeat) error {
	w.m.Lock()
	defer w.m.Unlock()

	if w.beats == nil {
		w.beats = map[string]Heartbeat{}
	}

	if prev, ok := w.beats[hb.ResourceID]; !ok || hb.Timestamp.After(prev.Timestamp) {
		w.beats[hb.ResourceID] = hb
	}

	return nil
}

// NewMachine returns the heartbeat monitor machine.
func (w *Monitor) NewMachine() *handler.Machine {
	max := w.MaxRenewals
	if max == 0 {
		max = DefaultMaxRenewals
	}

	return &handler.Machine{
		Name:    Handler,
		Initial: "wait-for-heartbeat",
		Steps: map[continuation.StateName]handler.StepFunc{
			"wait-for-heartbeat": w.wait,
			"trigger-repair":     w.repair,
		},
		MaxRetries: max,
		Timeout:    time.Duration(max+1) * w.window(),
		PayloadTypes: []interface{}{
			Episode{},
		},
	}
}

// wait checks whether a fresh heartbeat has arrived since the episode
// last looked.
//
// A fresh heartbeat re-arms the episode with a new deadline; a lapse
// advances to the repair step.
func (w *Monitor) wait(
	_ context.Context,
	req handler.Request,
) (continuation.Result, error) {
	ep, ok := req.Payload.(Episode)
	if !ok {
		return continuation.Result{}, handler.ValidationError{
			Reason: fmt.Sprintf("unexpected payload type %T", req.Payload),
		}
	}

	if hb, ok := w.latest(ep.ResourceID); ok && hb.Timestamp.After(ep.Seen) {
		ep.Seen = hb.Timestamp
	}

	deadline := ep.Seen.Add(w.window())
	if remaining := time.Until(deadline); remaining > 0 {
		return continuation.Wait("wait-for-heartbeat", ep, remaining), nil
	}

	return continuation.InProgress("trigger-repair", ep), nil
}

// repair invokes the repair workflow, once per missed-heartbeat episode.
func (w *Monitor) repair(
	ctx context.Context,
	req handler.Request,
) (continuation.Result, error) {
	ep, ok := req.Payload.(Episode)
	if !ok {
		return continuation.Result{}, handler.ValidationError{
			Reason: fmt.Sprintf("unexpected payload type %T", req.Payload),
		}
	}

	logging.Log(
		w.Logger,
		"heartbeat from %s lapsed, triggering repair",
		ep.ResourceID,
	)

	if err := w.Repairer.Repair(ctx, ep.EnvironmentID, ep.ResourceID); err != nil {
		return continuation.Result{}, handler.Transient(err)
	}

	return continuation.Succeeded(), nil
}

func (w *Monitor) latest(resourceID string) (Heartbeat, bool) {
	w.m.Lock()
	defer w.m.Unlock()

	hb, ok := w.beats[resourceID]
	return hb, ok
}

func (w *Monitor) window() time.Duration {
	if w.Window > 0 {
		return w.Window
	}

	return DefaultWindow
}
