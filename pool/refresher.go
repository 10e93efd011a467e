package pool

import (
	"context"
	"fmt"

	"github.com/perdure/perdure/continuation"
	"github.com/perdure/perdure/handler"
	"github.com/perdure/perdure/persistence"
	"github.com/perdure/perdure/scheduler/shard"
)

// RefreshHandler is the identifier of the pool refresher machine.
const RefreshHandler = "pool-refresh"

// A Definition describes one pool that the refresher maintains.
type Definition struct {
	// SkuName is the SKU of the pooled resources.
	SkuName string

	// Type is the kind of pooled resource.
	Type persistence.ResourceType

	// Location is the region the pooled resources live in.
	Location string

	// TargetSize is the number of unassigned resources to keep on hand.
	TargetSize int
}

// key identifies the definition for sharding purposes.
func (d Definition) key() string {
	return d.SkuName + "/" + string(d.Type) + "/" + d.Location
}

// Refresher tops pools up to their target sizes.
//
// It runs as a per-shard recurring job; each run handles the pool
// definitions that hash to its shard, counting unassigned records and
// starting one provisioning continuation per missing resource.
type Refresher struct {
	// DataStore is the store holding the pool's resource records.
	DataStore persistence.DataStore

	// Broker starts the provisioning continuations.
	Broker *Broker

	// Definitions are the pools to maintain.
	Definitions []Definition
}

// NewMachine returns the machine that runs one shard's top-up scan.
func (r *Refresher) NewMachine() *handler.Machine {
	return &handler.Machine{
		Name:    RefreshHandler,
		Initial: "top-up",
		Steps: map[continuation.StateName]handler.StepFunc{
			"top-up": r.topUp,
		},
		MaxRetries: 3,
		PayloadTypes: []interface{}{
			shard.Payload{},
		},
	}
}

func (r *Refresher) topUp(
	ctx context.Context,
	req handler.Request,
) (continuation.Result, error) {
	p, ok := req.Payload.(shard.Payload)
	if !ok {
		return continuation.Result{}, handler.ValidationError{
			Reason: fmt.Sprintf("unexpected payload type %T", req.Payload),
		}
	}

	for _, d := range r.Definitions {
		if shard.ForKey(d.key()) != p.Shard {
			continue
		}

		n, err := r.DataStore.CountUnassigned(ctx, d.SkuName, d.Type, d.Location)
		if err != nil {
			return continuation.Result{}, handler.Transient(err)
		}

		for ; n < d.TargetSize; n++ {
			if err := r.Broker.provision(ctx, d.SkuName, d.Type, d.Location); err != nil {
				return continuation.Result{}, handler.Transient(err)
			}
		}
	}

	return continuation.Succeeded(), nil
}
