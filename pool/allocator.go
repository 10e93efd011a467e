// Package pool implements the resource pool: a set of pre-provisioned
// cloud resources that are handed out to callers on demand, so that a
// caller never waits for provisioning on the hot path.
package pool

import (
	"context"
	"errors"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/perdure/perdure/persistence"
)

// ErrNoneAvailable indicates that the pool holds no unassigned resource
// matching the requested SKU, type and location.
//
// It is a signal to retry after provisioning catches up, not a failure.
var ErrNoneAvailable = errors.New("no unassigned resource is available")

// Allocator hands out unassigned resources from the pool.
type Allocator struct {
	// DataStore is the store holding the pool's resource records.
	DataStore persistence.DataStore

	// Logger is the target for log messages about allocations.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger
}

// Acquire assigns the oldest unassigned resource matching the given SKU,
// type and location to the caller.
//
// Assignment is a conditional update; if another caller wins the race
// for a candidate record the allocator silently moves on to the next
// one. It returns ErrNoneAvailable if the pool is empty for the
// requested combination.
func (a *Allocator) Acquire(
	ctx context.Context,
	sku string,
	t persistence.ResourceType,
	location string,
) (persistence.ResourceRecord, error) {
	for {
		rec, ok, err := a.DataStore.LoadOldestUnassigned(ctx, sku, t, location)
		if err != nil {
			return persistence.ResourceRecord{}, err
		}

		if !ok {
			return persistence.ResourceRecord{}, ErrNoneAvailable
		}

		rec.IsAssigned = true

		if err := a.DataStore.Persist(
			ctx,
			persistence.Batch{
				persistence.SaveResourceRecord{Record: rec},
			},
		); err != nil {
			var conflict persistence.ConflictError
			if errors.As(err, &conflict) {
				// Another caller assigned (or removed) this record first.
				// There may still be other candidates.
				logging.Debug(
					a.Logger,
					"allocation of %s lost a race, retrying",
					rec.ID,
				)
				continue
			}

			return persistence.ResourceRecord{}, err
		}

		rec.Revision++

		logging.Log(
			a.Logger,
			"assigned %s resource %s (%s in %s)",
			rec.Type,
			rec.ID,
			rec.SkuName,
			rec.Location,
		)

		return rec, nil
	}
}
