package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/perdure/perdure/activator"
	"github.com/perdure/perdure/continuation"
	"github.com/perdure/perdure/handler"
	"github.com/perdure/perdure/persistence"
)

// A Provisioner describes how one type of pooled resource is provisioned
// and deleted, in terms of the continuation machines that do the work.
type Provisioner struct {
	// CreateHandler is the machine that provisions a new resource and
	// adds its record to the pool.
	CreateHandler string

	// NewCreatePayload builds the initial step payload for a
	// provisioning run.
	NewCreatePayload func(sku, location string) interface{}

	// DeleteHandler is the machine that deletes a resource.
	DeleteHandler string

	// NewDeletePayload builds the initial step payload for a deletion
	// run.
	NewDeletePayload func(rec persistence.ResourceRecord) interface{}
}

// Broker is the resource broker: the allocation contract exposed to
// callers, built on the allocator and the activator.
type Broker struct {
	// Allocator hands out unassigned resources.
	Allocator *Allocator

	// Executor starts provisioning and deletion continuations.
	Executor activator.Executor

	// Provisioners maps each resource type to its machines.
	Provisioners map[persistence.ResourceType]Provisioner

	// Logger is the target for log messages from the broker.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger
}

// Allocate assigns a pooled resource to the caller.
//
// If the pool is empty for the requested combination it starts a
// provisioning continuation and returns ErrNoneAvailable; the caller is
// expected to retry once provisioning has caught up.
func (b *Broker) Allocate(
	ctx context.Context,
	sku string,
	t persistence.ResourceType,
	location string,
) (persistence.ResourceRecord, error) {
	rec, err := b.Allocator.Acquire(ctx, sku, t, location)

	if errors.Is(err, ErrNoneAvailable) {
		logging.Log(
			b.Logger,
			"pool has no %s resource for %s in %s, provisioning",
			t,
			sku,
			location,
		)

		if perr := b.provision(ctx, sku, t, location); perr != nil {
			return persistence.ResourceRecord{}, perr
		}
	}

	return rec, err
}

// Deallocate returns a previously allocated resource.
//
// The resource is never reused; its record is removed from the pool and
// a deletion continuation is started.
func (b *Broker) Deallocate(ctx context.Context, id string) error {
	rec, ok, err := b.Allocator.DataStore.LoadResourceRecord(ctx, id)
	if err != nil {
		return err
	}

	if !ok {
		return handler.ResourceNotFoundError{Resource: id}
	}

	p, ok := b.Provisioners[rec.Type]
	if !ok {
		return fmt.Errorf("no provisioner for %s resources", rec.Type)
	}

	if err := b.Allocator.DataStore.Persist(
		ctx,
		persistence.Batch{
			persistence.RemoveResourceRecord{Record: rec},
		},
	); err != nil {
		return err
	}

	_, err = b.Executor.Execute(
		ctx,
		continuation.Input{
			Handler: p.DeleteHandler,
			Payload: p.NewDeletePayload(rec),
			Properties: map[string]string{
				"resource-id": rec.ID,
			},
		},
	)

	return err
}

// provision starts a continuation that adds one resource to the pool.
func (b *Broker) provision(
	ctx context.Context,
	sku string,
	t persistence.ResourceType,
	location string,
) error {
	p, ok := b.Provisioners[t]
	if !ok {
		return fmt.Errorf("no provisioner for %s resources", t)
	}

	_, err := b.Executor.Execute(
		ctx,
		continuation.Input{
			Handler: p.CreateHandler,
			Payload: p.NewCreatePayload(sku, location),
			Properties: map[string]string{
				"sku":      sku,
				"location": location,
			},
		},
	)

	return err
}
