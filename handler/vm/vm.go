// Package vm implements the virtual-machine lifecycle machines.
//
// The create machine feeds the resource pool: when the provider reports
// the machine is up, an unassigned pool record is persisted for it.
package vm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/perdure/perdure/cloud"
	"github.com/perdure/perdure/continuation"
	"github.com/perdure/perdure/handler"
	"github.com/perdure/perdure/persistence"
)

// The identifiers of the virtual-machine machines.
const (
	CreateHandler = "vm-create"
	DeleteHandler = "vm-delete"
)

// DefaultMaxRetries is the per-state retry ceiling for the
// virtual-machine machines.
const DefaultMaxRetries uint = 30

// CreateRequest is the initial payload for a machine creation.
type CreateRequest struct {
	// SkuName is the SKU to provision.
	SkuName string

	// Location is the region to provision in.
	Location string
}

// CreateProgress carries the provider's tracking handle from the begin
// step to the polling step.
type CreateProgress struct {
	// Resource identifies the machine being created.
	Resource cloud.ResourceInfo

	// SkuName is the SKU being provisioned.
	SkuName string

	// Location is the region being provisioned in.
	Location string

	// Handle is the provider's resumable tracking handle.
	Handle string
}

// DeleteRequest is the initial payload for a machine deletion.
type DeleteRequest struct {
	// Resource identifies the machine to delete.
	Resource cloud.ResourceInfo
}

// DeleteProgress carries the provider's tracking handle from the begin
// step to the polling step.
type DeleteProgress struct {
	// Resource identifies the machine being deleted.
	Resource cloud.ResourceInfo

	// Handle is the provider's resumable tracking handle.
	Handle string
}

// Machines builds the virtual-machine machines around a provider client
// and the pool's data store.
type Machines struct {
	// Client is the provider's virtual-machine surface.
	Client cloud.VirtualMachineClient

	// DataStore is the store holding the pool's resource records.
	DataStore persistence.DataStore

	// SubscriptionID is the provider subscription to provision in.
	SubscriptionID string

	// ResourceGroup is the resource group to provision in.
	ResourceGroup string
}

// NewCreateMachine returns the machine that provisions a virtual
// machine and adds it to the pool.
//
// The machine's name at the provider is derived from the operation's
// tracking ID, so a duplicate begin step finds the machine it already
// requested instead of provisioning a second one.
func (m *Machines) NewCreateMachine() *handler.Machine {
	return &handler.Machine{
		Name:    CreateHandler,
		Initial: "begin-create",
		Steps: map[continuation.StateName]handler.StepFunc{
			"begin-create": m.beginCreate,
			"check-create": m.checkCreate,
		},
		MaxRetries: DefaultMaxRetries,
		PayloadTypes: []interface{}{
			CreateRequest{},
			CreateProgress{},
		},
	}
}

// NewDeleteMachine returns the machine that deletes a virtual machine.
//
// A machine that turns out to be already gone counts as success.
func (m *Machines) NewDeleteMachine() *handler.Machine {
	return &handler.Machine{
		Name:    DeleteHandler,
		Initial: "begin-delete",
		Steps: map[continuation.StateName]handler.StepFunc{
			"begin-delete": m.beginDelete,
			"check-delete": m.checkDelete,
		},
		MaxRetries: DefaultMaxRetries,
		PayloadTypes: []interface{}{
			DeleteRequest{},
			DeleteProgress{},
		},
	}
}

// ResourceInfo returns the provider identity of the machine with the
// given name.
func (m *Machines) ResourceInfo(name string) cloud.ResourceInfo {
	return cloud.ResourceInfo{
		SubscriptionID: m.SubscriptionID,
		ResourceGroup:  m.ResourceGroup,
		Name:           name,
	}
}

func (m *Machines) beginCreate(
	ctx context.Context,
	req handler.Request,
) (continuation.Result, error) {
	p, ok := req.Payload.(CreateRequest)
	if !ok {
		return continuation.Result{}, handler.ValidationError{
			Reason: fmt.Sprintf("unexpected payload type %T", req.Payload),
		}
	}

	res := m.ResourceInfo("vm-" + req.TrackingID)

	handle, err := m.Client.BeginCreate(
		ctx,
		res,
		cloud.ProvisionSpec{
			SkuName:  p.SkuName,
			Location: p.Location,
		},
	)
	if err != nil {
		return continuation.Result{}, err
	}

	return continuation.InProgress(
		"check-create",
		CreateProgress{
			Resource: res,
			SkuName:  p.SkuName,
			Location: p.Location,
			Handle:   handle,
		},
	), nil
}

func (m *Machines) checkCreate(
	ctx context.Context,
	req handler.Request,
) (continuation.Result, error) {
	p, ok := req.Payload.(CreateProgress)
	if !ok {
		return continuation.Result{}, handler.ValidationError{
			Reason: fmt.Sprintf("unexpected payload type %T", req.Payload),
		}
	}

	status, err := m.Client.CheckCreate(ctx, p.Resource, p.Handle)
	if err != nil {
		return continuation.Result{}, err
	}

	switch status {
	case cloud.StatusSucceeded:
		return m.addToPool(ctx, p)

	case cloud.StatusFailed:
		return continuation.Failed(
			fmt.Sprintf("provider failed to create machine %s", p.Resource.Name),
		), nil

	default:
		return continuation.InProgress("check-create", p), nil
	}
}

// addToPool persists the unassigned pool record for a freshly
// provisioned machine.
func (m *Machines) addToPool(
	ctx context.Context,
	p CreateProgress,
) (continuation.Result, error) {
	err := m.DataStore.Persist(
		ctx,
		persistence.Batch{
			persistence.SaveResourceRecord{
				Record: persistence.ResourceRecord{
					ID:       p.Resource.Name,
					SkuName:  p.SkuName,
					Type:     persistence.ResourceTypeCompute,
					Location: p.Location,
					Created:  time.Now(),
				},
			},
		},
	)
	if err != nil {
		var conflict persistence.ConflictError
		if !errors.As(err, &conflict) {
			return continuation.Result{}, handler.Transient(err)
		}

		// The record already exists; a duplicate delivery beat us to it.
	}

	return continuation.Succeeded(), nil
}

func (m *Machines) beginDelete(
	ctx context.Context,
	req handler.Request,
) (continuation.Result, error) {
	p, ok := req.Payload.(DeleteRequest)
	if !ok {
		return continuation.Result{}, handler.ValidationError{
			Reason: fmt.Sprintf("unexpected payload type %T", req.Payload),
		}
	}

	handle, err := m.Client.BeginDelete(ctx, p.Resource)
	if err != nil {
		if cloud.IsNotFound(err) {
			return continuation.Succeeded(), nil
		}

		return continuation.Result{}, err
	}

	return continuation.InProgress(
		"check-delete",
		DeleteProgress{
			Resource: p.Resource,
			Handle:   handle,
		},
	), nil
}

func (m *Machines) checkDelete(
	ctx context.Context,
	req handler.Request,
) (continuation.Result, error) {
	p, ok := req.Payload.(DeleteProgress)
	if !ok {
		return continuation.Result{}, handler.ValidationError{
			Reason: fmt.Sprintf("unexpected payload type %T", req.Payload),
		}
	}

	status, err := m.Client.CheckDelete(ctx, p.Resource, p.Handle)
	if err != nil {
		if cloud.IsNotFound(err) {
			return continuation.Succeeded(), nil
		}

		return continuation.Result{}, err
	}

	switch status {
	case cloud.StatusSucceeded:
		return continuation.Succeeded(), nil

	case cloud.StatusFailed:
		return continuation.Failed(
			fmt.Sprintf("provider failed to delete machine %s", p.Resource.Name),
		), nil

	default:
		return continuation.InProgress("check-delete", p), nil
	}
}
