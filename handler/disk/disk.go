// Package disk implements the disk lifecycle machines.
package disk

import (
	"context"
	"fmt"

	"github.com/perdure/perdure/cloud"
	"github.com/perdure/perdure/continuation"
	"github.com/perdure/perdure/handler"
)

// DeleteHandler is the identifier of the disk deletion machine.
const DeleteHandler = "disk-delete"

// DefaultMaxRetries is the per-state retry ceiling for the disk
// machines. Detachment is caller-driven and asynchronous, so the
// attachment poll needs a generous budget.
const DefaultMaxRetries uint = 30

// DeleteRequest is the initial payload for a disk deletion.
type DeleteRequest struct {
	// Resource identifies the disk to delete.
	Resource cloud.ResourceInfo
}

// DeleteProgress carries the provider's tracking handle from the begin
// step to the polling step.
type DeleteProgress struct {
	// Resource identifies the disk being deleted.
	Resource cloud.ResourceInfo

	// Handle is the provider's resumable tracking handle.
	Handle string
}

// Machines builds the disk machines around a provider client.
type Machines struct {
	// Client is the provider's disk surface.
	Client cloud.DiskClient
}

// NewDeleteMachine returns the machine that deletes a disk.
//
// The disk may still be attached when deletion is requested; the
// machine polls until the caller detaches it before issuing the delete.
// A disk that turns out to be already gone counts as success.
func (m *Machines) NewDeleteMachine() *handler.Machine {
	return &handler.Machine{
		Name:    DeleteHandler,
		Initial: "check-attached-disk",
		Steps: map[continuation.StateName]handler.StepFunc{
			"check-attached-disk":      m.checkAttached,
			"begin-delete-disk":        m.beginDelete,
			"check-deleted-disk-state": m.checkDeleted,
		},
		MaxRetries: DefaultMaxRetries,
		PayloadTypes: []interface{}{
			DeleteRequest{},
			DeleteProgress{},
		},
	}
}

func (m *Machines) checkAttached(
	ctx context.Context,
	req handler.Request,
) (continuation.Result, error) {
	p, ok := req.Payload.(DeleteRequest)
	if !ok {
		return continuation.Result{}, handler.ValidationError{
			Reason: fmt.Sprintf("unexpected payload type %T", req.Payload),
		}
	}

	attached, err := m.Client.IsAttached(ctx, p.Resource)
	if err != nil {
		if cloud.IsNotFound(err) {
			return continuation.Succeeded(), nil
		}

		return continuation.Result{}, err
	}

	if attached {
		// Detachment is driven by the disk's owner. Poll again later.
		return continuation.InProgress("check-attached-disk", p), nil
	}

	return continuation.InProgress("begin-delete-disk", p), nil
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
		"check-deleted-disk-state",
		DeleteProgress{
			Resource: p.Resource,
			Handle:   handle,
		},
	), nil
}

func (m *Machines) checkDeleted(
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
			fmt.Sprintf("provider failed to delete disk %s", p.Resource.Name),
		), nil

	default:
		return continuation.InProgress("check-deleted-disk-state", p), nil
	}
}
