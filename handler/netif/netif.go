// Package netif implements the network-interface lifecycle machines.
//
// Both machines follow the Begin/Check shape: the begin step issues the
// provider request and returns immediately with a resumable tracking
// handle; the check step polls until the provider reports an outcome.
// After the begin step the worker is free, and any worker can pick up
// the next check.
package netif

import (
	"context"
	"fmt"

	"github.com/perdure/perdure/cloud"
	"github.com/perdure/perdure/continuation"
	"github.com/perdure/perdure/handler"
)

// The identifiers of the network-interface machines.
const (
	CreateHandler = "netif-create"
	DeleteHandler = "netif-delete"
)

// DefaultMaxRetries is the per-state retry ceiling for the
// network-interface machines.
const DefaultMaxRetries uint = 30

// CreateRequest is the initial payload for an interface creation.
type CreateRequest struct {
	// Resource identifies the interface to create.
	Resource cloud.ResourceInfo

	// Spec describes the interface to provision.
	Spec cloud.ProvisionSpec
}

// CreateProgress carries the provider's tracking handle from the begin
// step to the polling step.
type CreateProgress struct {
	// Resource identifies the interface being created.
	Resource cloud.ResourceInfo

	// Handle is the provider's resumable tracking handle.
	Handle string
}

// DeleteRequest is the initial payload for an interface deletion.
type DeleteRequest struct {
	// Resource identifies the interface to delete.
	Resource cloud.ResourceInfo
}

// DeleteProgress carries the provider's tracking handle from the begin
// step to the polling step.
type DeleteProgress struct {
	// Resource identifies the interface being deleted.
	Resource cloud.ResourceInfo

	// Handle is the provider's resumable tracking handle.
	Handle string
}

// Machines builds the network-interface machines around a provider
// client.
type Machines struct {
	// Client is the provider's network-interface surface.
	Client cloud.InterfaceClient
}

// NewCreateMachine returns the machine that creates a network interface.
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

// NewDeleteMachine returns the machine that deletes a network interface.
//
// An interface that turns out to be already gone counts as success.
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

	handle, err := m.Client.BeginCreate(ctx, p.Resource, p.Spec)
	if err != nil {
		return continuation.Result{}, err
	}

	return continuation.InProgress(
		"check-create",
		CreateProgress{
			Resource: p.Resource,
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
		return continuation.Succeeded(), nil

	case cloud.StatusFailed:
		return continuation.Failed(
			fmt.Sprintf("provider failed to create interface %s", p.Resource.Name),
		), nil

	default:
		return continuation.InProgress("check-create", p), nil
	}
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
			fmt.Sprintf("provider failed to delete interface %s", p.Resource.Name),
		), nil

	default:
		return continuation.InProgress("check-delete", p), nil
	}
}
