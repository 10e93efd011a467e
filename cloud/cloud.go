// Package cloud defines the provider-facing interfaces used by the
// continuation machines.
//
// Every long-running provider call is split into a Begin method, which
// issues the request and returns a resumable tracking handle, and a
// Check method, which polls the request using that handle. The handle is
// an opaque string that survives serialization into a step payload, so
// the poll can happen on a different worker than the one that issued the
// request.
package cloud

import (
	"context"
	"errors"
)

// ErrNotFound indicates that the provider has no resource matching the
// request.
//
// Deletion machines treat it as success; "already deleted" is never a
// failure.
var ErrNotFound = errors.New("resource does not exist")

// IsNotFound returns true if err indicates that a resource does not
// exist at the provider.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ResourceInfo identifies one resource at the provider.
type ResourceInfo struct {
	// SubscriptionID is the provider subscription holding the resource.
	SubscriptionID string

	// ResourceGroup is the resource group holding the resource.
	ResourceGroup string

	// Name is the resource's name within its group.
	Name string
}

// ProvisionSpec describes the resource that a create operation is to
// provision.
type ProvisionSpec struct {
	// SkuName is the SKU to provision.
	SkuName string

	// Location is the region to provision in.
	Location string
}

// OperationStatus is the provider-reported status of an in-flight
// operation.
type OperationStatus string

const (
	// StatusInProgress indicates the operation has not completed yet.
	StatusInProgress OperationStatus = "in-progress"

	// StatusSucceeded indicates the operation completed successfully.
	StatusSucceeded OperationStatus = "succeeded"

	// StatusFailed indicates the operation failed at the provider.
	StatusFailed OperationStatus = "failed"
)

// DiskClient exposes the provider operations needed by the disk
// machines.
type DiskClient interface {
	// IsAttached returns true if the disk is still attached to a virtual
	// machine.
	IsAttached(ctx context.Context, res ResourceInfo) (bool, error)

	// BeginDelete issues a request to delete the disk and returns a
	// resumable tracking handle.
	BeginDelete(ctx context.Context, res ResourceInfo) (handle string, err error)

	// CheckDelete polls a delete request previously issued by
	// BeginDelete.
	CheckDelete(ctx context.Context, res ResourceInfo, handle string) (OperationStatus, error)
}

// InterfaceClient exposes the provider operations needed by the
// network-interface machines.
type InterfaceClient interface {
	// BeginCreate issues a request to create the network interface and
	// returns a resumable tracking handle.
	BeginCreate(ctx context.Context, res ResourceInfo, spec ProvisionSpec) (handle string, err error)

	// CheckCreate polls a create request previously issued by
	// BeginCreate.
	CheckCreate(ctx context.Context, res ResourceInfo, handle string) (OperationStatus, error)

	// BeginDelete issues a request to delete the network interface and
	// returns a resumable tracking handle.
	BeginDelete(ctx context.Context, res ResourceInfo) (handle string, err error)

	// CheckDelete polls a delete request previously issued by
	// BeginDelete.
	CheckDelete(ctx context.Context, res ResourceInfo, handle string) (OperationStatus, error)
}

// VirtualMachineClient exposes the provider operations needed by the
// virtual-machine machines.
type VirtualMachineClient interface {
	// BeginCreate issues a request to create the virtual machine and
	// returns a resumable tracking handle.
	BeginCreate(ctx context.Context, res ResourceInfo, spec ProvisionSpec) (handle string, err error)

	// CheckCreate polls a create request previously issued by
	// BeginCreate.
	CheckCreate(ctx context.Context, res ResourceInfo, handle string) (OperationStatus, error)

	// BeginDelete issues a request to delete the virtual machine and
	// returns a resumable tracking handle.
	BeginDelete(ctx context.Context, res ResourceInfo) (handle string, err error)

	// CheckDelete polls a delete request previously issued by
	// BeginDelete.
	CheckDelete(ctx context.Context, res ResourceInfo, handle string) (OperationStatus, error)
}
