package fixtures

import (
	"context"

	"github.com/perdure/perdure/cloud"
)

// DiskClientStub is a test implementation of the cloud.DiskClient
// interface.
type DiskClientStub struct {
	cloud.DiskClient

	IsAttachedFunc  func(context.Context, cloud.ResourceInfo) (bool, error)
	BeginDeleteFunc func(context.Context, cloud.ResourceInfo) (string, error)
	CheckDeleteFunc func(context.Context, cloud.ResourceInfo, string) (cloud.OperationStatus, error)
}

// IsAttached returns true if the disk is still attached to a virtual
// machine.
func (c *DiskClientStub) IsAttached(ctx context.Context, res cloud.ResourceInfo) (bool, error) {
	if c.IsAttachedFunc != nil {
		return c.IsAttachedFunc(ctx, res)
	}

	if c.DiskClient != nil {
		return c.DiskClient.IsAttached(ctx, res)
	}

	return false, nil
}

// BeginDelete issues a request to delete the disk.
func (c *DiskClientStub) BeginDelete(ctx context.Context, res cloud.ResourceInfo) (string, error) {
	if c.BeginDeleteFunc != nil {
		return c.BeginDeleteFunc(ctx, res)
	}

	if c.DiskClient != nil {
		return c.DiskClient.BeginDelete(ctx, res)
	}

	return "", nil
}

// CheckDelete polls a delete request previously issued by BeginDelete.
func (c *DiskClientStub) CheckDelete(ctx context.Context, res cloud.ResourceInfo, handle string) (cloud.OperationStatus, error) {
	if c.CheckDeleteFunc != nil {
		return c.CheckDeleteFunc(ctx, res, handle)
	}

	if c.DiskClient != nil {
		return c.DiskClient.CheckDelete(ctx, res, handle)
	}

	return cloud.StatusSucceeded, nil
}

// InterfaceClientStub is a test implementation of the
// cloud.InterfaceClient interface.
type InterfaceClientStub struct {
	cloud.InterfaceClient

	BeginCreateFunc func(context.Context, cloud.ResourceInfo, cloud.ProvisionSpec) (string, error)
	CheckCreateFunc func(context.Context, cloud.ResourceInfo, string) (cloud.OperationStatus, error)
	BeginDeleteFunc func(context.Context, cloud.ResourceInfo) (string, error)
	CheckDeleteFunc func(context.Context, cloud.ResourceInfo, string) (cloud.OperationStatus, error)
}

// BeginCreate issues a request to create the network interface.
func (c *InterfaceClientStub) BeginCreate(ctx context.Context, res cloud.ResourceInfo, spec cloud.ProvisionSpec) (string, error) {
	if c.BeginCreateFunc != nil {
		return c.BeginCreateFunc(ctx, res, spec)
	}

	if c.InterfaceClient != nil {
		return c.InterfaceClient.BeginCreate(ctx, res, spec)
	}

	return "", nil
}

// CheckCreate polls a create request previously issued by BeginCreate.
func (c *InterfaceClientStub) CheckCreate(ctx context.Context, res cloud.ResourceInfo, handle string) (cloud.OperationStatus, error) {
	if c.CheckCreateFunc != nil {
		return c.CheckCreateFunc(ctx, res, handle)
	}

	if c.InterfaceClient != nil {
		return c.InterfaceClient.CheckCreate(ctx, res, handle)
	}

	return cloud.StatusSucceeded, nil
}

// BeginDelete issues a request to delete the network interface.
func (c *InterfaceClientStub) BeginDelete(ctx context.Context, res cloud.ResourceInfo) (string, error) {
	if c.BeginDeleteFunc != nil {
		return c.BeginDeleteFunc(ctx, res)
	}

	if c.InterfaceClient != nil {
		return c.InterfaceClient.BeginDelete(ctx, res)
	}

	return "", nil
}

// CheckDelete polls a delete request previously issued by BeginDelete.
func (c *InterfaceClientStub) CheckDelete(ctx context.Context, res cloud.ResourceInfo, handle string) (cloud.OperationStatus, error) {
	if c.CheckDeleteFunc != nil {
		return c.CheckDeleteFunc(ctx, res, handle)
	}

	if c.InterfaceClient != nil {
		return c.InterfaceClient.CheckDelete(ctx, res, handle)
	}

	return cloud.StatusSucceeded, nil
}

// VirtualMachineClientStub is a test implementation of the
// cloud.VirtualMachineClient interface.
type VirtualMachineClientStub struct {
	cloud.VirtualMachineClient

	BeginCreateFunc func(context.Context, cloud.ResourceInfo, cloud.ProvisionSpec) (string, error)
	CheckCreateFunc func(context.Context, cloud.ResourceInfo, string) (cloud.OperationStatus, error)
	BeginDeleteFunc func(context.Context, cloud.ResourceInfo) (string, error)
	CheckDeleteFunc func(context.Context, cloud.ResourceInfo, string) (cloud.OperationStatus, error)
}

// BeginCreate issues a request to create the virtual machine.
func (c *VirtualMachineClientStub) BeginCreate(ctx context.Context, res cloud.ResourceInfo, spec cloud.ProvisionSpec) (string, error) {
	if c.BeginCreateFunc != nil {
		return c.BeginCreateFunc(ctx, res, spec)
	}

	if c.VirtualMachineClient != nil {
		return c.VirtualMachineClient.BeginCreate(ctx, res, spec)
	}

	return "", nil
}

// CheckCreate polls a create request previously issued by BeginCreate.
func (c *VirtualMachineClientStub) CheckCreate(ctx context.Context, res cloud.ResourceInfo, handle string) (cloud.OperationStatus, error) {
	if c.CheckCreateFunc != nil {
		return c.CheckCreateFunc(ctx, res, handle)
	}

	if c.VirtualMachineClient != nil {
		return c.VirtualMachineClient.CheckCreate(ctx, res, handle)
	}

	return cloud.StatusSucceeded, nil
}

// BeginDelete issues a request to delete the virtual machine.
func (c *VirtualMachineClientStub) BeginDelete(ctx context.Context, res cloud.ResourceInfo) (string, error) {
	if c.BeginDeleteFunc != nil {
		return c.BeginDeleteFunc(ctx, res)
	}

	if c.VirtualMachineClient != nil {
		return c.VirtualMachineClient.BeginDelete(ctx, res)
	}

	return "", nil
}

// CheckDelete polls a delete request previously issued by BeginDelete.
func (c *VirtualMachineClientStub) CheckDelete(ctx context.Context, res cloud.ResourceInfo, handle string) (cloud.OperationStatus, error) {
	if c.CheckDeleteFunc != nil {
		return c.CheckDeleteFunc(ctx, res, handle)
	}

	if c.VirtualMachineClient != nil {
		return c.VirtualMachineClient.CheckDelete(ctx, res, handle)
	}

	return cloud.StatusSucceeded, nil
}
