package azure

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v2"
	"github.com/perdure/perdure/cloud"
)

// VirtualMachineClient implements cloud.VirtualMachineClient against
// ARM virtual machines.
type VirtualMachineClient struct {
	machines *armcompute.VirtualMachinesClient
}

// NewVirtualMachineClient returns a virtual-machine client for the
// given configuration.
func NewVirtualMachineClient(cfg Config) (*VirtualMachineClient, error) {
	cred, err := cfg.credential()
	if err != nil {
		return nil, err
	}

	machines, err := armcompute.NewVirtualMachinesClient(cfg.SubscriptionID, cred, cfg.Options)
	if err != nil {
		return nil, err
	}

	return &VirtualMachineClient{machines: machines}, nil
}

// BeginCreate issues a create request for the machine and returns the
// operation's resume token.
func (c *VirtualMachineClient) BeginCreate(
	ctx context.Context,
	res cloud.ResourceInfo,
	spec cloud.ProvisionSpec,
) (string, error) {
	poller, err := c.machines.BeginCreateOrUpdate(
		ctx,
		res.ResourceGroup,
		res.Name,
		armcompute.VirtualMachine{
			Location: to.Ptr(spec.Location),
			Properties: &armcompute.VirtualMachineProperties{
				HardwareProfile: &armcompute.HardwareProfile{
					VMSize: to.Ptr(armcompute.VirtualMachineSizeTypes(spec.SkuName)),
				},
			},
		},
		nil,
	)
	if err != nil {
		return "", mapError(err)
	}

	if poller.Done() {
		return "", nil
	}

	return poller.ResumeToken()
}

// CheckCreate polls a create request previously issued by BeginCreate.
func (c *VirtualMachineClient) CheckCreate(
	ctx context.Context,
	res cloud.ResourceInfo,
	handle string,
) (cloud.OperationStatus, error) {
	if handle == "" {
		return cloud.StatusSucceeded, nil
	}

	poller, err := c.machines.BeginCreateOrUpdate(
		ctx,
		res.ResourceGroup,
		res.Name,
		armcompute.VirtualMachine{},
		&armcompute.VirtualMachinesClientBeginCreateOrUpdateOptions{
			ResumeToken: handle,
		},
	)
	if err != nil {
		return "", mapError(err)
	}

	if _, err := poller.Poll(ctx); err != nil {
		return "", mapError(err)
	}

	if !poller.Done() {
		return cloud.StatusInProgress, nil
	}

	if _, err := poller.Result(ctx); err != nil {
		return "", mapError(err)
	}

	return cloud.StatusSucceeded, nil
}

// BeginDelete issues a delete request for the machine and returns the
// operation's resume token.
//
// An empty handle means the provider completed the delete immediately.
func (c *VirtualMachineClient) BeginDelete(ctx context.Context, res cloud.ResourceInfo) (string, error) {
	poller, err := c.machines.BeginDelete(ctx, res.ResourceGroup, res.Name, nil)
	if err != nil {
		return "", mapError(err)
	}

	if poller.Done() {
		return "", nil
	}

	return poller.ResumeToken()
}

// CheckDelete polls a delete request previously issued by BeginDelete.
func (c *VirtualMachineClient) CheckDelete(
	ctx context.Context,
	res cloud.ResourceInfo,
	handle string,
) (cloud.OperationStatus, error) {
	if handle == "" {
		return cloud.StatusSucceeded, nil
	}

	poller, err := c.machines.BeginDelete(
		ctx,
		res.ResourceGroup,
		res.Name,
		&armcompute.VirtualMachinesClientBeginDeleteOptions{
			ResumeToken: handle,
		},
	)
	if err != nil {
		return "", mapError(err)
	}

	if _, err := poller.Poll(ctx); err != nil {
		return "", mapError(err)
	}

	if !poller.Done() {
		return cloud.StatusInProgress, nil
	}

	if _, err := poller.Result(ctx); err != nil {
		return "", mapError(err)
	}

	return cloud.StatusSucceeded, nil
}
