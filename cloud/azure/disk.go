package azure

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v2"
	"github.com/perdure/perdure/cloud"
)

// DiskClient implements cloud.DiskClient against ARM managed disks.
type DiskClient struct {
	disks *armcompute.DisksClient
}

// NewDiskClient returns a disk client for the given configuration.
func NewDiskClient(cfg Config) (*DiskClient, error) {
	cred, err := cfg.credential()
	if err != nil {
		return nil, err
	}

	disks, err := armcompute.NewDisksClient(cfg.SubscriptionID, cred, cfg.Options)
	if err != nil {
		return nil, err
	}

	return &DiskClient{disks: disks}, nil
}

// IsAttached returns true if the disk is still attached to a virtual
// machine.
func (c *DiskClient) IsAttached(ctx context.Context, res cloud.ResourceInfo) (bool, error) {
	resp, err := c.disks.Get(ctx, res.ResourceGroup, res.Name, nil)
	if err != nil {
		return false, mapError(err)
	}

	return resp.ManagedBy != nil && *resp.ManagedBy != "", nil
}

// BeginDelete issues a delete request for the disk and returns the
// operation's resume token.
//
// An empty handle means the provider completed the delete immediately.
func (c *DiskClient) BeginDelete(ctx context.Context, res cloud.ResourceInfo) (string, error) {
	poller, err := c.disks.BeginDelete(ctx, res.ResourceGroup, res.Name, nil)
	if err != nil {
		return "", mapError(err)
	}

	if poller.Done() {
		return "", nil
	}

	return poller.ResumeToken()
}

// CheckDelete polls a delete request previously issued by BeginDelete.
func (c *DiskClient) CheckDelete(
	ctx context.Context,
	res cloud.ResourceInfo,
	handle string,
) (cloud.OperationStatus, error) {
	if handle == "" {
		return cloud.StatusSucceeded, nil
	}

	poller, err := c.disks.BeginDelete(
		ctx,
		res.ResourceGroup,
		res.Name,
		&armcompute.DisksClientBeginDeleteOptions{
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
