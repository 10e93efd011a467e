package azure

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork"
	"github.com/perdure/perdure/cloud"
)

// InterfaceClient implements cloud.InterfaceClient against ARM network
// interfaces.
type InterfaceClient struct {
	interfaces *armnetwork.InterfacesClient
}

// NewInterfaceClient returns a network-interface client for the given
// configuration.
func NewInterfaceClient(cfg Config) (*InterfaceClient, error) {
	cred, err := cfg.credential()
	if err != nil {
		return nil, err
	}

	interfaces, err := armnetwork.NewInterfacesClient(cfg.SubscriptionID, cred, cfg.Options)
	if err != nil {
		return nil, err
	}

	return &InterfaceClient{interfaces: interfaces}, nil
}

// BeginCreate issues a create request for the interface and returns the
// operation's resume token.
func (c *InterfaceClient) BeginCreate(
	ctx context.Context,
	res cloud.ResourceInfo,
	spec cloud.ProvisionSpec,
) (string, error) {
	poller, err := c.interfaces.BeginCreateOrUpdate(
		ctx,
		res.ResourceGroup,
		res.Name,
		armnetwork.Interface{
			Location: to.Ptr(spec.Location),
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
func (c *InterfaceClient) CheckCreate(
	ctx context.Context,
	res cloud.ResourceInfo,
	handle string,
) (cloud.OperationStatus, error) {
	if handle == "" {
		return cloud.StatusSucceeded, nil
	}

	poller, err := c.interfaces.BeginCreateOrUpdate(
		ctx,
		res.ResourceGroup,
		res.Name,
		armnetwork.Interface{},
		&armnetwork.InterfacesClientBeginCreateOrUpdateOptions{
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

// BeginDelete issues a delete request for the interface and returns the
// operation's resume token.
//
// An empty handle means the provider completed the delete immediately.
func (c *InterfaceClient) BeginDelete(ctx context.Context, res cloud.ResourceInfo) (string, error) {
	poller, err := c.interfaces.BeginDelete(ctx, res.ResourceGroup, res.Name, nil)
	if err != nil {
		return "", mapError(err)
	}

	if poller.Done() {
		return "", nil
	}

	return poller.ResumeToken()
}

// CheckDelete polls a delete request previously issued by BeginDelete.
func (c *InterfaceClient) CheckDelete(
	ctx context.Context,
	res cloud.ResourceInfo,
	handle string,
) (cloud.OperationStatus, error) {
	if handle == "" {
		return cloud.StatusSucceeded, nil
	}

	poller, err := c.interfaces.BeginDelete(
		ctx,
		res.ResourceGroup,
		res.Name,
		&armnetwork.InterfacesClientBeginDeleteOptions{
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
