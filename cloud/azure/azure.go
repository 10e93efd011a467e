// Package azure adapts the Azure Resource Manager SDK to the engine's
// Begin/Check client interfaces.
//
// The resumable tracking handle carried in step payloads is the ARM
// long-running-operation resume token: Begin methods issue the request
// and capture the poller's resume token, and Check methods rehydrate
// the poller from that token and poll it once. The poll can therefore
// happen on any worker, long after the worker that issued the request
// has gone.
package azure

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/perdure/perdure/cloud"
	"github.com/perdure/perdure/handler"
)

// Config is the configuration shared by the Azure clients.
type Config struct {
	// SubscriptionID is the subscription the clients operate in.
	SubscriptionID string

	// Credential authenticates requests. If it is nil, the default
	// Azure credential chain is used.
	Credential azcore.TokenCredential

	// Options is the ARM client configuration. It may be nil.
	Options *arm.ClientOptions
}

// credential returns the configured credential, falling back to the
// default credential chain.
func (c Config) credential() (azcore.TokenCredential, error) {
	if c.Credential != nil {
		return c.Credential, nil
	}

	return azidentity.NewDefaultAzureCredential(nil)
}

// mapError translates ARM response errors into the engine's error
// vocabulary.
//
// 404 becomes cloud.ErrNotFound so that deletion machines can treat
// "already gone" as success. Throttling and server errors become
// transient so the activator retries them with backoff. Anything else
// passes through unchanged and fails the operation.
func mapError(err error) error {
	var re *azcore.ResponseError
	if !errors.As(err, &re) {
		return err
	}

	switch re.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", re.ErrorCode, cloud.ErrNotFound)

	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return handler.Transient(err)
	}

	return err
}
