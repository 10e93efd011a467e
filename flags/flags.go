// Package flags provides the feature-flag surface used to gate
// background work.
//
// Flags are evaluated at the moment work would start, never cached by
// the engine, so disabling a flag pauses its job family without
// unregistering anything.
package flags

import "context"

// A Provider reports whether named feature flags are enabled.
type Provider interface {
	// IsEnabled returns true if the flag with the given name is enabled.
	IsEnabled(ctx context.Context, name string) (bool, error)
}

// Static is a fixed flag set.
//
// Flags absent from the map are disabled.
type Static map[string]bool

// IsEnabled returns true if the flag with the given name is enabled.
func (s Static) IsEnabled(_ context.Context, name string) (bool, error) {
	return s[name], nil
}

// Enabled is a provider that enables every flag. It is the default for
// components that are not given a provider.
var Enabled Provider = enabled{}

type enabled struct{}

func (enabled) IsEnabled(context.Context, string) (bool, error) {
	return true, nil
}
