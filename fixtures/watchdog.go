package fixtures

import "context"

// RepairerStub is a test implementation of the watchdog.Repairer
// interface.
type RepairerStub struct {
	RepairFunc func(ctx context.Context, environmentID, resourceID string) error
}

// Repair force-suspends or marks the resource unavailable.
func (r *RepairerStub) Repair(ctx context.Context, environmentID, resourceID string) error {
	if r.RepairFunc != nil {
		return r.RepairFunc(ctx, environmentID, resourceID)
	}

	return nil
}
