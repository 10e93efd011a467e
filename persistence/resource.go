package persistence

import "time"

// ResourceType discriminates the kinds of pooled resources.
type ResourceType string

// The supported resource types.
const (
	ResourceTypeCompute ResourceType = "compute"
	ResourceTypeStorage ResourceType = "storage"
	ResourceTypeNetwork ResourceType = "network"
)

// A ResourceRecord describes one pre-provisioned resource in the pool.
//
// A record is created unassigned when a background continuation finishes
// provisioning, and is assigned to a caller at most once via a
// conditional update. It is never flipped back to unassigned in place;
// deallocation starts a deletion continuation instead.
type ResourceRecord struct {
	// ID is the resource's identity.
	ID string

	// SkuName is the SKU the resource was provisioned as.
	SkuName string

	// Type is the kind of resource.
	Type ResourceType

	// Location is the region the resource lives in.
	Location string

	// IsAssigned is true once the resource has been handed to a caller.
	IsAssigned bool

	// Created is the time the record was created.
	Created time.Time

	// Revision is the record's optimistic-concurrency revision. It is 0
	// for a record that has never been persisted.
	Revision uint64
}
