// Package region defines the adapter boundary between the replication
// core and the per-region storage owned by external collaborators. The
// core only orchestrates; reads and writes of replicated rows go through
// an Adapter.
package region

import (
	"context"
	"time"

	"github.com/turbolytics/georep/internal/vclock"
)

// DataVersion is what a region currently believes a row looks like.
// Created on write, superseded by the next write, never mutated in place.
type DataVersion struct {
	RegionID    string         `json:"region_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Data        map[string]any `json:"data"`
	Checksum    string         `json:"checksum"`
	VectorClock vclock.Clock   `json:"vector_clock"`
}

// Adapter is the capability set a region collaborator supplies. Calls are
// I/O boundaries; adapters own their own timeout and retry policy.
type Adapter interface {
	// LocalVersion returns the region's current version of a row, or
	// (nil, nil) when the row does not exist there yet.
	LocalVersion(ctx context.Context, regionID, table, primaryKey string) (*DataVersion, error)

	// Apply writes a row payload into the region.
	Apply(ctx context.Context, regionID, table, primaryKey string, data map[string]any) error

	// Checksum computes a content checksum in whatever algorithm the
	// region's storage uses.
	Checksum(data any) (string, error)

	// Tables lists the tables known to the region, for bulk sync and
	// integrity verification.
	Tables(ctx context.Context, regionID string) ([]string, error)

	// Snapshot returns every row of a table keyed by primary key.
	Snapshot(ctx context.Context, regionID, table string) (map[string]map[string]any, error)
}
