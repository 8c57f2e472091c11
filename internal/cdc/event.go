// Package cdc defines the change-data-capture event contract fed into the
// replication pipeline by external connectors.
package cdc

import "time"

// Operation identifies the kind of row mutation an event carries.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Metadata carries connector-level context about the source of an event.
type Metadata struct {
	TransactionID string    `json:"transaction_id,omitempty"`
	LSN           int64     `json:"lsn,omitempty"`
	CommitTime    time.Time `json:"commit_time,omitempty"`
	Connector     string    `json:"connector,omitempty"`
	SchemaVersion string    `json:"schema_version,omitempty"`
}

// Event is one insert/update/delete captured on a source table. Produced
// once by the connector, consumed exactly once by the pipeline. Before and
// After are the row images; either may be nil depending on the operation.
type Event struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	Type         Operation      `json:"type"`
	SourceRegion string         `json:"source_region"`
	Table        string         `json:"table"`
	Schema       string         `json:"schema"`
	PrimaryKey   string         `json:"primary_key"`
	Before       map[string]any `json:"before,omitempty"`
	After        map[string]any `json:"after,omitempty"`
	Metadata     Metadata       `json:"metadata"`
}

func (e Event) IsZero() bool {
	return e.ID == "" && e.Table == "" && e.Timestamp.IsZero()
}

// Image returns the payload that should land on the target: the after
// image, or the before image for deletes.
func (e Event) Image() map[string]any {
	if e.Type == OpDelete {
		return e.Before
	}
	return e.After
}
