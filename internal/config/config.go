// Package config holds the replication configuration contract handed to
// the engine by the control plane. A config is validated once on
// Configure and never mutated afterwards; reconfiguration replaces it
// wholesale.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Mode selects the replication topology.
type Mode string

const (
	ModeMultiMaster Mode = "multi-master"
	ModeMasterSlave Mode = "master-slave"
)

// Strategy selects the global conflict-resolution strategy.
type Strategy string

const (
	StrategyLastWriteWins Strategy = "last-write-wins"
	StrategyMerge         Strategy = "merge"
	StrategyCustom        Strategy = "custom"
)

// Filter types and targets.
const (
	FilterInclude = "include"
	FilterExclude = "exclude"

	FilterTargetTable  = "table"
	FilterTargetSchema = "schema"
)

// Region describes one participating region. Credentials are opaque;
// the core never interprets them.
type Region struct {
	ID        string `yaml:"id" json:"id"`
	Name      string `yaml:"name" json:"name"`
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	IsPrimary bool   `yaml:"is_primary" json:"is_primary"`
	Priority  int    `yaml:"priority" json:"priority"`
	// Enabled is tri-state so an omitted flag reads as enabled rather
	// than the zero value silently dropping the region from the
	// topology. ApplyDefaults pins it.
	Enabled     *bool  `yaml:"enabled" json:"enabled"`
	Credentials string `yaml:"credentials,omitempty" json:"-"`
}

// IsEnabled reports whether the region participates in replication.
// Regions are enabled unless explicitly disabled.
func (r *Region) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// Encryption configures the payload envelope crypto.
type Encryption struct {
	Enabled                 bool   `yaml:"enabled" json:"enabled"`
	Algorithm               string `yaml:"algorithm" json:"algorithm"`
	Secret                  string `yaml:"secret,omitempty" json:"-"`
	KeyDerivationIterations int    `yaml:"key_derivation_iterations" json:"key_derivation_iterations"`
	RotationIntervalMs      int64  `yaml:"rotation_interval_ms" json:"rotation_interval_ms"`
}

// Filter suppresses or selects events by table or schema glob pattern.
type Filter struct {
	ID      string `yaml:"id" json:"id"`
	Name    string `yaml:"name" json:"name"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Type    string `yaml:"type" json:"type"`     // include | exclude
	Target  string `yaml:"target" json:"target"` // table | schema
	Pattern string `yaml:"pattern" json:"pattern"`
}

// CDC configures the external change-data-capture source.
type CDC struct {
	Connector      string `yaml:"connector" json:"connector"`
	Mode           string `yaml:"mode" json:"mode"` // log | polling
	PollIntervalMs int64  `yaml:"poll_interval_ms" json:"poll_interval_ms"`
}

// Alerting configures replication-lag alerts.
type Alerting struct {
	Enabled        bool  `yaml:"enabled" json:"enabled"`
	LagThresholdMs int64 `yaml:"lag_threshold_ms" json:"lag_threshold_ms"`
	CooldownMs     int64 `yaml:"cooldown_ms" json:"cooldown_ms"`
}

// Retry bounds per-stream failure handling before the stream transitions
// to the error state.
type Retry struct {
	MaxAttempts int   `yaml:"max_attempts" json:"max_attempts"`
	BackoffMs   int64 `yaml:"backoff_ms" json:"backoff_ms"`
}

// Replication is the full configuration for one engine instance.
type Replication struct {
	ID                string     `yaml:"id" json:"id"`
	Name              string     `yaml:"name" json:"name"`
	Mode              Mode       `yaml:"mode" json:"mode"`
	ConflictStrategy  Strategy   `yaml:"conflict_strategy" json:"conflict_strategy"`
	ConsistencyLevel  string     `yaml:"consistency_level" json:"consistency_level"`
	LagToleranceMs    int64      `yaml:"lag_tolerance_ms" json:"lag_tolerance_ms"`
	Regions           []Region   `yaml:"regions" json:"regions"`
	Encryption        Encryption `yaml:"encryption" json:"encryption"`
	Filters           []Filter   `yaml:"filters" json:"filters"`
	CDC               CDC        `yaml:"cdc" json:"cdc"`
	Alerting          Alerting   `yaml:"alerting" json:"alerting"`
	ChecksumAlgorithm string     `yaml:"checksum_algorithm" json:"checksum_algorithm"`
	BatchSize         int        `yaml:"batch_size" json:"batch_size"`
	Retry             Retry      `yaml:"retry" json:"retry"`
}

// Primary returns the primary region, or nil when none is flagged.
func (r *Replication) Primary() *Region {
	for i := range r.Regions {
		if r.Regions[i].IsPrimary {
			return &r.Regions[i]
		}
	}
	return nil
}

// Region returns the region with the given id, or nil.
func (r *Replication) Region(id string) *Region {
	for i := range r.Regions {
		if r.Regions[i].ID == id {
			return &r.Regions[i]
		}
	}
	return nil
}

// EnabledRegions returns the regions participating in replication.
func (r *Replication) EnabledRegions() []Region {
	out := make([]Region, 0, len(r.Regions))
	for _, region := range r.Regions {
		if region.IsEnabled() {
			out = append(out, region)
		}
	}
	return out
}

// ApplyDefaults fills unset optional fields. Called before Validate.
func (r *Replication) ApplyDefaults() {
	if r.Mode == "" {
		r.Mode = ModeMultiMaster
	}
	if r.ConflictStrategy == "" {
		r.ConflictStrategy = StrategyLastWriteWins
	}
	if r.ConsistencyLevel == "" {
		r.ConsistencyLevel = "eventual"
	}
	if r.ChecksumAlgorithm == "" {
		r.ChecksumAlgorithm = "sha256"
	}
	if r.BatchSize == 0 {
		r.BatchSize = 100
	}
	if r.Retry.MaxAttempts == 0 {
		r.Retry.MaxAttempts = 3
	}
	if r.Encryption.Algorithm == "" {
		r.Encryption.Algorithm = "aes-256-gcm"
	}
	for i := range r.Regions {
		if r.Regions[i].Enabled == nil {
			enabled := true
			r.Regions[i].Enabled = &enabled
		}
	}
}

// NewReplicationFromFile loads a replication config from a YAML file.
// Defaults are applied; the caller validates.
func NewReplicationFromFile(fpath string) (*Replication, error) {
	bs, err := os.ReadFile(fpath)
	if err != nil {
		return nil, err
	}

	var replication Replication
	if err := yaml.Unmarshal(bs, &replication); err != nil {
		return nil, err
	}

	replication.ApplyDefaults()
	return &replication, nil
}
