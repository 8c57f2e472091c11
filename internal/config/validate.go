package config

import "errors"

var (
	ErrMissingID            = errors.New("replication config id is required")
	ErrMissingName          = errors.New("replication config name is required")
	ErrTooFewRegions        = errors.New("at least 2 regions are required")
	ErrTooFewEnabledRegions = errors.New("at least 2 enabled regions are required")
	ErrPrimaryCount         = errors.New("master-slave mode requires exactly one primary region")
	ErrDisabledPrimary      = errors.New("master-slave mode requires the primary region to be enabled")
	ErrNegativeLagTolerance = errors.New("lag tolerance must be >= 0")
	ErrBatchSize            = errors.New("batch size must be between 1 and 10000")
)

// Validate checks the config invariants. Each violation returns its own
// sentinel error; the first violation aborts.
func (r *Replication) Validate() error {
	if r.ID == "" {
		return ErrMissingID
	}
	if r.Name == "" {
		return ErrMissingName
	}
	if len(r.Regions) < 2 {
		return ErrTooFewRegions
	}
	if len(r.EnabledRegions()) < 2 {
		return ErrTooFewEnabledRegions
	}
	if r.Mode == ModeMasterSlave {
		primaries := 0
		for _, region := range r.Regions {
			if region.IsPrimary {
				primaries++
				if !region.IsEnabled() {
					return ErrDisabledPrimary
				}
			}
		}
		if primaries != 1 {
			return ErrPrimaryCount
		}
	}
	if r.LagToleranceMs < 0 {
		return ErrNegativeLagTolerance
	}
	if r.BatchSize < 1 || r.BatchSize > 10000 {
		return ErrBatchSize
	}
	return nil
}
