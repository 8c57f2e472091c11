package engine

import (
	"path"

	"go.uber.org/zap"

	"github.com/turbolytics/georep/internal/cdc"
	"github.com/turbolytics/georep/internal/config"
)

// SetFilter appends a filter to the evaluation set. Filters evaluate in
// insertion order.
func (e *Engine) SetFilter(f config.Filter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.filters = append(e.filters, f)
	e.logger.Info("replication filter set",
		zap.String("filter_id", f.ID),
		zap.String("type", f.Type),
		zap.String("pattern", f.Pattern))
}

// Filters returns the filter set in evaluation order.
func (e *Engine) Filters() []config.Filter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]config.Filter(nil), e.filters...)
}

// RemoveFilter deletes a filter by id and reports whether it existed.
func (e *Engine) RemoveFilter(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, f := range e.filters {
		if f.ID == id {
			e.filters = append(e.filters[:i], e.filters[i+1:]...)
			return true
		}
	}
	return false
}

// ShouldReplicate evaluates the enabled filters against the event. A
// matching exclude filter suppresses replication immediately. When any
// include filters exist the event must match at least one. No filters
// means replicate by default.
func (e *Engine) ShouldReplicate(ev cdc.Event) bool {
	e.mu.Lock()
	filters := append([]config.Filter(nil), e.filters...)
	e.mu.Unlock()

	hasInclude := false
	matchedInclude := false

	for _, f := range filters {
		if !f.Enabled {
			continue
		}

		value := ev.Table
		if f.Target == config.FilterTargetSchema {
			value = ev.Schema
		}

		matched := globMatch(f.Pattern, value)

		switch f.Type {
		case config.FilterExclude:
			if matched {
				return false
			}
		case config.FilterInclude:
			hasInclude = true
			if matched {
				matchedInclude = true
			}
		}
	}

	if hasInclude {
		return matchedInclude
	}
	return true
}

// globMatch treats an empty pattern as match-all so a filter missing its
// pattern reads as unrestricted instead of silently matching nothing.
func globMatch(pattern, value string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	ok, err := path.Match(pattern, value)
	if err != nil {
		return false
	}
	return ok
}
