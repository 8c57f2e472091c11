package config

// Pair is one directed replication flow between two regions.
type Pair struct {
	Source string
	Target string
}

// Pairs returns the directed region pairs the topology implies, over
// enabled regions in config order. Multi-master yields every ordered pair
// of distinct regions (N regions, N*(N-1) pairs); master-slave yields one
// pair from the primary to each secondary (N-1 pairs).
func (r *Replication) Pairs() []Pair {
	regions := r.EnabledRegions()

	var pairs []Pair
	switch r.Mode {
	case ModeMasterSlave:
		// the primary must itself be enabled to source streams
		var primary *Region
		for i := range regions {
			if regions[i].IsPrimary {
				primary = &regions[i]
				break
			}
		}
		if primary == nil {
			return nil
		}
		for _, target := range regions {
			if target.ID == primary.ID {
				continue
			}
			pairs = append(pairs, Pair{Source: primary.ID, Target: target.ID})
		}
	default: // multi-master
		for _, source := range regions {
			for _, target := range regions {
				if source.ID == target.ID {
					continue
				}
				pairs = append(pairs, Pair{Source: source.ID, Target: target.ID})
			}
		}
	}
	return pairs
}
