package achievement

// Qualifying returns the active definitions that are not yet unlocked and
// whose criterion is satisfied by stats, in catalog order.
func Qualifying(reg *Registry, defs []Definition, unlocked map[string]struct{}, stats StatsSnapshot) []Definition {
	var out []Definition
	for _, def := range defs {
		if !def.IsActive {
			continue
		}
		if _, done := unlocked[def.ID]; done {
			continue
		}
		if !reg.Satisfied(def.Criterion, stats) {
			continue
		}
		out = append(out, def)
	}
	return out
}

// Active filters the active definitions.
func Active(defs []Definition) []Definition {
	out := make([]Definition, 0, len(defs))
	for _, def := range defs {
		if def.IsActive {
			out = append(out, def)
		}
	}
	return out
}

// Index maps definitions by ID.
func Index(defs []Definition) map[string]Definition {
	idx := make(map[string]Definition, len(defs))
	for _, def := range defs {
		idx[def.ID] = def
	}
	return idx
}
