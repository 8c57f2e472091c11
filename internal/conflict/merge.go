package conflict

// DeepMerge combines two row payloads. Keys unique to either side
// survive. Where a key exists in both and both values are objects, the
// values merge recursively; otherwise the source value wins, arrays
// included (arrays are replaced wholesale, never merged element-wise).
// Neither input is modified.
func DeepMerge(target, source map[string]any) map[string]any {
	out := make(map[string]any, len(target)+len(source))
	for k, v := range target {
		out[k] = v
	}
	for k, sv := range source {
		tv, exists := out[k]
		if exists {
			tm, tIsMap := tv.(map[string]any)
			sm, sIsMap := sv.(map[string]any)
			if tIsMap && sIsMap {
				out[k] = DeepMerge(tm, sm)
				continue
			}
		}
		out[k] = sv
	}
	return out
}
