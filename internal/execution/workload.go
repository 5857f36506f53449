package execution

// mergeWorkload deep-merges override onto base: nested maps merge key by
// key, any other value (including slices) is replaced wholesale by the
// override's value. Neither argument is mutated.
func mergeWorkload(base, override map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		if baseMap, ok := out[k].(map[string]interface{}); ok {
			if overrideMap, ok := v.(map[string]interface{}); ok {
				out[k] = mergeWorkload(baseMap, overrideMap)
				continue
			}
		}
		out[k] = v
	}
	return out
}
