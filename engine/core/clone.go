package core

import "github.com/mohae/deepcopy"

// CloneMap returns a deep copy of a metadata map.
func CloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	copied, ok := deepcopy.Copy(src).(map[string]any)
	if !ok {
		return nil
	}
	return copied
}

// CopyMaps merges maps left to right into a new map.
func CopyMaps(maps ...map[string]any) map[string]any {
	out := make(map[string]any)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
