package pipeline

import (
	"maps"
	"sort"
	"strconv"
)

// Output describes a computed product, exported or not.
type Output struct {
	Name     string   `json:"name"`
	Images   []string `json:"images,omitempty"`
	AssetIDs []string `json:"asset_ids,omitempty"`
}

// Result is the document every run produces. Empty Tasks with non-empty
// Errors means nothing was exported.
type Result struct {
	// Tasks maps destination asset ids to export task ids.
	Tasks   map[string]string `json:"tasks"`
	Outputs []Output          `json:"outputs"`
	Errors  map[string]string `json:"errors"`
}

func newResult() *Result {
	return &Result{
		Tasks:   make(map[string]string),
		Outputs: []Output{},
		Errors:  make(map[string]string),
	}
}

// fail replaces any submitted tasks with the errors of a failed validation.
func (r *Result) fail(errs map[string]string) *Result {
	r.Tasks = make(map[string]string)
	maps.Copy(r.Errors, errs)
	return r
}

// sortedKeys orders report keys numerically.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, _ := strconv.Atoi(keys[i])
		b, _ := strconv.Atoi(keys[j])
		return a < b
	})
	return keys
}
