// Package temporal validates and joins timestamped image records coming from
// independently produced component collections.
package temporal

import (
	"strconv"

	"github.com/malbeclabs/wapor/engine/pkg/werr"
)

// NamedCount is the observed size of a named collection.
type NamedCount struct {
	Name  string
	Count int
}

// Report is the outcome of a cardinality check. Errors is keyed by 1-based
// position in report order.
type Report struct {
	Counts map[string]int    `json:"counts"`
	Errors map[string]string `json:"errors"`
}

func (r Report) OK() bool {
	return len(r.Errors) == 0
}

// ValidateCardinality compares each count against expected. Counts are
// examined in the given order and error keys restart at "1" on every call.
func ValidateCardinality(counts []NamedCount, expected int) Report {
	report := Report{
		Counts: make(map[string]int, len(counts)),
		Errors: make(map[string]string),
	}
	for _, c := range counts {
		report.Counts[c.Name] = c.Count
		if c.Count == expected {
			continue
		}
		err := &werr.CardinalityError{Name: c.Name, Size: c.Count, Expected: expected}
		report.Errors[strconv.Itoa(len(report.Errors)+1)] = err.Error()
	}
	return report
}
