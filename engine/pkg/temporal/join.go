package temporal

import (
	"fmt"
	"sort"

	"github.com/malbeclabs/wapor/engine/pkg/backend"
	"github.com/malbeclabs/wapor/engine/pkg/werr"
)

// Input is one side of a join. Label names the component and prefixes its
// bands in the output, so band b1 of label "E" becomes "Eband".
type Input struct {
	Label  string
	Images []backend.Image
}

// BandName is the joined name of a generic band for label.
func BandName(label string) string {
	return label + "band"
}

// InnerJoinByTimestamp pairs the records of left and right with equal
// timestamps. Output is sorted ascending by timestamp. Records without a
// partner are dropped; a timestamp present more than once on either side is
// an AmbiguousJoinError.
func InnerJoinByTimestamp(left, right Input) ([]backend.Image, error) {
	if left.Label == "" || right.Label == "" {
		return nil, werr.MissingField("label")
	}
	if left.Label == right.Label {
		return nil, werr.InvalidField("label", "both join inputs are labelled %q", left.Label)
	}

	leftByTS, err := index(left, "left")
	if err != nil {
		return nil, err
	}
	rightByTS, err := index(right, "right")
	if err != nil {
		return nil, err
	}

	var out []backend.Image
	for ts, l := range leftByTS {
		r, ok := rightByTS[ts]
		if !ok {
			continue
		}
		joined, err := Merge(Input{Label: left.Label, Images: []backend.Image{l}}, Input{Label: right.Label, Images: []backend.Image{r}})
		if err != nil {
			return nil, err
		}
		out = append(out, joined)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// Merge unions the bands of single-record inputs whose pairing is already
// known. The first input supplies timestamp, grid and winning properties.
func Merge(inputs ...Input) (backend.Image, error) {
	if len(inputs) == 0 {
		return backend.Image{}, werr.MissingField("inputs")
	}

	seen := make(map[string]int)
	for _, in := range inputs {
		if len(in.Images) != 1 {
			return backend.Image{}, werr.InvalidField("inputs", "input %s has %d records, merge needs exactly 1", in.Label, len(in.Images))
		}
		for _, b := range in.Images[0].Bands {
			seen[b.Name]++
		}
	}

	first := inputs[0].Images[0]
	out := backend.Image{
		Timestamp:  first.Timestamp,
		Grid:       first.Grid,
		Properties: make(map[string]any),
	}
	for i := len(inputs) - 1; i >= 0; i-- {
		for k, v := range inputs[i].Images[0].Properties {
			out.Properties[k] = v
		}
	}

	for i, in := range inputs {
		rec := in.Images[0]
		if i == 0 {
			out.ID = rec.ID
		} else {
			out.ID += "+" + rec.ID
		}
		mapping := make(map[string]string, len(rec.Bands))
		for _, b := range rec.Bands {
			mapping[b.Name] = renamed(in.Label, b.Name, seen[b.Name] > 1)
		}
		out.Bands = append(out.Bands, rec.WithBandsRenamed(mapping).Bands...)
	}

	names := make(map[string]bool, len(out.Bands))
	for _, b := range out.Bands {
		if names[b.Name] {
			return backend.Image{}, fmt.Errorf("failed to merge %s: duplicate band %q after rename", out.ID, b.Name)
		}
		names[b.Name] = true
	}
	return out, nil
}

func renamed(label, name string, collides bool) string {
	switch {
	case name == backend.DefaultBand:
		return BandName(label)
	case collides:
		return label + "_" + name
	default:
		return name
	}
}

func index(in Input, side string) (map[int64]backend.Image, error) {
	byTS := make(map[int64]backend.Image, len(in.Images))
	counts := make(map[int64]int, len(in.Images))
	for _, img := range in.Images {
		counts[img.Timestamp]++
		byTS[img.Timestamp] = img
	}
	for _, img := range in.Images {
		if n := counts[img.Timestamp]; n > 1 {
			return nil, &werr.AmbiguousJoinError{Timestamp: img.Timestamp, Side: side + " (" + in.Label + ")", Count: n}
		}
	}
	return byTS, nil
}
