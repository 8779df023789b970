package naming

import (
	"fmt"
	"strings"

	"github.com/malbeclabs/wapor/engine/pkg/werr"
)

// annualMarker prefixes composites computed over a year (AETI is the annual
// form of ETI). It never names a sub-component.
const annualMarker = "A"

// CompositeResolver extends Resolver to multi-component products such as
// ETI = E + T + I.
type CompositeResolver struct {
	*Resolver
}

func NewCompositeResolver(workspace, level string) (*CompositeResolver, error) {
	r, err := NewResolver(workspace, level)
	if err != nil {
		return nil, err
	}
	return &CompositeResolver{Resolver: r}, nil
}

// Decompose strips every annual marker from composite and returns the
// remaining single-letter component codes in declaration order.
func Decompose(composite string) ([]string, error) {
	if composite == "" {
		return nil, werr.MissingField("component")
	}
	stripped := strings.ReplaceAll(composite, annualMarker, "")
	if stripped == "" {
		return nil, werr.InvalidField("component", "%q has no components besides the annual marker", composite)
	}

	seen := make(map[rune]bool, len(stripped))
	letters := make([]string, 0, len(stripped))
	for _, r := range stripped {
		if r < 'A' || r > 'Z' {
			return nil, werr.InvalidField("component", "%q contains %q, want upper-case letters", composite, r)
		}
		if seen[r] {
			return nil, werr.InvalidField("component", "%q repeats component %q", composite, r)
		}
		seen[r] = true
		letters = append(letters, string(r))
	}
	return letters, nil
}

// SourceCollectionIDs returns the dekadal source collection id of every
// sub-component of composite, in declaration order.
func (c *CompositeResolver) SourceCollectionIDs(composite string) ([]string, error) {
	letters, err := Decompose(composite)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(letters))
	for _, l := range letters {
		id, err := c.SourceCollectionID(l, Dekadal)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// SourceCollectionPaths is SourceCollectionIDs mapped to asset paths.
func (c *CompositeResolver) SourceCollectionPaths(composite string) ([]string, error) {
	letters, err := Decompose(composite)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(letters))
	for _, l := range letters {
		p, err := c.SourceCollectionPath(l, Dekadal)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// DestinationImageIDs suffixes base with two-digit dekad numbers. With no
// dekads given it returns all 36 in ascending order. Only dekadal products
// have per-dekad images; other resolutions yield no ids.
func DestinationImageIDs(base string, res Resolution, dekads ...int) ([]string, error) {
	if base == "" {
		return nil, werr.MissingField("image_id")
	}
	if res != Dekadal {
		return nil, nil
	}
	if len(dekads) == 0 {
		dekads = make([]int, DekadsPerYear)
		for i := range dekads {
			dekads[i] = i + 1
		}
	}
	ids := make([]string, 0, len(dekads))
	for _, d := range dekads {
		if err := ValidateDekad(d); err != nil {
			return nil, err
		}
		ids = append(ids, DekadImageID(base, d))
	}
	return ids, nil
}

// DekadImageID appends the zero-padded dekad to base (L1_AETI_16 -> L1_AETI_1601).
// d must already be validated.
func DekadImageID(base string, d int) string {
	return fmt.Sprintf("%s%02d", base, d)
}

// DestinationImageIDs derives the base image id for component and year and
// expands it per dekad.
func (c *CompositeResolver) DestinationImageIDs(component string, res Resolution, year int, dekads ...int) ([]string, error) {
	base, err := c.DestinationImageID(component, year)
	if err != nil {
		return nil, err
	}
	return DestinationImageIDs(base, res, dekads...)
}

// DestinationAssetIDs maps DestinationImageIDs under the destination
// collection path.
func (c *CompositeResolver) DestinationAssetIDs(component string, res Resolution, year int, dekads ...int) ([]string, error) {
	ids, err := c.DestinationImageIDs(component, res, year, dekads...)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	coll, err := c.DestinationCollectionPath(component, res)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = JoinPath(coll, id)
	}
	return out, nil
}
