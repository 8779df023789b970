// Package naming derives the canonical WaPOR dataset identifiers and asset
// paths. Downstream systems key off these names, so every builder here is
// deterministic and validates its inputs before producing a string.
package naming

import (
	"fmt"
	"path"
	"strings"
	"unicode"

	"github.com/malbeclabs/wapor/engine/pkg/werr"
)

const idSeparator = "_"

// Identifier names a dataset collection: level, component and temporal
// resolution, plus the year an image of it belongs to.
type Identifier struct {
	Level      string
	Component  string
	Resolution Resolution
	Year       int
}

// String renders level_component_code, e.g. L1_AETI_D.
func (id Identifier) String() string {
	return id.Level + idSeparator + id.Component + idSeparator + id.Resolution.Code()
}

// Validate checks the fields that make up the collection id. Year is not
// required here; image ids validate it separately.
func (id Identifier) Validate() error {
	if err := validateToken("level", id.Level); err != nil {
		return err
	}
	if err := validateToken("component", id.Component); err != nil {
		return err
	}
	if id.Resolution == ResolutionUnset {
		return werr.MissingField("temporal_resolution")
	}
	if !id.Resolution.Valid() {
		return werr.InvalidField("temporal_resolution", "unknown resolution %d", int(id.Resolution))
	}
	return nil
}

// SourceCollectionID names the collection a product is computed from. Annual
// products are sums of dekads, so an ANNUAL target reads the dekadal
// collection.
func SourceCollectionID(level, component string, target Resolution) (string, error) {
	src := target
	if target == Annual {
		src = Dekadal
	}
	id := Identifier{Level: level, Component: component, Resolution: src}
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id.String(), nil
}

// DestinationCollectionID names the collection a product is written to, at
// the requested resolution verbatim.
func DestinationCollectionID(level, component string, res Resolution) (string, error) {
	id := Identifier{Level: level, Component: component, Resolution: res}
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id.String(), nil
}

// DestinationImageID names a single image: level_component_yy.
func DestinationImageID(level, component string, year int) (string, error) {
	if err := validateToken("level", level); err != nil {
		return "", err
	}
	if err := validateToken("component", component); err != nil {
		return "", err
	}
	if err := validateYear(year); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%s%s%s%02d", level, idSeparator, component, idSeparator, year%100), nil
}

// JoinPath joins non-empty path elements with exactly one "/" between them.
func JoinPath(elems ...string) string {
	parts := make([]string, 0, len(elems))
	for _, e := range elems {
		e = strings.Trim(e, "/")
		if e != "" {
			parts = append(parts, e)
		}
	}
	return path.Join(parts...)
}

func validateToken(field, v string) error {
	if v == "" {
		return werr.MissingField(field)
	}
	for _, r := range v {
		if unicode.IsSpace(r) {
			return werr.InvalidField(field, "%q contains whitespace", v)
		}
		if r == '/' || r == '_' {
			return werr.InvalidField(field, "%q contains reserved character %q", v, r)
		}
	}
	return nil
}

func validateYear(year int) error {
	if year == 0 {
		return werr.MissingField("year")
	}
	if year < 1000 || year > 9999 {
		return werr.InvalidField("year", "%d is not a four digit year", year)
	}
	return nil
}
