package naming

import (
	"strings"

	"github.com/malbeclabs/wapor/engine/pkg/werr"
)

// Resolution is the temporal resolution of a dataset.
type Resolution int

const (
	ResolutionUnset Resolution = iota
	Dekadal
	Annual
	Everyday
	Seasonal
)

var resolutionCodes = map[Resolution]string{
	Dekadal:  "D",
	Annual:   "A",
	Everyday: "E",
	Seasonal: "S",
}

var resolutionNames = map[Resolution]string{
	Dekadal:  "DEKADAL",
	Annual:   "ANNUAL",
	Everyday: "EVERYDAY",
	Seasonal: "SEASONAL",
}

// Code returns the one-letter token used in identifiers, or "" when unset.
func (r Resolution) Code() string {
	return resolutionCodes[r]
}

func (r Resolution) String() string {
	if name, ok := resolutionNames[r]; ok {
		return name
	}
	return "UNSET"
}

func (r Resolution) Valid() bool {
	_, ok := resolutionCodes[r]
	return ok
}

func (r Resolution) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Resolution) UnmarshalText(b []byte) error {
	parsed, err := ParseResolution(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseResolution accepts the one-letter code or the long name, case
// insensitive ("D", "dekadal", "A", "ANNUAL", ...).
func ParseResolution(s string) (Resolution, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	if v == "" {
		return ResolutionUnset, werr.MissingField("temporal_resolution")
	}
	for r, code := range resolutionCodes {
		if v == code || v == resolutionNames[r] {
			return r, nil
		}
	}
	return ResolutionUnset, werr.InvalidField("temporal_resolution", "unknown resolution %q", s)
}

func resolutionFromCode(code string) (Resolution, bool) {
	for r, c := range resolutionCodes {
		if c == code {
			return r, true
		}
	}
	return ResolutionUnset, false
}
