package backend

import (
	"time"
)

// DefaultBand is the band name every single-band WaPOR product uses.
const DefaultBand = "b1"

// Grid describes the raster layout of an image.
type Grid struct {
	CRS       string    `json:"crs"`
	Transform []float64 `json:"crs_transform,omitempty"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
}

// Pixels returns Width*Height.
func (g Grid) Pixels() int64 {
	return int64(g.Width) * int64(g.Height)
}

// Band is a named band of an image. Source and SourceBand locate the band on
// the backend so renamed bands keep pointing at their origin. Data holds
// pixel values only for in-process backends; NaN marks masked pixels.
type Band struct {
	Name       string    `json:"name"`
	Source     string    `json:"source,omitempty"`
	SourceBand string    `json:"source_band,omitempty"`
	Data       []float64 `json:"data,omitempty"`
}

// Image is a time-stamped record of a collection.
type Image struct {
	ID string `json:"id"`
	// Timestamp is system:time_start in epoch milliseconds.
	Timestamp  int64          `json:"timestamp"`
	Bands      []Band         `json:"bands"`
	Properties map[string]any `json:"properties,omitempty"`
	Grid       *Grid          `json:"grid,omitempty"`
}

func (img Image) Time() time.Time {
	return time.UnixMilli(img.Timestamp).UTC()
}

func (img Image) Band(name string) (Band, bool) {
	for _, b := range img.Bands {
		if b.Name == name {
			return b, true
		}
	}
	return Band{}, false
}

func (img Image) BandNames() []string {
	names := make([]string, len(img.Bands))
	for i, b := range img.Bands {
		names[i] = b.Name
	}
	return names
}

// WithBandsRenamed returns a shallow copy of img with bands renamed per
// mapping. Band data is shared, not copied.
func (img Image) WithBandsRenamed(mapping map[string]string) Image {
	out := img
	out.Bands = make([]Band, len(img.Bands))
	for i, b := range img.Bands {
		if b.Source == "" {
			b.Source = img.ID
		}
		if b.SourceBand == "" {
			b.SourceBand = b.Name
		}
		if to, ok := mapping[b.Name]; ok {
			b.Name = to
		}
		out.Bands[i] = b
	}
	return out
}
