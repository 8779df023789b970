package backend

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/malbeclabs/wapor/engine/pkg/werr"
)

// DataType is the storage type of an exported raster.
type DataType string

const (
	Int32   DataType = "int32"
	Float32 DataType = "float32"
)

// NoDataValue is the reserved pixel value marking invalid data in exports.
const NoDataValue = -9999

// DefaultMaxPixels caps exports that carry no grid of their own.
const DefaultMaxPixels = 9_000_000_000

// DefaultRegion is the continental extent used when an image has no grid.
var DefaultRegion = orb.Polygon{orb.Ring{
	{-30, -40}, {65, -30}, {65, 40}, {-30, 40}, {-30, -40},
}}

// ExportRequest asks the backend to materialise an image as an asset.
type ExportRequest struct {
	Image       Image
	AssetID     string
	Description string

	CRS          string
	CRSTransform []float64
	Width        int
	Height       int
	Region       orb.Polygon
	MaxPixels    int64

	DataType DataType
	// Scale multiplies values before the cast: stored = round(value * Scale).
	Scale  float64
	NoData float64

	PyramidingPolicy map[string]string
	Properties       map[string]any
}

func (r *ExportRequest) Validate() error {
	if r.AssetID == "" {
		return werr.MissingField("asset_id")
	}
	if len(r.Image.Bands) == 0 {
		return werr.InvalidField("image", "image %q has no bands to export", r.Image.ID)
	}
	if r.CRS == "" {
		return werr.MissingField("crs")
	}
	if r.MaxPixels <= 0 {
		return werr.InvalidField("max_pixels", "must be positive, got %d", r.MaxPixels)
	}
	if r.Scale == 0 {
		r.Scale = 1
	}
	if r.DataType == "" {
		r.DataType = Int32
	}
	return nil
}

// EncodeInt32 renders band values the way an int32 export stores them:
// scaled and rounded. Masked pixels and values outside the int32 range
// become nodata.
func EncodeInt32(data []float64, scale float64, nodata int32) []int32 {
	out := make([]int32, len(data))
	for i, v := range data {
		r := math.Round(v * scale)
		if math.IsNaN(r) || r < math.MinInt32 || r > math.MaxInt32 {
			out[i] = nodata
			continue
		}
		out[i] = int32(r)
	}
	return out
}
