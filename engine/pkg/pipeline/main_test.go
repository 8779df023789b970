package pipeline_test

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/wapor/engine/pkg/backend"
	"github.com/malbeclabs/wapor/engine/pkg/naming"
	"github.com/malbeclabs/wapor/engine/pkg/pipeline"
	waportesting "github.com/malbeclabs/wapor/utils/pkg/testing"
)

const (
	testWorkspace = "projects/wapor/assets"
	testLevel     = "L1"
	testYear      = 2016
)

func newResolver(t *testing.T) *naming.CompositeResolver {
	t.Helper()
	r, err := naming.NewCompositeResolver(testWorkspace, testLevel)
	require.NoError(t, err)
	return r
}

func newPipeline(t *testing.T, b backend.GeospatialBackend, opts pipeline.ExportOptions) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.New(pipeline.Config{
		Logger:  waportesting.NewLogger(),
		Backend: b,
		Clock:   clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		Export:  opts,
	})
	require.NoError(t, err)
	return p
}

// dekads builds n dekadal records of year starting at dekad 1, each holding
// values in its primary band.
func dekads(t *testing.T, prefix string, year, n int, values ...float64) []backend.Image {
	t.Helper()
	out := make([]backend.Image, 0, n)
	for d := 1; d <= n; d++ {
		start, err := naming.DekadStart(year, d)
		require.NoError(t, err)
		days, err := naming.DekadDays(year, d)
		require.NoError(t, err)
		out = append(out, backend.Image{
			ID:        naming.DekadImageID(prefix, d),
			Timestamp: start.UnixMilli(),
			Bands: []backend.Band{{
				Name: backend.DefaultBand,
				Data: append([]float64(nil), values...),
			}},
			Properties: map[string]any{"n_days_extent": float64(days), "unit": "mm/day"},
			Grid:       &backend.Grid{CRS: "EPSG:4326", Transform: []float64{0.002, 0, -30, 0, -0.002, 40}, Width: len(values), Height: 1},
		})
	}
	return out
}

func collectionPath(component, code string) string {
	return naming.JoinPath(testWorkspace, testLevel, testLevel+"_"+component+"_"+code)
}
