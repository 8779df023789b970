package memory_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/wapor/engine/pkg/backend"
	"github.com/malbeclabs/wapor/engine/pkg/backend/memory"
	"github.com/malbeclabs/wapor/engine/pkg/werr"
)

func img(id string, ts time.Time, values ...float64) backend.Image {
	return backend.Image{
		ID:         id,
		Timestamp:  ts.UnixMilli(),
		Bands:      []backend.Band{{Name: backend.DefaultBand, Data: values}},
		Properties: map[string]any{"n_days_extent": 10.0},
		Grid:       &backend.Grid{CRS: "EPSG:4326", Width: len(values), Height: 1},
	}
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func TestWapor_Backend_Memory_Catalog(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("resolve of unknown collection is not found", func(t *testing.T) {
		t.Parallel()
		b := memory.New()
		_, err := b.ResolveCollection(ctx, "L1_E_D")
		require.ErrorIs(t, err, werr.ErrNotFound)
	})

	t.Run("filter keeps the half-open date range sorted", func(t *testing.T) {
		t.Parallel()
		b := memory.New()
		b.AddCollection("L1_E_D",
			img("c", day(2020, 1, 1), 1),
			img("a", day(2019, 12, 21), 1),
			img("b", day(2020, 12, 21), 1),
			img("d", day(2021, 1, 1), 1),
		)
		c, err := b.ResolveCollection(ctx, "L1_E_D")
		require.NoError(t, err)
		c, err = b.FilterByDateRange(ctx, c, day(2020, 1, 1), day(2021, 1, 1))
		require.NoError(t, err)

		n, err := b.Size(ctx, c)
		require.NoError(t, err)
		require.Equal(t, 2, n)

		images, err := b.Images(ctx, c)
		require.NoError(t, err)
		require.Equal(t, "c", images[0].ID)
		require.Equal(t, "b", images[1].ID)
	})

	t.Run("map then reduce sums scaled values and skips masked pixels", func(t *testing.T) {
		t.Parallel()
		b := memory.New()
		b.AddCollection("L1_AETI_D",
			img("x", day(2020, 1, 1), 10, math.NaN(), math.NaN()),
			img("y", day(2020, 1, 11), 20, 30, math.NaN()),
		)
		c, err := b.ResolveCollection(ctx, "L1_AETI_D")
		require.NoError(t, err)
		c, err = b.MapBands(ctx, c, backend.Transform{Outputs: []backend.Output{{
			Name: backend.DefaultBand,
			Expr: backend.Mul(backend.Div(backend.BandRef(backend.DefaultBand), backend.Const(10)), backend.Prop("n_days_extent")),
		}}})
		require.NoError(t, err)

		sum, err := b.ReduceSum(ctx, c)
		require.NoError(t, err)
		band, ok := sum.Band(backend.DefaultBand)
		require.True(t, ok)
		require.InDelta(t, 30, band.Data[0], 1e-9)
		require.InDelta(t, 30, band.Data[1], 1e-9)
		require.True(t, math.IsNaN(band.Data[2]))
		require.Equal(t, "EPSG:4326", sum.Grid.CRS)
	})

	t.Run("reduce of empty collection fails", func(t *testing.T) {
		t.Parallel()
		b := memory.New()
		c, err := b.FromImages(ctx, nil)
		require.NoError(t, err)
		_, err = b.ReduceSum(ctx, c)
		require.ErrorIs(t, err, werr.ErrBackend)
	})

	t.Run("injected resolve errors surface", func(t *testing.T) {
		t.Parallel()
		b := memory.New()
		b.ResolveErr = map[string]error{"L1_T_D": werr.Backend("resolve", errors.New("boom"))}
		_, err := b.ResolveCollection(ctx, "L1_T_D")
		require.ErrorIs(t, err, werr.ErrBackend)
	})
}

func TestWapor_Backend_Memory_AssetStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("delete of missing asset is not found", func(t *testing.T) {
		t.Parallel()
		b := memory.New()
		err := b.Delete(ctx, "ws/L1/L1_AETI_A/L1_AETI_20")
		require.ErrorIs(t, err, werr.ErrNotFound)
	})

	t.Run("export stores encoded values and a task id", func(t *testing.T) {
		t.Parallel()
		b := memory.New()
		task, err := b.ExportToAsset(ctx, backend.ExportRequest{
			Image:     img("sum", day(2020, 1, 1), 1.234, math.NaN()),
			AssetID:   "ws/L1/L1_AETI_A/L1_AETI_20",
			CRS:       "EPSG:4326",
			MaxPixels: backend.DefaultMaxPixels,
			Scale:     10,
			NoData:    backend.NoDataValue,
		})
		require.NoError(t, err)
		require.NotEmpty(t, task.ID)

		exists, err := b.Exists(ctx, "ws/L1/L1_AETI_A/L1_AETI_20")
		require.NoError(t, err)
		require.True(t, exists)

		asset, ok := b.Asset("ws/L1/L1_AETI_A/L1_AETI_20")
		require.True(t, ok)
		require.Equal(t, []int32{12, -9999}, asset.Values[backend.DefaultBand])
		require.Equal(t, task, asset.Task)

		require.Equal(t, []string{
			"export:ws/L1/L1_AETI_A/L1_AETI_20",
			"exists:ws/L1/L1_AETI_A/L1_AETI_20",
		}, b.Calls())
	})

	t.Run("invalid export request is rejected", func(t *testing.T) {
		t.Parallel()
		b := memory.New()
		_, err := b.ExportToAsset(ctx, backend.ExportRequest{AssetID: "a"})
		require.ErrorIs(t, err, werr.ErrConfig)
	})
}

func TestWapor_Backend_Memory_LoadFixtures(t *testing.T) {
	t.Parallel()

	fixtures := `{
		"L1_E_D": [
			{"id": "e2", "timestamp": 1578873600000, "bands": [{"name": "b1", "data": [2]}]},
			{"id": "e1", "timestamp": 1577836800000, "bands": [{"name": "b1", "data": [1]}]}
		]
	}`
	b, err := memory.LoadFixtures(strings.NewReader(fixtures))
	require.NoError(t, err)

	c, err := b.ResolveCollection(context.Background(), "L1_E_D")
	require.NoError(t, err)
	images, err := b.Images(context.Background(), c)
	require.NoError(t, err)
	require.Len(t, images, 2)
	require.Equal(t, "e1", images[0].ID)

	_, err = memory.LoadFixtures(strings.NewReader("{"))
	require.Error(t, err)
}
