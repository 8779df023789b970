package backend

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWapor_Backend_Transform_Apply(t *testing.T) {
	t.Parallel()

	img := Image{
		ID:        "L1_E_D/L1_E_1601",
		Timestamp: 1451606400000,
		Bands: []Band{
			{Name: "Eband", Data: []float64{1, 2, 3}},
			{Name: "Tband", Data: []float64{10, 20, math.NaN()}},
		},
		Properties: map[string]any{"n_days_extent": "10.0", "days": 11},
	}

	t.Run("adds bands and keeps inputs", func(t *testing.T) {
		t.Parallel()
		out, err := Transform{
			Outputs:    []Output{{Name: "ET", Expr: Add(BandRef("Eband"), BandRef("Tband"))}},
			KeepInputs: true,
		}.Apply(img)
		require.NoError(t, err)
		require.Equal(t, []string{"Eband", "Tband", "ET"}, out.BandNames())
		et, ok := out.Band("ET")
		require.True(t, ok)
		require.Equal(t, 11.0, et.Data[0])
		require.Equal(t, 22.0, et.Data[1])
		require.True(t, math.IsNaN(et.Data[2]))
		require.Equal(t, img.Timestamp, out.Timestamp)
	})

	t.Run("later outputs reference earlier ones and inputs are dropped", func(t *testing.T) {
		t.Parallel()
		out, err := Transform{Outputs: []Output{
			{Name: "ET", Expr: Add(BandRef("Eband"), BandRef("Tband"))},
			{Name: "b1", Expr: Mul(BandRef("ET"), Const(2))},
		}}.Apply(img)
		require.NoError(t, err)
		require.Equal(t, []string{"ET", "b1"}, out.BandNames())
		b1, _ := out.Band("b1")
		require.Equal(t, 22.0, b1.Data[0])
	})

	t.Run("properties broadcast as scalars", func(t *testing.T) {
		t.Parallel()
		out, err := Transform{Outputs: []Output{
			{Name: "b1", Expr: Mul(Div(BandRef("Eband"), Const(10)), Prop("n_days_extent"))},
			{Name: "b2", Expr: Mul(BandRef("Eband"), Prop("days"))},
		}}.Apply(img)
		require.NoError(t, err)
		b1, _ := out.Band("b1")
		require.InDeltaSlice(t, []float64{1, 2, 3}, b1.Data, 1e-9)
		b2, _ := out.Band("b2")
		require.InDeltaSlice(t, []float64{11, 22, 33}, b2.Data, 1e-9)
	})

	t.Run("mask and division by zero produce masked pixels", func(t *testing.T) {
		t.Parallel()
		in := Image{ID: "x", Bands: []Band{
			{Name: "a", Data: []float64{-1, 5, 5}},
			{Name: "b", Data: []float64{200, 50, 0}},
		}}
		out, err := Transform{Outputs: []Output{
			{Name: "am", Expr: Mask(BandRef("a"), GTE(BandRef("a"), Const(0)))},
			{Name: "r", Expr: Div(BandRef("am"), BandRef("b"))},
		}}.Apply(in)
		require.NoError(t, err)
		r, _ := out.Band("r")
		require.True(t, math.IsNaN(r.Data[0]))
		require.Equal(t, 0.1, r.Data[1])
		require.True(t, math.IsNaN(r.Data[2]))
	})

	t.Run("errors name the failing output", func(t *testing.T) {
		t.Parallel()
		_, err := Transform{Outputs: []Output{{Name: "x", Expr: BandRef("missing")}}}.Apply(img)
		require.ErrorContains(t, err, `unknown band "missing"`)

		_, err = Transform{Outputs: []Output{{Name: "x", Expr: Prop("nope")}}}.Apply(img)
		require.ErrorContains(t, err, `no property "nope"`)

		_, err = Transform{}.Apply(img)
		require.Error(t, err)

		bad := Image{ID: "y", Bands: []Band{{Name: "a", Data: []float64{1, 2}}, {Name: "b", Data: []float64{1, 2, 3}}}}
		_, err = Transform{Outputs: []Output{{Name: "x", Expr: Add(BandRef("a"), BandRef("b"))}}}.Apply(bad)
		require.ErrorContains(t, err, "band sizes differ")
	})
}

func TestWapor_Backend_Expr_JSON(t *testing.T) {
	t.Parallel()

	e := Mul(Div(BandRef("AGBPband"), BandRef("AETIband")), Const(0))
	b, err := json.Marshal(e)
	require.NoError(t, err)

	var back Expr
	require.NoError(t, json.Unmarshal(b, &back))
	require.Equal(t, e.String(), back.String())
	require.Equal(t, "mul(div(AGBPband, AETIband), 0)", back.String())
	require.NotNil(t, back.Args[1].Value)
}

func TestWapor_Backend_Image_WithBandsRenamed(t *testing.T) {
	t.Parallel()

	data := []float64{1, 2}
	img := Image{ID: "L1_E_1601", Bands: []Band{{Name: "b1", Data: data}, {Name: "qa"}}}
	out := img.WithBandsRenamed(map[string]string{"b1": "Eband"})

	require.Equal(t, []string{"Eband", "qa"}, out.BandNames())
	require.Equal(t, []string{"b1", "qa"}, img.BandNames())
	b, _ := out.Band("Eband")
	require.Equal(t, "L1_E_1601", b.Source)
	require.Equal(t, "b1", b.SourceBand)
	require.Same(t, &data[0], &b.Data[0])
}

func TestWapor_Backend_ExportRequest(t *testing.T) {
	t.Parallel()

	t.Run("validate fills defaults", func(t *testing.T) {
		t.Parallel()
		req := ExportRequest{
			AssetID:   "projects/wapor/L1/L1_E_A/L1_E_16",
			Image:     Image{ID: "x", Bands: []Band{{Name: "b1"}}},
			CRS:       "EPSG:4326",
			MaxPixels: 100,
		}
		require.NoError(t, req.Validate())
		require.Equal(t, 1.0, req.Scale)
		require.Equal(t, Int32, req.DataType)
	})

	t.Run("validate rejects incomplete requests", func(t *testing.T) {
		t.Parallel()
		req := ExportRequest{Image: Image{Bands: []Band{{Name: "b1"}}}, CRS: "EPSG:4326", MaxPixels: 1}
		require.ErrorContains(t, req.Validate(), "asset_id")

		req.AssetID = "a"
		req.MaxPixels = 0
		require.ErrorContains(t, req.Validate(), "max_pixels")

		req.MaxPixels = 1
		req.Image.Bands = nil
		require.ErrorContains(t, req.Validate(), "no bands")
	})

	t.Run("encode int32 scales rounds and fills nodata", func(t *testing.T) {
		t.Parallel()
		got := EncodeInt32([]float64{1.234, math.NaN(), -0.06, math.Inf(1)}, 10, NoDataValue)
		require.Equal(t, []int32{12, -9999, -1, -9999}, got)
	})

	t.Run("encode int32 maps out of range values to nodata", func(t *testing.T) {
		t.Parallel()
		got := EncodeInt32([]float64{3e8, -3e8, 2.147e8, math.Inf(-1)}, 10, NoDataValue)
		require.Equal(t, []int32{-9999, -9999, 2147000000, -9999}, got)
	})
}

func TestWapor_Backend_Compose(t *testing.T) {
	t.Parallel()

	var catalog Catalog
	var assets AssetStore
	b := Compose(catalog, assets)
	require.NotNil(t, b)
}
