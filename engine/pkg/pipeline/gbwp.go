package pipeline

import (
	"context"
	"fmt"

	"github.com/malbeclabs/wapor/engine/pkg/backend"
	"github.com/malbeclabs/wapor/engine/pkg/temporal"
)

const (
	gbwpFactor     = 1000
	gbwpMultiplier = 0.001
	gbwpUnit       = "kgDM/m³"

	// minAETI is the lowest annual AETI, in stored units, a ratio is
	// computed for.
	minAETI = 100
)

// maskBelow keeps the primary band where it is >= floor.
func maskBelow(floor float64) backend.Transform {
	b := backend.BandRef(backend.DefaultBand)
	return backend.Transform{Outputs: []backend.Output{{
		Name: backend.DefaultBand,
		Expr: backend.Mask(b, backend.GTE(b, backend.Const(floor))),
	}}}
}

// GBWP computes gross biomass water productivity, AGBP / AETI * 1000, from
// the annual AGBP and AETI products. Each input must hold exactly one image
// for the year.
func (p *Pipeline) GBWP(ctx context.Context, cfg GBWPConfig) (*Result, error) {
	start := p.cfg.Clock.Now()
	res, err := p.gbwp(ctx, cfg)
	p.observe("gbwp", start, res, err)
	return res, err
}

func (p *Pipeline) gbwp(ctx context.Context, cfg GBWPConfig) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	res := newResult()

	transforms := map[string]backend.Transform{cfg.AETI.Code: maskBelow(minAETI)}
	// Negative AGBP only marks missing data when nodata is the reserved value.
	if p.cfg.Export.NoData == backend.NoDataValue {
		transforms[cfg.AGBP.Code] = maskBelow(0)
	}

	rs, err := p.resolveAll(ctx, cfg.Year, []Source{cfg.AGBP, cfg.AETI}, transforms)
	if err != nil {
		return res, err
	}
	if report := p.validate("gbwp", counts(rs), 1); !report.OK() {
		return res.fail(report.Errors), nil
	}

	agbp, err := p.cfg.Backend.Images(ctx, rs[0].collection)
	if err != nil {
		return res, fmt.Errorf("failed to list %s: %w", cfg.AGBP.CollectionID, err)
	}
	aeti, err := p.cfg.Backend.Images(ctx, rs[1].collection)
	if err != nil {
		return res, fmt.Errorf("failed to list %s: %w", cfg.AETI.CollectionID, err)
	}
	merged, err := temporal.Merge(
		temporal.Input{Label: cfg.AGBP.Code, Images: agbp},
		temporal.Input{Label: cfg.AETI.Code, Images: aeti},
	)
	if err != nil {
		return res, fmt.Errorf("failed to merge %s and %s: %w", cfg.AGBP.Code, cfg.AETI.Code, err)
	}

	c, err := p.cfg.Backend.FromImages(ctx, []backend.Image{merged})
	if err != nil {
		return res, fmt.Errorf("failed to build %s collection: %w", cfg.Component, err)
	}
	c, err = p.cfg.Backend.MapBands(ctx, c, backend.Transform{Outputs: []backend.Output{{
		Name: backend.DefaultBand,
		Expr: backend.Mul(
			backend.Div(backend.BandRef(temporal.BandName(cfg.AGBP.Code)), backend.BandRef(temporal.BandName(cfg.AETI.Code))),
			backend.Const(gbwpFactor),
		),
	}}})
	if err != nil {
		return res, fmt.Errorf("failed to compute %s: %w", cfg.Component, err)
	}
	images, err := p.cfg.Backend.Images(ctx, c)
	if err != nil {
		return res, fmt.Errorf("failed to list %s: %w", cfg.Component, err)
	}
	if len(images) != 1 {
		return res, fmt.Errorf("failed to compute %s: got %d images, want 1", cfg.Component, len(images))
	}

	// Geometry and metadata follow the AETI product.
	img := images[0]
	img.Grid = aeti[0].Grid
	img.Properties = aeti[0].Properties
	img = p.asAnnual(img, cfg.Year, cfg.AssetID, annualProduct{multiplier: gbwpMultiplier, unit: gbwpUnit})

	req := p.exportRequest(img, cfg.AssetID)
	req.PyramidingPolicy = map[string]string{backend.DefaultBand: "mode"}

	res.Outputs = append(res.Outputs, Output{Name: img.ID, Images: []string{img.ID}, AssetIDs: []string{cfg.AssetID}})
	return res, p.exportAll(ctx, "gbwp", []backend.ExportRequest{req}, res)
}
