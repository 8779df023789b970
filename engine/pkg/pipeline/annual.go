package pipeline

import (
	"context"
	"fmt"

	"github.com/malbeclabs/wapor/engine/pkg/backend"
	"github.com/malbeclabs/wapor/engine/pkg/naming"
)

const (
	// annualScale is applied before the int32 cast; annualMultiplier is the
	// inverse recorded in metadata for readers.
	annualScale      = 10
	annualMultiplier = 0.1

	daysProperty = "n_days_extent"
)

// dekadToPeriod converts a dekadal daily rate (stored x10) into the amount
// accumulated over the dekad.
var dekadToPeriod = backend.Transform{
	Outputs: []backend.Output{{
		Name: backend.DefaultBand,
		Expr: backend.Mul(
			backend.Div(backend.BandRef(backend.DefaultBand), backend.Const(10)),
			backend.Prop(daysProperty),
		),
	}},
}

// Annual sums the 36 dekads of one component over a year.
func (p *Pipeline) Annual(ctx context.Context, cfg AnnualConfig) (*Result, error) {
	start := p.cfg.Clock.Now()
	res, err := p.annual(ctx, cfg)
	p.observe("annual", start, res, err)
	return res, err
}

func (p *Pipeline) annual(ctx context.Context, cfg AnnualConfig) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	res := newResult()
	rs, err := p.resolveAll(ctx, cfg.Year, []Source{cfg.Source}, nil)
	if err != nil {
		return res, err
	}
	if report := p.validate("annual", counts(rs), naming.DekadsPerYear); !report.OK() {
		return res.fail(report.Errors), nil
	}

	sum, err := p.sumYear(ctx, rs[0].collection)
	if err != nil {
		return res, err
	}
	return res, p.exportAnnual(ctx, "annual", cfg.Year, cfg.AssetID, sum, res)
}

// AnnualComposite joins the dekadal sub-components and sums the composite
// over the year, e.g. AETI_A from E, T and I.
func (p *Pipeline) AnnualComposite(ctx context.Context, cfg AnnualCompositeConfig) (*Result, error) {
	start := p.cfg.Clock.Now()
	res, err := p.annualComposite(ctx, cfg)
	p.observe("aet", start, res, err)
	return res, err
}

func (p *Pipeline) annualComposite(ctx context.Context, cfg AnnualCompositeConfig) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	res := newResult()
	images, ok, err := p.compose(ctx, "aet", cfg.ETI, res)
	if err != nil || !ok {
		return res, err
	}
	if p.cfg.Export.Intermediate {
		res.Outputs = append(res.Outputs, Output{Name: cfg.ETI.Component, Images: imageIDs(images)})
	}

	c, err := p.cfg.Backend.FromImages(ctx, images)
	if err != nil {
		return res, fmt.Errorf("failed to build %s collection: %w", cfg.ETI.Component, err)
	}
	sum, err := p.sumYear(ctx, c)
	if err != nil {
		return res, err
	}
	return res, p.exportAnnual(ctx, "aet", cfg.ETI.Year, cfg.AssetID, sum, res)
}

func (p *Pipeline) sumYear(ctx context.Context, c backend.Collection) (backend.Image, error) {
	mapped, err := p.cfg.Backend.MapBands(ctx, c, dekadToPeriod)
	if err != nil {
		return backend.Image{}, fmt.Errorf("failed to scale %s by %s: %w", c.CollectionID(), daysProperty, err)
	}
	sum, err := p.cfg.Backend.ReduceSum(ctx, mapped)
	if err != nil {
		return backend.Image{}, fmt.Errorf("failed to sum %s: %w", c.CollectionID(), err)
	}
	return sum, nil
}

// exportAnnual stamps img as the annual product and exports it scaled by
// annualScale.
func (p *Pipeline) exportAnnual(ctx context.Context, product string, year int, assetID string, img backend.Image, res *Result) error {
	img = p.asAnnual(img, year, assetID, annualProduct{multiplier: annualMultiplier})
	req := p.exportRequest(img, assetID)
	req.Scale = annualScale

	res.Outputs = append(res.Outputs, Output{Name: img.ID, Images: []string{img.ID}, AssetIDs: []string{assetID}})
	return p.exportAll(ctx, product, []backend.ExportRequest{req}, res)
}

func (p *Pipeline) asAnnual(img backend.Image, year int, assetID string, product annualProduct) backend.Image {
	start, _ := naming.YearRange(year)
	code := lastElem(assetID)
	img.ID = code
	img.Timestamp = start.UnixMilli()
	img.Properties = annualExportProperties(year, code, p.cfg.Export.NoData, product, img.Properties)
	return img
}
