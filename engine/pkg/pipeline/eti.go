package pipeline

import (
	"context"
	"fmt"

	"github.com/malbeclabs/wapor/engine/pkg/backend"
	"github.com/malbeclabs/wapor/engine/pkg/naming"
	"github.com/malbeclabs/wapor/engine/pkg/temporal"
)

// ETI computes a dekadal composite and exports one asset per planned dekad.
func (p *Pipeline) ETI(ctx context.Context, cfg ETIConfig) (*Result, error) {
	start := p.cfg.Clock.Now()
	res, err := p.eti(ctx, cfg)
	p.observe("eti", start, res, err)
	return res, err
}

func (p *Pipeline) eti(ctx context.Context, cfg ETIConfig) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	res := newResult()
	images, ok, err := p.compose(ctx, "eti", cfg, res)
	if err != nil || !ok {
		return res, err
	}

	var reqs []backend.ExportRequest
	for _, img := range images {
		d := naming.DekadOf(img.Time())
		asset, ok := cfg.AssetIDs[d]
		if !ok {
			continue
		}
		reqs = append(reqs, p.exportRequest(img, asset))
	}

	out := Output{Name: cfg.Component, Images: imageIDs(images)}
	for _, r := range reqs {
		out.AssetIDs = append(out.AssetIDs, r.AssetID)
	}
	res.Outputs = append(res.Outputs, out)

	if err := p.exportAll(ctx, "eti", reqs, res); err != nil {
		return res, err
	}
	return res, nil
}

// compose resolves every source and chains pairwise timestamp joins, summing
// the primary bands at each stage: ET = E + T, then ETI = ET + I. Every input
// and every stage must hold one record per dekad. A failed check leaves its
// report in res and returns ok == false.
func (p *Pipeline) compose(ctx context.Context, product string, cfg ETIConfig, res *Result) ([]backend.Image, bool, error) {
	rs, err := p.resolveAll(ctx, cfg.Year, cfg.Sources, nil)
	if err != nil {
		return nil, false, err
	}
	if report := p.validate(product, counts(rs), naming.DekadsPerYear); !report.OK() {
		res.fail(report.Errors)
		return nil, false, nil
	}

	first, err := p.cfg.Backend.Images(ctx, rs[0].collection)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list %s: %w", rs[0].source.CollectionID, err)
	}
	left := temporal.Input{Label: rs[0].source.Code, Images: first}

	for i := 1; i < len(rs); i++ {
		images, err := p.cfg.Backend.Images(ctx, rs[i].collection)
		if err != nil {
			return nil, false, fmt.Errorf("failed to list %s: %w", rs[i].source.CollectionID, err)
		}
		right := temporal.Input{Label: rs[i].source.Code, Images: images}

		joined, err := temporal.InnerJoinByTimestamp(left, right)
		if err != nil {
			return nil, false, fmt.Errorf("failed to join %s with %s: %w", left.Label, right.Label, err)
		}
		label := left.Label + right.Label
		stage := []temporal.NamedCount{{Name: label, Count: len(joined)}}
		if report := p.validate(product, stage, naming.DekadsPerYear); !report.OK() {
			res.fail(report.Errors)
			return nil, false, nil
		}

		final := i == len(rs)-1
		summed, err := p.sumStage(ctx, joined, left.Label, right.Label, !final && p.cfg.Export.Intermediate)
		if err != nil {
			return nil, false, err
		}
		p.log.Debug("pipeline: join stage composed", "stage", label, "records", len(summed))
		if !final && p.cfg.Export.Intermediate {
			res.Outputs = append(res.Outputs, Output{Name: label, Images: imageIDs(summed)})
		}
		left = temporal.Input{Label: label, Images: summed}
	}
	return left.Images, true, nil
}

// sumStage adds the primary bands of a joined stage on the backend.
func (p *Pipeline) sumStage(ctx context.Context, joined []backend.Image, l, r string, keep bool) ([]backend.Image, error) {
	c, err := p.cfg.Backend.FromImages(ctx, joined)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s%s collection: %w", l, r, err)
	}
	c, err = p.cfg.Backend.MapBands(ctx, c, backend.Transform{
		Outputs: []backend.Output{{
			Name: backend.DefaultBand,
			Expr: backend.Add(backend.BandRef(temporal.BandName(l)), backend.BandRef(temporal.BandName(r))),
		}},
		KeepInputs: keep,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sum %s and %s: %w", l, r, err)
	}
	images, err := p.cfg.Backend.Images(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s%s: %w", l, r, err)
	}
	return images, nil
}

func imageIDs(images []backend.Image) []string {
	ids := make([]string, len(images))
	for i, img := range images {
		ids[i] = img.ID
	}
	return ids
}
