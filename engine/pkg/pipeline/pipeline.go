// Package pipeline composes backend calls into WaPOR products: dekadal
// composites (ETI), annual sums and gross biomass water productivity (GBWP).
// Pixel algebra runs on the backend; the pipeline names, filters, joins and
// sequences collections and exports.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/malbeclabs/wapor/engine/pkg/backend"
	"github.com/malbeclabs/wapor/engine/pkg/metrics"
	"github.com/malbeclabs/wapor/engine/pkg/naming"
	"github.com/malbeclabs/wapor/engine/pkg/temporal"
)

type Pipeline struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Pipeline{log: cfg.Logger, cfg: cfg}, nil
}

// resolved is a source collection filtered to the run's year.
type resolved struct {
	source     Source
	collection backend.Collection
	size       int
}

// resolveAll resolves, filters and sizes every source concurrently. Results
// keep the order of sources.
func (p *Pipeline) resolveAll(ctx context.Context, year int, sources []Source, transforms map[string]backend.Transform) ([]resolved, error) {
	start, end := naming.YearRange(year)
	out := make([]resolved, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			c, err := p.cfg.Backend.ResolveCollection(gctx, src.Path)
			if err != nil {
				return fmt.Errorf("failed to resolve collection %s: %w", src.Path, err)
			}
			c, err = p.cfg.Backend.FilterByDateRange(gctx, c, start, end)
			if err != nil {
				return fmt.Errorf("failed to filter collection %s: %w", src.Path, err)
			}
			if t, ok := transforms[src.Code]; ok {
				c, err = p.cfg.Backend.MapBands(gctx, c, t)
				if err != nil {
					return fmt.Errorf("failed to map collection %s: %w", src.Path, err)
				}
			}
			n, err := p.cfg.Backend.Size(gctx, c)
			if err != nil {
				return fmt.Errorf("failed to size collection %s: %w", src.Path, err)
			}
			p.log.Debug("pipeline: collection resolved", "collection", src.CollectionID, "size", n)
			out[i] = resolved{source: src, collection: c, size: n}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// validate checks sizes and records failures as report data.
func (p *Pipeline) validate(product string, counts []temporal.NamedCount, expected int) temporal.Report {
	report := temporal.ValidateCardinality(counts, expected)
	for _, k := range sortedKeys(report.Errors) {
		p.log.Error("pipeline: cardinality check failed", "product", product, "error", report.Errors[k])
	}
	if n := len(report.Errors); n > 0 {
		metrics.CardinalityErrorsTotal.WithLabelValues(product).Add(float64(n))
	}
	return report
}

func counts(rs []resolved) []temporal.NamedCount {
	out := make([]temporal.NamedCount, len(rs))
	for i, r := range rs {
		out[i] = temporal.NamedCount{Name: r.source.CollectionID, Count: r.size}
	}
	return out
}

// observe records the outcome of a run.
func (p *Pipeline) observe(product string, start time.Time, res *Result, err error) {
	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case res != nil && len(res.Errors) > 0:
		status = "invalid"
	}
	metrics.PipelineRunsTotal.WithLabelValues(product, status).Inc()
	elapsed := p.cfg.Clock.Since(start)
	metrics.PipelineRunDuration.WithLabelValues(product).Observe(elapsed.Seconds())
	p.log.Info("pipeline: run finished", "product", product, "status", status, "duration", elapsed)
}
