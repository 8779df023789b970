package pipeline

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"path"
	"time"

	"github.com/malbeclabs/wapor/engine/pkg/backend"
	"github.com/malbeclabs/wapor/engine/pkg/metrics"
	"github.com/malbeclabs/wapor/engine/pkg/naming"
	"github.com/malbeclabs/wapor/engine/pkg/werr"
)

// exportRequest builds an int32 export of img. Geometry comes from the image
// grid when it has one, otherwise from the default region.
func (p *Pipeline) exportRequest(img backend.Image, assetID string) backend.ExportRequest {
	req := backend.ExportRequest{
		Image:       img,
		AssetID:     assetID,
		Description: lastElem(assetID),
		DataType:    backend.Int32,
		Scale:       1,
		NoData:      float64(p.cfg.Export.NoData),
		Properties:  img.Properties,
	}
	if g := img.Grid; g != nil && g.Pixels() > 0 {
		req.CRS = g.CRS
		req.CRSTransform = g.Transform
		req.Width = g.Width
		req.Height = g.Height
		req.MaxPixels = g.Pixels()
	} else {
		req.CRS = p.cfg.Export.CRS
		req.Region = backend.DefaultRegion
		req.MaxPixels = backend.DefaultMaxPixels
	}
	if req.CRS == "" {
		req.CRS = p.cfg.Export.CRS
	}
	return req
}

func (p *Pipeline) exportAll(ctx context.Context, product string, reqs []backend.ExportRequest, res *Result) error {
	if p.cfg.Export.DryRun {
		p.log.Info("pipeline: dry run, skipping exports", "product", product, "count", len(reqs))
		return nil
	}
	for i, req := range reqs {
		taskID, err := p.export(ctx, product, req)
		if err != nil {
			return err
		}
		res.Tasks[req.AssetID] = taskID
		if p.cfg.Progress != nil {
			p.cfg.Progress(i+1, len(reqs))
		}
	}
	return nil
}

// export replaces assetID: an existing asset is deleted first, and a
// concurrent disappearance between the check and the delete is tolerated.
// A failed submission is fatal for the run.
func (p *Pipeline) export(ctx context.Context, product string, req backend.ExportRequest) (string, error) {
	log := p.log.With("product", product, "asset", req.AssetID)

	exists, err := p.cfg.Backend.Exists(ctx, req.AssetID)
	if err != nil {
		return "", fmt.Errorf("failed to check asset %s: %w", req.AssetID, err)
	}
	if exists {
		err := p.cfg.Backend.Delete(ctx, req.AssetID)
		switch {
		case errors.Is(err, werr.ErrNotFound):
			log.Warn("pipeline: asset vanished before delete", "error", err)
		case err != nil:
			return "", fmt.Errorf("failed to delete asset %s: %w", req.AssetID, err)
		default:
			log.Debug("pipeline: existing asset deleted")
		}
	}

	task, err := p.cfg.Backend.ExportToAsset(ctx, req)
	if err != nil {
		metrics.ExportsTotal.WithLabelValues(product, "error").Inc()
		log.Error("pipeline: export submission failed", "error", err)
		return "", fmt.Errorf("failed to export %s: %w", req.AssetID, err)
	}
	metrics.ExportsTotal.WithLabelValues(product, "submitted").Inc()
	log.Info("pipeline: export submitted", "task", task.ID)
	return task.ID, nil
}

// annualProduct holds the metadata written on annual exports.
type annualProduct struct {
	multiplier float64
	unit       string
}

// annualExportProperties derives the metadata of an annual image from the
// properties of its source records. Unknown properties are carried over.
func annualExportProperties(year int, code string, nodata int32, product annualProduct, src map[string]any) map[string]any {
	props := make(map[string]any, len(src)+10)
	maps.Copy(props, src)
	delete(props, "system:asset_size")

	start, end := naming.YearRange(year)
	last := end.Add(-24 * time.Hour)
	props["code"] = code
	props["time_extent"] = fmt.Sprintf("from %d-01-01 to %d-12-31", year, year)
	props["time_resolution"] = "YEAR"
	props["n_days_extent"] = float64(naming.DaysInYear(year))
	props["multiplier"] = product.multiplier
	props["no_data_value"] = nodata
	props["data_type"] = string(backend.Int32)
	if product.unit != "" {
		props["unit"] = product.unit
	}
	props["system:time_start"] = start.UnixMilli()
	props["system:time_end"] = last.UnixMilli()
	return props
}

func lastElem(assetID string) string {
	return path.Base(assetID)
}
