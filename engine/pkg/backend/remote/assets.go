package remote

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/malbeclabs/wapor/engine/pkg/backend"
	"github.com/malbeclabs/wapor/engine/pkg/werr"
)

type exportBody struct {
	Image            backend.Image     `json:"image"`
	AssetID          string            `json:"asset_id"`
	Description      string            `json:"description,omitempty"`
	CRS              string            `json:"crs"`
	CRSTransform     []float64         `json:"crs_transform,omitempty"`
	Dimensions       string            `json:"dimensions,omitempty"`
	Region           *geojson.Geometry `json:"region,omitempty"`
	MaxPixels        int64             `json:"max_pixels"`
	DataType         backend.DataType  `json:"data_type"`
	Scale            float64           `json:"scale"`
	NoData           float64           `json:"no_data"`
	PyramidingPolicy map[string]string `json:"pyramiding_policy,omitempty"`
	Properties       map[string]any    `json:"properties,omitempty"`
}

func assetPath(id string) string {
	return "/v1/assets/" + strings.TrimLeft(id, "/")
}

func (c *Client) Exists(ctx context.Context, assetID string) (bool, error) {
	err := c.call(ctx, "exists", http.MethodGet, assetPath(assetID), nil, nil)
	switch {
	case statusOf(err) == http.StatusNotFound:
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

func (c *Client) Delete(ctx context.Context, assetID string) error {
	err := c.call(ctx, "delete", http.MethodDelete, assetPath(assetID), nil, nil)
	if statusOf(err) == http.StatusNotFound {
		return werr.NotFound(assetID)
	}
	return err
}

func (c *Client) ExportToAsset(ctx context.Context, req backend.ExportRequest) (backend.Task, error) {
	if err := req.Validate(); err != nil {
		return backend.Task{}, err
	}
	body := exportBody{
		Image:            req.Image.WithBandsRenamed(nil),
		AssetID:          req.AssetID,
		Description:      req.Description,
		CRS:              req.CRS,
		CRSTransform:     req.CRSTransform,
		MaxPixels:        req.MaxPixels,
		DataType:         req.DataType,
		Scale:            req.Scale,
		NoData:           req.NoData,
		PyramidingPolicy: req.PyramidingPolicy,
		Properties:       req.Properties,
	}
	for i := range body.Image.Bands {
		body.Image.Bands[i].Data = nil
	}
	if req.Width > 0 && req.Height > 0 {
		body.Dimensions = fmt.Sprintf("%dx%d", req.Width, req.Height)
	}
	if len(req.Region) > 0 {
		body.Region = geojson.NewGeometry(req.Region)
	}

	var resp struct {
		TaskID string `json:"task_id"`
	}
	if err := c.call(ctx, "export", http.MethodPost, "/v1/exports", body, &resp); err != nil {
		return backend.Task{}, err
	}
	if resp.TaskID == "" {
		return backend.Task{}, werr.Backend("export", fmt.Errorf("no task id returned for %s", req.AssetID))
	}
	c.log.Debug("remote: export task started", "asset", req.AssetID, "task", resp.TaskID)
	return backend.Task{ID: resp.TaskID, AssetID: req.AssetID}, nil
}
