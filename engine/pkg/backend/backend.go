// Package backend describes the remote geospatial image-processing service the
// engine composes calls against. The service owns pixels; this package only
// models handles, image metadata, band expressions and export requests.
package backend

import (
	"context"
	"time"
)

// Collection is an opaque handle to a server-side image collection.
type Collection interface {
	CollectionID() string
}

// Catalog resolves and transforms image collections.
type Catalog interface {
	// ResolveCollection fails with werr.ErrNotFound when id does not exist.
	ResolveCollection(ctx context.Context, id string) (Collection, error)
	// FilterByDateRange keeps images with start <= time_start < end.
	FilterByDateRange(ctx context.Context, c Collection, start, end time.Time) (Collection, error)
	MapBands(ctx context.Context, c Collection, t Transform) (Collection, error)
	ReduceSum(ctx context.Context, c Collection) (Image, error)
	Size(ctx context.Context, c Collection) (int, error)
	// Images lists the images of c sorted ascending by timestamp.
	Images(ctx context.Context, c Collection) ([]Image, error)
	// FromImages builds a collection from images assembled client side, such
	// as the output of a temporal join.
	FromImages(ctx context.Context, images []Image) (Collection, error)
}

// AssetStore manages exported assets.
type AssetStore interface {
	Exists(ctx context.Context, assetID string) (bool, error)
	// Delete fails with werr.ErrNotFound when the asset does not exist.
	Delete(ctx context.Context, assetID string) error
	ExportToAsset(ctx context.Context, req ExportRequest) (Task, error)
}

// GeospatialBackend is the full capability set the pipeline depends on.
type GeospatialBackend interface {
	Catalog
	AssetStore
}

// Task is the handle of an export submitted to the backend. Exports run
// asynchronously; the engine records the id and does not wait.
type Task struct {
	ID      string `json:"id"`
	AssetID string `json:"asset_id"`
}

type composite struct {
	Catalog
	AssetStore
}

// Compose pairs a catalog with an asset store from a different provider, for
// example a remote catalog with an object-store export sink.
func Compose(catalog Catalog, assets AssetStore) GeospatialBackend {
	return composite{Catalog: catalog, AssetStore: assets}
}
