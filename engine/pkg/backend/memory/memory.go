// Package memory is an in-process GeospatialBackend. It evaluates band
// transforms over pixel slices held in memory and is used by tests and for
// dry runs against fixture files.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/malbeclabs/wapor/engine/pkg/backend"
	"github.com/malbeclabs/wapor/engine/pkg/werr"
)

var _ backend.GeospatialBackend = (*Backend)(nil)

// Asset is an exported asset as stored by the memory backend.
type Asset struct {
	Request backend.ExportRequest
	Task    backend.Task
	// Values holds the int32-encoded pixels per band.
	Values map[string][]int32
}

type collection struct {
	id     string
	images []backend.Image
}

func (c *collection) CollectionID() string { return c.id }

// Backend is safe for concurrent use.
type Backend struct {
	mu          sync.Mutex
	collections map[string][]backend.Image
	assets      map[string]*Asset
	calls       []string
	derived     int

	// Failure injection for tests. Keys are collection or asset ids.
	ResolveErr map[string]error
	DeleteErr  map[string]error
	ExportErr  map[string]error
}

func New() *Backend {
	return &Backend{
		collections: make(map[string][]backend.Image),
		assets:      make(map[string]*Asset),
	}
}

// AddCollection registers images under a collection id.
func (b *Backend) AddCollection(id string, images ...backend.Image) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.collections[id] = append([]backend.Image(nil), images...)
}

// AddAsset registers a pre-existing asset.
func (b *Backend) AddAsset(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.assets[id] = &Asset{Request: backend.ExportRequest{AssetID: id}}
}

func (b *Backend) Asset(id string) (*Asset, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.assets[id]
	return a, ok
}

// Calls returns the asset operations performed so far, e.g. "exists:<id>".
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *Backend) record(op, id string) {
	b.calls = append(b.calls, op+":"+id)
}

func (b *Backend) ResolveCollection(ctx context.Context, id string) (backend.Collection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ResolveErr[id]; err != nil {
		return nil, err
	}
	images, ok := b.collections[id]
	if !ok {
		return nil, werr.NotFound(id)
	}
	return &collection{id: id, images: sortedCopy(images)}, nil
}

func (b *Backend) FilterByDateRange(ctx context.Context, c backend.Collection, start, end time.Time) (backend.Collection, error) {
	src, err := b.unwrap(c)
	if err != nil {
		return nil, err
	}
	lo, hi := start.UnixMilli(), end.UnixMilli()
	var kept []backend.Image
	for _, img := range src.images {
		if img.Timestamp >= lo && img.Timestamp < hi {
			kept = append(kept, img)
		}
	}
	return &collection{id: src.id, images: kept}, nil
}

func (b *Backend) MapBands(ctx context.Context, c backend.Collection, t backend.Transform) (backend.Collection, error) {
	src, err := b.unwrap(c)
	if err != nil {
		return nil, err
	}
	out := make([]backend.Image, len(src.images))
	for i, img := range src.images {
		mapped, err := t.Apply(img)
		if err != nil {
			return nil, werr.Backend("map", err)
		}
		out[i] = mapped
	}
	return &collection{id: src.id, images: out}, nil
}

// ReduceSum sums every band pixel-wise across the collection. Masked pixels
// are skipped; a pixel masked in every image stays masked. Properties and grid
// come from the first image.
func (b *Backend) ReduceSum(ctx context.Context, c backend.Collection) (backend.Image, error) {
	src, err := b.unwrap(c)
	if err != nil {
		return backend.Image{}, err
	}
	if len(src.images) == 0 {
		return backend.Image{}, werr.Backend("reduce", fmt.Errorf("collection %s is empty", src.id))
	}

	first := src.images[0]
	sums := make(map[string][]float64, len(first.Bands))
	for _, img := range src.images {
		for _, band := range img.Bands {
			acc, ok := sums[band.Name]
			if !ok {
				acc = make([]float64, len(band.Data))
				for i := range acc {
					acc[i] = math.NaN()
				}
				sums[band.Name] = acc
			}
			if len(band.Data) != len(acc) {
				return backend.Image{}, werr.Backend("reduce", fmt.Errorf("band %s of %s has %d pixels, want %d", band.Name, img.ID, len(band.Data), len(acc)))
			}
			for i, v := range band.Data {
				if math.IsNaN(v) {
					continue
				}
				if math.IsNaN(acc[i]) {
					acc[i] = 0
				}
				acc[i] += v
			}
		}
	}

	out := backend.Image{
		ID:         src.id + "/sum",
		Timestamp:  first.Timestamp,
		Properties: first.Properties,
		Grid:       first.Grid,
	}
	for _, band := range first.Bands {
		out.Bands = append(out.Bands, backend.Band{Name: band.Name, Data: sums[band.Name]})
	}
	return out, nil
}

func (b *Backend) Size(ctx context.Context, c backend.Collection) (int, error) {
	src, err := b.unwrap(c)
	if err != nil {
		return 0, err
	}
	return len(src.images), nil
}

func (b *Backend) Images(ctx context.Context, c backend.Collection) ([]backend.Image, error) {
	src, err := b.unwrap(c)
	if err != nil {
		return nil, err
	}
	return append([]backend.Image(nil), src.images...), nil
}

func (b *Backend) FromImages(ctx context.Context, images []backend.Image) (backend.Collection, error) {
	b.mu.Lock()
	b.derived++
	id := fmt.Sprintf("derived-%d", b.derived)
	b.mu.Unlock()
	return &collection{id: id, images: sortedCopy(images)}, nil
}

func (b *Backend) Exists(ctx context.Context, assetID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("exists", assetID)
	_, ok := b.assets[assetID]
	return ok, nil
}

func (b *Backend) Delete(ctx context.Context, assetID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("delete", assetID)
	if err := b.DeleteErr[assetID]; err != nil {
		return err
	}
	if _, ok := b.assets[assetID]; !ok {
		return werr.NotFound(assetID)
	}
	delete(b.assets, assetID)
	return nil
}

func (b *Backend) ExportToAsset(ctx context.Context, req backend.ExportRequest) (backend.Task, error) {
	if err := req.Validate(); err != nil {
		return backend.Task{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("export", req.AssetID)
	if err := b.ExportErr[req.AssetID]; err != nil {
		return backend.Task{}, err
	}

	values := make(map[string][]int32, len(req.Image.Bands))
	for _, band := range req.Image.Bands {
		values[band.Name] = backend.EncodeInt32(band.Data, req.Scale, int32(req.NoData))
	}
	task := backend.Task{ID: uuid.NewString(), AssetID: req.AssetID}
	b.assets[req.AssetID] = &Asset{Request: req, Task: task, Values: values}
	return task, nil
}

func (b *Backend) unwrap(c backend.Collection) (*collection, error) {
	mc, ok := c.(*collection)
	if !ok || mc == nil {
		return nil, werr.Backend("resolve", fmt.Errorf("collection handle %T does not belong to the memory backend", c))
	}
	return mc, nil
}

func sortedCopy(images []backend.Image) []backend.Image {
	out := append([]backend.Image(nil), images...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// LoadFixtures reads a JSON object mapping collection ids to images.
func LoadFixtures(r io.Reader) (*Backend, error) {
	var fixtures map[string][]backend.Image
	if err := json.NewDecoder(r).Decode(&fixtures); err != nil {
		return nil, fmt.Errorf("failed to decode fixtures: %w", err)
	}
	b := New()
	for id, images := range fixtures {
		b.AddCollection(id, images...)
	}
	return b, nil
}
