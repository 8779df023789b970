package remote

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/malbeclabs/wapor/engine/pkg/backend"
	"github.com/malbeclabs/wapor/engine/pkg/werr"
)

// collection is a server-side collection handle. Ref names the lazily
// evaluated expression the server keeps for it.
type collection struct {
	ID  string `json:"id"`
	Ref string `json:"ref"`
}

func (c collection) CollectionID() string { return c.ID }

type refRequest struct {
	Ref string `json:"ref"`
}

type refResponse struct {
	Ref string `json:"ref"`
}

type filterRequest struct {
	Ref   string    `json:"ref"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type mapRequest struct {
	Ref       string            `json:"ref"`
	Transform backend.Transform `json:"transform"`
}

func (c *Client) ResolveCollection(ctx context.Context, id string) (backend.Collection, error) {
	var resp refResponse
	err := c.call(ctx, "resolve", http.MethodPost, "/v1/collections:resolve", map[string]string{"id": id}, &resp)
	if statusOf(err) == http.StatusNotFound {
		return nil, werr.NotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return collection{ID: id, Ref: resp.Ref}, nil
}

func (c *Client) FilterByDateRange(ctx context.Context, coll backend.Collection, start, end time.Time) (backend.Collection, error) {
	h, err := handle(coll)
	if err != nil {
		return nil, err
	}
	var resp refResponse
	req := filterRequest{Ref: h.Ref, Start: start.UTC(), End: end.UTC()}
	if err := c.call(ctx, "filter", http.MethodPost, "/v1/collections:filter", req, &resp); err != nil {
		return nil, err
	}
	return collection{ID: h.ID, Ref: resp.Ref}, nil
}

func (c *Client) MapBands(ctx context.Context, coll backend.Collection, t backend.Transform) (backend.Collection, error) {
	h, err := handle(coll)
	if err != nil {
		return nil, err
	}
	var resp refResponse
	if err := c.call(ctx, "map", http.MethodPost, "/v1/collections:map", mapRequest{Ref: h.Ref, Transform: t}, &resp); err != nil {
		return nil, err
	}
	return collection{ID: h.ID, Ref: resp.Ref}, nil
}

func (c *Client) ReduceSum(ctx context.Context, coll backend.Collection) (backend.Image, error) {
	h, err := handle(coll)
	if err != nil {
		return backend.Image{}, err
	}
	var resp struct {
		Image backend.Image `json:"image"`
	}
	if err := c.call(ctx, "reduce", http.MethodPost, "/v1/collections:reduceSum", refRequest{Ref: h.Ref}, &resp); err != nil {
		return backend.Image{}, err
	}
	return resp.Image, nil
}

func (c *Client) Size(ctx context.Context, coll backend.Collection) (int, error) {
	h, err := handle(coll)
	if err != nil {
		return 0, err
	}
	var resp struct {
		Size int `json:"size"`
	}
	if err := c.call(ctx, "size", http.MethodPost, "/v1/collections:size", refRequest{Ref: h.Ref}, &resp); err != nil {
		return 0, err
	}
	return resp.Size, nil
}

func (c *Client) Images(ctx context.Context, coll backend.Collection) ([]backend.Image, error) {
	h, err := handle(coll)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Images []backend.Image `json:"images"`
	}
	if err := c.call(ctx, "images", http.MethodPost, "/v1/collections:images", refRequest{Ref: h.Ref}, &resp); err != nil {
		return nil, err
	}
	return resp.Images, nil
}

// FromImages uploads image metadata only. Each band carries its source image
// and band so the server can assemble the collection without pixel data.
func (c *Client) FromImages(ctx context.Context, images []backend.Image) (backend.Collection, error) {
	stripped := make([]backend.Image, len(images))
	for i, img := range images {
		img = img.WithBandsRenamed(nil)
		for j := range img.Bands {
			img.Bands[j].Data = nil
		}
		stripped[i] = img
	}
	var resp struct {
		ID  string `json:"id"`
		Ref string `json:"ref"`
	}
	if err := c.call(ctx, "fromImages", http.MethodPost, "/v1/collections:fromImages", map[string]any{"images": stripped}, &resp); err != nil {
		return nil, err
	}
	return collection{ID: resp.ID, Ref: resp.Ref}, nil
}

func handle(c backend.Collection) (collection, error) {
	h, ok := c.(collection)
	if !ok {
		return collection{}, werr.Backend("resolve", fmt.Errorf("collection handle %T does not belong to the remote backend", c))
	}
	return h, nil
}
