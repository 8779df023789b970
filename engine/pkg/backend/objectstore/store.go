// Package objectstore is an AssetStore that writes export manifests to an S3
// bucket. A downstream worker materialises each manifest into a raster; the
// manifest key doubles as the asset's existence marker.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb/geojson"

	"github.com/malbeclabs/wapor/engine/pkg/backend"
	"github.com/malbeclabs/wapor/engine/pkg/werr"
)

const manifestExt = ".json"

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var _ backend.AssetStore = (*Store)(nil)

type Config struct {
	Logger *slog.Logger
	Client S3API
	Bucket string
	Prefix string
	Clock  clockwork.Clock
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("s3 client is required")
	}
	if cfg.Bucket == "" {
		return werr.MissingField("s3_bucket")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return nil
}

type Store struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Store{log: cfg.Logger, cfg: cfg}, nil
}

// NewClient builds an S3 client from the default AWS credential chain. A
// non-empty endpoint selects path-style addressing for S3-compatible stores.
func NewClient(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Key is the object key of the manifest for assetID.
func (s *Store) Key(assetID string) string {
	return path.Join(s.cfg.Prefix, strings.Trim(assetID, "/")) + manifestExt
}

func (s *Store) Exists(ctx context.Context, assetID string) (bool, error) {
	_, err := s.cfg.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.Key(assetID)),
	})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, werr.Backend("exists", err)
	}
	return true, nil
}

// Delete removes the manifest of assetID. S3 deletes are idempotent, so
// existence is checked first to report NotFound like other stores.
func (s *Store) Delete(ctx context.Context, assetID string) error {
	ok, err := s.Exists(ctx, assetID)
	if err != nil {
		return err
	}
	if !ok {
		return werr.NotFound(assetID)
	}
	_, err = s.cfg.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.Key(assetID)),
	})
	if err != nil {
		return werr.Backend("delete", err)
	}
	return nil
}

// Manifest is the document written for each export.
type Manifest struct {
	TaskID           string            `json:"task_id"`
	AssetID          string            `json:"asset_id"`
	Description      string            `json:"description,omitempty"`
	SubmittedAt      time.Time         `json:"submitted_at"`
	Image            backend.Image     `json:"image"`
	CRS              string            `json:"crs"`
	CRSTransform     []float64         `json:"crs_transform,omitempty"`
	Width            int               `json:"width,omitempty"`
	Height           int               `json:"height,omitempty"`
	Region           *geojson.Geometry `json:"region,omitempty"`
	MaxPixels        int64             `json:"max_pixels"`
	DataType         backend.DataType  `json:"data_type"`
	Scale            float64           `json:"scale"`
	NoData           float64           `json:"no_data"`
	PyramidingPolicy map[string]string `json:"pyramiding_policy,omitempty"`
	Properties       map[string]any    `json:"properties,omitempty"`
}

func (s *Store) ExportToAsset(ctx context.Context, req backend.ExportRequest) (backend.Task, error) {
	if err := req.Validate(); err != nil {
		return backend.Task{}, err
	}

	m := Manifest{
		TaskID:           uuid.NewString(),
		AssetID:          req.AssetID,
		Description:      req.Description,
		SubmittedAt:      s.cfg.Clock.Now().UTC(),
		Image:            req.Image.WithBandsRenamed(nil),
		CRS:              req.CRS,
		CRSTransform:     req.CRSTransform,
		Width:            req.Width,
		Height:           req.Height,
		MaxPixels:        req.MaxPixels,
		DataType:         req.DataType,
		Scale:            req.Scale,
		NoData:           req.NoData,
		PyramidingPolicy: req.PyramidingPolicy,
		Properties:       req.Properties,
	}
	for i := range m.Image.Bands {
		m.Image.Bands[i].Data = nil
	}
	if len(req.Region) > 0 {
		m.Region = geojson.NewGeometry(req.Region)
	}

	body, err := json.Marshal(m)
	if err != nil {
		return backend.Task{}, fmt.Errorf("failed to encode manifest for %s: %w", req.AssetID, err)
	}
	key := s.Key(req.AssetID)
	_, err = s.cfg.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata:    map[string]string{"task-id": m.TaskID},
	})
	if err != nil {
		return backend.Task{}, werr.Backend("export", err)
	}
	s.log.Debug("objectstore: manifest written", "bucket", s.cfg.Bucket, "key", key, "task", m.TaskID)
	return backend.Task{ID: m.TaskID, AssetID: req.AssetID}, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
