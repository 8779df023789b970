package pipeline

import (
	"errors"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/wapor/engine/pkg/backend"
)

const defaultCRS = "EPSG:4326"

// ExportOptions control what happens to computed products.
type ExportOptions struct {
	// DryRun computes and lists outputs without touching assets.
	DryRun bool
	// Intermediate lists intermediate join stages in Result.Outputs.
	Intermediate bool
	// NoData marks invalid pixels in int32 exports. Zero selects -9999.
	NoData int32
	// CRS is used for images that carry no grid. Empty selects EPSG:4326.
	CRS string
}

type Config struct {
	Logger  *slog.Logger
	Backend backend.GeospatialBackend
	Clock   clockwork.Clock
	Export  ExportOptions

	// Progress, when set, is called after each export submission.
	Progress func(done, total int)
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Backend == nil {
		return errors.New("backend is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Export.NoData == 0 {
		cfg.Export.NoData = backend.NoDataValue
	}
	if cfg.Export.CRS == "" {
		cfg.Export.CRS = defaultCRS
	}
	return nil
}
