package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/malbeclabs/wapor/engine/pkg/backend"
	"github.com/malbeclabs/wapor/engine/pkg/backend/memory"
	"github.com/malbeclabs/wapor/engine/pkg/backend/objectstore"
	"github.com/malbeclabs/wapor/engine/pkg/backend/remote"
)

// openBackend builds the catalog selected by cfg.Backend and, for the s3
// asset store, routes exports to object storage instead. The returned func
// releases the backend session.
func openBackend(ctx context.Context, log *slog.Logger, cfg *Config) (backend.GeospatialBackend, func(), error) {
	var (
		gb      backend.GeospatialBackend
		closeFn = func() {}
	)
	switch cfg.Backend {
	case BackendMemory:
		f, err := os.Open(cfg.Fixtures)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open fixtures: %w", err)
		}
		defer f.Close()
		mem, err := memory.LoadFixtures(f)
		if err != nil {
			return nil, nil, err
		}
		log.Debug("cli: loaded memory backend", "fixtures", cfg.Fixtures)
		gb = mem
	default:
		creds, err := credentials(cfg)
		if err != nil {
			return nil, nil, err
		}
		client, err := remote.Open(ctx, remote.Config{
			Logger:      log,
			BaseURL:     cfg.BackendURL,
			Credentials: creds,
		})
		if err != nil {
			return nil, nil, err
		}
		closeFn = func() {
			if err := client.Close(); err != nil {
				log.Warn("cli: failed to close backend session", "error", err)
			}
		}
		gb = client
	}

	if cfg.AssetStore == AssetStoreS3 {
		s3Client, err := objectstore.NewClient(ctx, cfg.S3Region, cfg.S3Endpoint)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		store, err := objectstore.New(objectstore.Config{
			Logger: log,
			Client: s3Client,
			Bucket: cfg.S3Bucket,
			Prefix: cfg.S3Prefix,
		})
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		gb = backend.Compose(gb, store)
	}
	return gb, closeFn, nil
}

// credentials prefers an explicitly named credential file, then credentials
// from the environment, then the default file when it exists.
func credentials(cfg *Config) (remote.Credentials, error) {
	path := expandHome(cfg.CredentialFile)
	if cfg.CredentialFileRequired {
		return remote.LoadCredentials(path)
	}
	if cfg.Credentials.ClientID != "" || path == "" {
		return cfg.Credentials, nil
	}
	if _, err := os.Stat(path); err != nil {
		return cfg.Credentials, nil
	}
	return remote.LoadCredentials(path)
}
