package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/malbeclabs/wapor/engine/pkg/backend/remote"
	"github.com/malbeclabs/wapor/engine/pkg/naming"
	"github.com/malbeclabs/wapor/engine/pkg/werr"
)

const (
	BackendRemote = "remote"
	BackendMemory = "memory"

	AssetStoreRemote = "remote"
	AssetStoreS3     = "s3"
)

// Config is the resolved CLI configuration. Values come from the config
// file, then the environment, then flags, each overriding the previous.
type Config struct {
	Workspace string
	Level     string

	Backend     string
	BackendURL  string
	Fixtures    string
	Credentials remote.Credentials

	// CredentialFile is only required to exist when named explicitly
	// rather than defaulted.
	CredentialFile         string
	CredentialFileRequired bool

	AssetStore string
	S3Bucket   string
	S3Prefix   string
	S3Region   string
	S3Endpoint string

	Dekads       []int
	ToAsset      bool
	Intermediate bool
	NoData       int
	Progress     bool

	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUsername string
	ClickHousePassword string
	ClickHouseSecure   bool
	ClickHouseTable    string

	PushgatewayURL    string
	SentryDSN         string
	SentryEnvironment string
}

func (cfg *Config) Validate() error {
	if cfg.Workspace == "" {
		return werr.MissingField("workspace")
	}
	if cfg.Level == "" {
		return werr.MissingField("level")
	}
	switch cfg.Backend {
	case BackendRemote:
		if cfg.BackendURL == "" {
			return werr.MissingField("backend_url")
		}
	case BackendMemory:
		if cfg.Fixtures == "" {
			return werr.MissingField("fixtures")
		}
	default:
		return werr.InvalidField("backend", "%q is not one of %s, %s", cfg.Backend, BackendRemote, BackendMemory)
	}
	switch cfg.AssetStore {
	case AssetStoreRemote:
	case AssetStoreS3:
		if cfg.S3Bucket == "" {
			return werr.MissingField("s3_bucket")
		}
	default:
		return werr.InvalidField("asset_store", "%q is not one of %s, %s", cfg.AssetStore, AssetStoreRemote, AssetStoreS3)
	}
	for _, d := range cfg.Dekads {
		if err := naming.ValidateDekad(d); err != nil {
			return err
		}
	}
	if cfg.NoData == 0 {
		return werr.InvalidField("nodata", "0 is a valid pixel value and cannot mark missing data")
	}
	return nil
}

// readConfigFile loads a dotenv-style file. A missing file is not an error
// unless required.
func readConfigFile(path string, required bool) (map[string]string, error) {
	path = expandHome(path)
	values, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return values, nil
}

// applyValues overlays dotenv-style keys onto cfg. Empty values are ignored.
func (cfg *Config) applyValues(get func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(get(key)); v != "" {
			*dst = v
		}
	}

	var base, project string
	str("WAPOR_WORKSPACE_BASE", &base)
	str("WAPOR_WORKSPACE_PROJECT", &project)
	if base != "" || project != "" {
		cfg.Workspace = naming.JoinPath(base, project)
	}
	str("WAPOR_LEVEL", &cfg.Level)
	str("WAPOR_BACKEND", &cfg.Backend)
	str("WAPOR_BACKEND_URL", &cfg.BackendURL)
	str("WAPOR_FIXTURES", &cfg.Fixtures)
	if v := strings.TrimSpace(get("WAPOR_CREDENTIAL_FILE")); v != "" {
		cfg.CredentialFile = v
		cfg.CredentialFileRequired = true
	}
	if creds := remote.CredentialsFromEnv(get); creds.ClientID != "" {
		cfg.Credentials = creds
	}
	str("WAPOR_ASSET_STORE", &cfg.AssetStore)
	str("WAPOR_S3_BUCKET", &cfg.S3Bucket)
	str("WAPOR_S3_PREFIX", &cfg.S3Prefix)
	str("AWS_REGION", &cfg.S3Region)
	str("WAPOR_S3_ENDPOINT", &cfg.S3Endpoint)
	str("CLICKHOUSE_ADDR_TCP", &cfg.ClickHouseAddr)
	str("CLICKHOUSE_DATABASE", &cfg.ClickHouseDatabase)
	str("CLICKHOUSE_USERNAME", &cfg.ClickHouseUsername)
	str("CLICKHOUSE_PASSWORD", &cfg.ClickHousePassword)
	str("CLICKHOUSE_TABLE", &cfg.ClickHouseTable)
	str("PUSHGATEWAY_URL", &cfg.PushgatewayURL)
	str("SENTRY_DSN", &cfg.SentryDSN)
	str("SENTRY_ENVIRONMENT", &cfg.SentryEnvironment)

	if v := get("CLICKHOUSE_SECURE"); v != "" {
		cfg.ClickHouseSecure = v == "true"
	}
	if v := strings.TrimSpace(get("WAPOR_NODATA")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return werr.InvalidField("nodata", "%q is not an integer", v)
		}
		cfg.NoData = n
	}
	return nil
}

func expandHome(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return path
}
