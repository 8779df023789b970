package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/malbeclabs/wapor/engine/pkg/werr"
	"github.com/malbeclabs/wapor/utils/pkg/retry"
)

const (
	defaultTimeout           = 60 * time.Second
	defaultRequestsPerSecond = 10
	defaultBurst             = 5

	envClientID     = "WAPOR_CLIENT_ID"
	envClientSecret = "WAPOR_CLIENT_SECRET"
	envTokenURL     = "WAPOR_TOKEN_URL"
	envScopes       = "WAPOR_SCOPES"
)

// Credentials identify a service account for the OAuth2 client-credentials
// flow.
type Credentials struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	TokenURL     string   `json:"token_uri"`
	Scopes       []string `json:"scopes,omitempty"`
}

func (c Credentials) Validate() error {
	if c.ClientID == "" {
		return werr.MissingField("client_id")
	}
	if c.ClientSecret == "" {
		return werr.MissingField("client_secret")
	}
	if c.TokenURL == "" {
		return werr.MissingField("token_uri")
	}
	return nil
}

// CredentialsFromEnv reads WAPOR_CLIENT_ID, WAPOR_CLIENT_SECRET,
// WAPOR_TOKEN_URL and the comma-separated WAPOR_SCOPES through getenv,
// usually os.Getenv.
func CredentialsFromEnv(getenv func(string) string) Credentials {
	c := Credentials{
		ClientID:     getenv(envClientID),
		ClientSecret: getenv(envClientSecret),
		TokenURL:     getenv(envTokenURL),
	}
	for _, s := range strings.Split(getenv(envScopes), ",") {
		if s = strings.TrimSpace(s); s != "" {
			c.Scopes = append(c.Scopes, s)
		}
	}
	return c
}

// LoadCredentials reads a service account JSON file.
func LoadCredentials(path string) (Credentials, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read credential file: %w", err)
	}
	var c Credentials
	if err := json.Unmarshal(raw, &c); err != nil {
		return Credentials{}, werr.InvalidField("credential_file", "%s is not valid JSON: %v", path, err)
	}
	if err := c.Validate(); err != nil {
		return Credentials{}, err
	}
	return c, nil
}

type Config struct {
	Logger      *slog.Logger
	BaseURL     string
	Credentials Credentials

	// HTTPClient is the base client for token and API requests.
	HTTPClient *http.Client
	Timeout    time.Duration

	RequestsPerSecond float64
	Burst             int

	// Retry covers transient transport failures only.
	Retry retry.Config
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.BaseURL == "" {
		return werr.MissingField("backend_url")
	}
	if err := cfg.Credentials.Validate(); err != nil {
		return err
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}
