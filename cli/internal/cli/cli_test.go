package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/wapor/cli/internal/cli"
	"github.com/malbeclabs/wapor/engine/pkg/backend"
	"github.com/malbeclabs/wapor/engine/pkg/naming"
	"github.com/malbeclabs/wapor/engine/pkg/pipeline"
	"github.com/malbeclabs/wapor/engine/pkg/werr"
)

const testYear = 2016

type harness struct {
	dir    string
	env    map[string]string
	stdout bytes.Buffer
	stderr bytes.Buffer
}

// newHarness writes a memory backend fixture holding n dekads of each
// component and a config file pointing at it.
func newHarness(t *testing.T, n int, components ...string) *harness {
	t.Helper()
	h := &harness{dir: t.TempDir(), env: map[string]string{}}

	fixtures := map[string][]backend.Image{}
	for _, c := range components {
		id := naming.JoinPath("projects/wapor/assets", "L1", "L1_"+c+"_D")
		for d := 1; d <= n; d++ {
			start, err := naming.DekadStart(testYear, d)
			require.NoError(t, err)
			days, err := naming.DekadDays(testYear, d)
			require.NoError(t, err)
			fixtures[id] = append(fixtures[id], backend.Image{
				ID:         naming.DekadImageID("L1_"+c+"_16", d),
				Timestamp:  start.UnixMilli(),
				Bands:      []backend.Band{{Name: backend.DefaultBand, Data: []float64{10, 20}}},
				Properties: map[string]any{"n_days_extent": float64(days)},
			})
		}
	}
	raw, err := json.Marshal(fixtures)
	require.NoError(t, err)
	fixturesPath := filepath.Join(h.dir, "fixtures.json")
	require.NoError(t, os.WriteFile(fixturesPath, raw, 0o600))

	h.writeConfig(t,
		"WAPOR_WORKSPACE_BASE=projects/wapor",
		"WAPOR_WORKSPACE_PROJECT=assets",
		"WAPOR_LEVEL=L1",
		"WAPOR_BACKEND=memory",
		"WAPOR_FIXTURES="+fixturesPath,
	)
	return h
}

func (h *harness) configPath() string { return filepath.Join(h.dir, "config.env") }

func (h *harness) writeConfig(t *testing.T, lines ...string) {
	t.Helper()
	require.NoError(t, os.WriteFile(h.configPath(), []byte(strings.Join(lines, "\n")+"\n"), 0o600))
}

func (h *harness) run(args ...string) error {
	args = append([]string{"--config-file", h.configPath()}, args...)
	return cli.Run(context.Background(), args, cli.Env{
		Stdout: &h.stdout,
		Stderr: &h.stderr,
		Getenv: func(k string) string { return h.env[k] },
	})
}

func (h *harness) result(t *testing.T) pipeline.Result {
	t.Helper()
	var res pipeline.Result
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &res), h.stdout.String())
	return res
}

func TestWapor_CLI_Run(t *testing.T) {
	t.Parallel()

	t.Run("annual sum is exported and reported", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 36, "E")

		require.NoError(t, h.run("common", "2016", "A", "E"))

		res := h.result(t)
		require.Empty(t, res.Errors)
		require.Len(t, res.Tasks, 1)
		require.Contains(t, res.Tasks, "projects/wapor/assets/L1/L1_E_A/L1_E_16")
		require.Len(t, res.Outputs, 1)
		require.Equal(t, "L1_E_16", res.Outputs[0].Name)
	})

	t.Run("to-asset false computes without exporting", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 36, "E")

		require.NoError(t, h.run("--to-asset=false", "common", "2016", "annual", "e"))

		res := h.result(t)
		require.Empty(t, res.Tasks)
		require.Equal(t, []string{"projects/wapor/assets/L1/L1_E_A/L1_E_16"}, res.Outputs[0].AssetIDs)
	})

	t.Run("eti exports the selected dekads", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 36, "E", "T", "I")

		require.NoError(t, h.run("--dekad", "1,2", "eti", "2016", "D", "ETI"))

		res := h.result(t)
		require.Empty(t, res.Errors)
		require.Len(t, res.Tasks, 2)
		require.Contains(t, res.Tasks, "projects/wapor/assets/L1/L1_ETI_D/L1_ETI_1601")
		require.Contains(t, res.Tasks, "projects/wapor/assets/L1/L1_ETI_D/L1_ETI_1602")
	})

	t.Run("incomplete year prints the report and fails", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 30, "E")

		err := h.run("common", "2016", "A", "E")
		require.ErrorIs(t, err, werr.ErrCardinality)

		res := h.result(t)
		require.Empty(t, res.Tasks)
		require.Equal(t, "Collection L1_E_D has size 30 while it should be 36", res.Errors["1"])
	})

	t.Run("environment overrides the config file", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 36, "E")
		h.env["WAPOR_LEVEL"] = "L1"
		raw, err := os.ReadFile(h.configPath())
		require.NoError(t, err)
		h.writeConfig(t, strings.Replace(string(raw), "WAPOR_LEVEL=L1", "WAPOR_LEVEL=L2", 1))

		require.NoError(t, h.run("common", "2016", "A", "E"))
		require.Len(t, h.result(t).Tasks, 1)
	})

	t.Run("flags override the environment", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 36, "E")
		h.env["WAPOR_LEVEL"] = "L2"

		require.NoError(t, h.run("--level", "L1", "common", "2016", "A", "E"))
		require.Len(t, h.result(t).Tasks, 1)
	})
}

func TestWapor_CLI_Errors(t *testing.T) {
	t.Parallel()

	t.Run("missing workspace is a configuration error", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 36, "E")
		h.writeConfig(t, "WAPOR_LEVEL=L1", "WAPOR_BACKEND=memory", "WAPOR_FIXTURES=unused.json")

		err := h.run("common", "2016", "A", "E")
		require.ErrorIs(t, err, werr.ErrConfig)
		require.ErrorContains(t, err, "workspace")
		require.Empty(t, h.stdout.String())
	})

	t.Run("wrong resolution for the command is rejected", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 36, "E")

		err := h.run("eti", "2016", "A", "ETI")
		require.ErrorIs(t, err, werr.ErrConfig)
		require.ErrorContains(t, err, "temporal_resolution")
	})

	t.Run("unknown command is rejected", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 36, "E")

		err := h.run("seasonal", "2016", "S", "E")
		require.ErrorIs(t, err, werr.ErrConfig)
	})

	t.Run("dekad selection only applies to eti", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 36, "E")

		err := h.run("--dekad", "3", "common", "2016", "A", "E")
		require.ErrorIs(t, err, werr.ErrConfig)
	})

	t.Run("out of range dekad is rejected", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 36, "E", "T", "I")

		err := h.run("--dekad", "37", "eti", "2016", "D", "ETI")
		require.ErrorIs(t, err, werr.ErrConfig)
	})

	t.Run("explicit config file must exist", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 36, "E")
		require.NoError(t, os.Remove(h.configPath()))

		err := h.run("common", "2016", "A", "E")
		require.ErrorContains(t, err, "failed to read config file")
	})

	t.Run("naming errors fail before the remote backend is contacted", func(t *testing.T) {
		t.Parallel()
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
		}))
		t.Cleanup(srv.Close)

		remoteConfig := func(h *harness) {
			h.writeConfig(t,
				"WAPOR_WORKSPACE_BASE=projects/wapor",
				"WAPOR_WORKSPACE_PROJECT=assets",
				"WAPOR_LEVEL=L1",
				"WAPOR_BACKEND=remote",
				"WAPOR_BACKEND_URL="+srv.URL,
			)
			h.env["WAPOR_CLIENT_ID"] = "client"
			h.env["WAPOR_CLIENT_SECRET"] = "secret"
			h.env["WAPOR_TOKEN_URL"] = srv.URL + "/token"
		}

		for _, args := range [][]string{
			{"eti", "16", "D", "ETI"},
			{"eti", "2016", "D", "EE"},
			{"aet", "2016", "A", "AET1"},
		} {
			h := newHarness(t, 0)
			remoteConfig(h)

			err := h.run(args...)
			require.ErrorIs(t, err, werr.ErrConfig, strings.Join(args, " "))
			require.Empty(t, h.stdout.String())
		}
		require.Zero(t, hits.Load())

		h := newHarness(t, 0)
		remoteConfig(h)
		require.Error(t, h.run("common", "2016", "A", "E"))
		require.NotZero(t, hits.Load())
	})

	t.Run("missing collection surfaces as not found", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 36, "T")

		err := h.run("common", "2016", "A", "E")
		require.ErrorIs(t, err, werr.ErrNotFound)
	})
}
