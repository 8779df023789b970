// Package cli implements the wapor command line: configuration loading,
// backend selection and dispatch of the composition pipelines.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/wapor/engine/pkg/ledger"
	"github.com/malbeclabs/wapor/engine/pkg/metrics"
	"github.com/malbeclabs/wapor/engine/pkg/naming"
	"github.com/malbeclabs/wapor/engine/pkg/pipeline"
	"github.com/malbeclabs/wapor/engine/pkg/werr"
	"github.com/malbeclabs/wapor/utils/pkg/logger"
)

const (
	defaultConfigFile     = "~/.wapor/config.env"
	defaultCredentialFile = "~/.wapor/serviceaccount.json"
)

// Env is the process environment the CLI runs against.
type Env struct {
	Stdout io.Writer
	Stderr io.Writer
	Getenv func(string) string
}

// invocation is one parsed command line.
type invocation struct {
	command    string
	year       int
	resolution naming.Resolution
	component  string
}

// runFunc executes a planned command against a pipeline.
type runFunc func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.Result, error)

// A command plans without touching the backend so that naming and
// configuration errors surface before any remote call.
type command struct {
	resolution naming.Resolution
	plan       func(cfg *Config, inv invocation) (runFunc, error)
}

var commands = map[string]command{
	"eti":    {resolution: naming.Dekadal, plan: planETI},
	"aet":    {resolution: naming.Annual, plan: planAnnualComposite},
	"common": {resolution: naming.Annual, plan: planAnnual},
	"gbwp":   {resolution: naming.Annual, plan: planGBWP},
}

func usage(fs *flag.FlagSet, w io.Writer) func() {
	return func() {
		fmt.Fprintf(w, "Usage: wapor [flags] <eti|aet|common|gbwp> <year> <resolution> <component>\n\n")
		fs.SetOutput(w)
		fs.PrintDefaults()
	}
}

// Run parses args, builds the pipeline and executes one command. The result
// document is written to env.Stdout whenever the pipeline produced one.
func Run(ctx context.Context, args []string, env Env) error {
	fs := flag.NewFlagSet("wapor", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = usage(fs, env.Stderr)

	verboseFlag := fs.StringP("verbose", "v", "INFO", "log level: DEBUG, INFO, WARN or ERROR")
	configFileFlag := fs.String("config-file", defaultConfigFile, "dotenv file with WAPOR_* settings")
	credentialFileFlag := fs.String("credential-file", defaultCredentialFile, "service account JSON for the backend (or set WAPOR_CREDENTIAL_FILE env var)")

	workspaceFlag := fs.String("workspace", "", "asset workspace root (or set WAPOR_WORKSPACE_BASE and WAPOR_WORKSPACE_PROJECT env vars)")
	levelFlag := fs.StringP("level", "l", "", "level of the data: L1, L2 or L3 (or set WAPOR_LEVEL env var)")
	backendFlag := fs.String("backend", BackendRemote, "geospatial backend: remote or memory (or set WAPOR_BACKEND env var)")
	backendURLFlag := fs.String("backend-url", "", "base URL of the remote backend (or set WAPOR_BACKEND_URL env var)")
	fixturesFlag := fs.String("fixtures", "", "JSON fixtures for the memory backend (or set WAPOR_FIXTURES env var)")

	dekadFlag := fs.IntSlice("dekad", nil, "dekads to export for eti, 1-36 (default all)")
	toAssetFlag := fs.Bool("to-asset", true, "submit exports; --to-asset=false computes without exporting")
	intermediateFlag := fs.Bool("intermediate", false, "list intermediate join stages in the result")
	nodataFlag := fs.Int("nodata", -9999, "NoData value of int32 exports (or set WAPOR_NODATA env var)")
	progressFlag := fs.Bool("progress", false, "show an export progress bar on stderr")

	assetStoreFlag := fs.String("asset-store", AssetStoreRemote, "where exports land: remote or s3 (or set WAPOR_ASSET_STORE env var)")
	s3BucketFlag := fs.String("s3-bucket", "", "bucket for the s3 asset store (or set WAPOR_S3_BUCKET env var)")
	s3PrefixFlag := fs.String("s3-prefix", "", "key prefix for the s3 asset store (or set WAPOR_S3_PREFIX env var)")
	s3RegionFlag := fs.String("s3-region", "", "AWS region (or set AWS_REGION env var)")
	s3EndpointFlag := fs.String("s3-endpoint", "", "endpoint of an S3-compatible store (or set WAPOR_S3_ENDPOINT env var)")

	clickhouseAddrFlag := fs.String("clickhouse-addr", "", "ClickHouse address (host:port) for the run ledger (or set CLICKHOUSE_ADDR_TCP env var)")
	clickhouseDatabaseFlag := fs.String("clickhouse-database", "default", "ClickHouse database name (or set CLICKHOUSE_DATABASE env var)")
	clickhouseUsernameFlag := fs.String("clickhouse-username", "default", "ClickHouse username (or set CLICKHOUSE_USERNAME env var)")
	clickhousePasswordFlag := fs.String("clickhouse-password", "", "ClickHouse password (or set CLICKHOUSE_PASSWORD env var)")
	clickhouseSecureFlag := fs.Bool("clickhouse-secure", false, "Enable TLS for ClickHouse Cloud (or set CLICKHOUSE_SECURE=true env var)")
	clickhouseTableFlag := fs.String("clickhouse-table", ledger.DefaultTable, "run ledger table (or set CLICKHOUSE_TABLE env var)")

	pushgatewayFlag := fs.String("pushgateway-url", "", "Prometheus Pushgateway to push run metrics to (or set PUSHGATEWAY_URL env var)")
	sentryDSNFlag := fs.String("sentry-dsn", "", "Sentry DSN for error reporting (or set SENTRY_DSN env var)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return werr.InvalidField("flags", "%v", err)
	}

	log := logger.NewWithWriter(env.Stderr, logger.ParseLevel(*verboseFlag))

	cfg := &Config{
		Backend:            BackendRemote,
		AssetStore:         AssetStoreRemote,
		CredentialFile:     defaultCredentialFile,
		ToAsset:            true,
		NoData:             -9999,
		ClickHouseDatabase: "default",
		ClickHouseUsername: "default",
		ClickHouseTable:    ledger.DefaultTable,
	}

	// file < environment < flags
	fileValues, err := readConfigFile(*configFileFlag, fs.Changed("config-file"))
	if err != nil {
		return err
	}
	if err := cfg.applyValues(func(k string) string { return fileValues[k] }); err != nil {
		return err
	}
	if err := cfg.applyValues(env.Getenv); err != nil {
		return err
	}

	setString := func(name string, src, dst *string) {
		if fs.Changed(name) {
			*dst = *src
		}
	}
	setString("workspace", workspaceFlag, &cfg.Workspace)
	setString("level", levelFlag, &cfg.Level)
	setString("backend", backendFlag, &cfg.Backend)
	setString("backend-url", backendURLFlag, &cfg.BackendURL)
	setString("fixtures", fixturesFlag, &cfg.Fixtures)
	if fs.Changed("credential-file") {
		cfg.CredentialFile = *credentialFileFlag
		cfg.CredentialFileRequired = true
	}
	setString("asset-store", assetStoreFlag, &cfg.AssetStore)
	setString("s3-bucket", s3BucketFlag, &cfg.S3Bucket)
	setString("s3-prefix", s3PrefixFlag, &cfg.S3Prefix)
	setString("s3-region", s3RegionFlag, &cfg.S3Region)
	setString("s3-endpoint", s3EndpointFlag, &cfg.S3Endpoint)
	setString("clickhouse-addr", clickhouseAddrFlag, &cfg.ClickHouseAddr)
	setString("clickhouse-database", clickhouseDatabaseFlag, &cfg.ClickHouseDatabase)
	setString("clickhouse-username", clickhouseUsernameFlag, &cfg.ClickHouseUsername)
	setString("clickhouse-password", clickhousePasswordFlag, &cfg.ClickHousePassword)
	setString("clickhouse-table", clickhouseTableFlag, &cfg.ClickHouseTable)
	setString("pushgateway-url", pushgatewayFlag, &cfg.PushgatewayURL)
	setString("sentry-dsn", sentryDSNFlag, &cfg.SentryDSN)
	if fs.Changed("clickhouse-secure") {
		cfg.ClickHouseSecure = *clickhouseSecureFlag
	}
	if fs.Changed("nodata") {
		cfg.NoData = *nodataFlag
	}
	cfg.Dekads = *dekadFlag
	cfg.ToAsset = *toAssetFlag
	cfg.Intermediate = *intermediateFlag
	cfg.Progress = *progressFlag

	inv, err := parseInvocation(fs.Args())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(cfg.Dekads) > 0 && inv.command != "eti" {
		return werr.InvalidField("dekad", "only applies to eti")
	}
	run, err := commands[inv.command].plan(cfg, inv)
	if err != nil {
		return err
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.SentryEnvironment,
		}); err != nil {
			log.Warn("cli: failed to initialize sentry", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	err = execute(ctx, log, cfg, inv, run, env)
	if err != nil && cfg.SentryDSN != "" {
		sentry.CaptureException(err)
	}
	return err
}

func parseInvocation(args []string) (invocation, error) {
	if len(args) != 4 {
		return invocation{}, werr.InvalidField("arguments", "expected <command> <year> <resolution> <component>, got %d arguments", len(args))
	}
	name := strings.ToLower(args[0])
	cmd, ok := commands[name]
	if !ok {
		return invocation{}, werr.InvalidField("command", "unknown command %q", args[0])
	}
	year, err := strconv.Atoi(args[1])
	if err != nil {
		return invocation{}, werr.InvalidField("year", "%q is not a year", args[1])
	}
	res, err := naming.ParseResolution(args[2])
	if err != nil {
		return invocation{}, err
	}
	if res != cmd.resolution {
		return invocation{}, werr.InvalidField("temporal_resolution", "%s requires %s, got %s", name, cmd.resolution.Code(), res.Code())
	}
	component := strings.ToUpper(strings.TrimSpace(args[3]))
	if component == "" {
		return invocation{}, werr.MissingField("component")
	}
	return invocation{command: name, year: year, resolution: res, component: component}, nil
}

func execute(ctx context.Context, log *slog.Logger, cfg *Config, inv invocation, run runFunc, env Env) error {
	span := sentry.StartSpan(ctx, "wapor.run", sentry.WithDescription(fmt.Sprintf("%s %d %s", inv.command, inv.year, inv.component)))
	defer span.Finish()
	ctx = span.Context()

	gb, closeBackend, err := openBackend(ctx, log, cfg)
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		return err
	}
	defer closeBackend()

	var bar *progressbar.ProgressBar
	pcfg := pipeline.Config{
		Logger:  log,
		Backend: gb,
		Export: pipeline.ExportOptions{
			DryRun:       !cfg.ToAsset,
			Intermediate: cfg.Intermediate,
			NoData:       int32(cfg.NoData),
		},
	}
	if cfg.Progress {
		pcfg.Progress = func(done, total int) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetWriter(env.Stderr),
					progressbar.OptionSetDescription(fmt.Sprintf("Exporting %s", inv.component)),
					progressbar.OptionShowCount(),
				)
			}
			_ = bar.Set(done)
		}
	}
	p, err := pipeline.New(pcfg)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	log.Info("cli: running", "command", inv.command, "year", inv.year, "component", inv.component, "level", cfg.Level, "to_asset", cfg.ToAsset)
	res, runErr := run(ctx, p)
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(env.Stderr)
	}
	if runErr != nil {
		span.Status = sentry.SpanStatusInternalError
	} else {
		span.Status = sentry.SpanStatusOK
	}

	if res != nil {
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		fmt.Fprintln(env.Stdout, string(out))
		recordRun(ctx, log, cfg, inv, res)
	}
	pushMetrics(ctx, log, cfg, inv)

	if runErr != nil {
		return runErr
	}
	if res != nil && len(res.Errors) > 0 {
		return fmt.Errorf("%s %d %s: %w", inv.command, inv.year, inv.component, werr.ErrCardinality)
	}
	return nil
}

func planETI(cfg *Config, inv invocation) (runFunc, error) {
	r, err := naming.NewCompositeResolver(cfg.Workspace, cfg.Level)
	if err != nil {
		return nil, err
	}
	plan, err := pipeline.PlanETI(r, inv.component, inv.year, cfg.Dekads...)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.Result, error) {
		return p.ETI(ctx, plan)
	}, nil
}

func planAnnualComposite(cfg *Config, inv invocation) (runFunc, error) {
	r, err := naming.NewCompositeResolver(cfg.Workspace, cfg.Level)
	if err != nil {
		return nil, err
	}
	plan, err := pipeline.PlanAnnualComposite(r, inv.component, inv.year)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.Result, error) {
		return p.AnnualComposite(ctx, plan)
	}, nil
}

func planAnnual(cfg *Config, inv invocation) (runFunc, error) {
	r, err := naming.NewResolver(cfg.Workspace, cfg.Level)
	if err != nil {
		return nil, err
	}
	plan, err := pipeline.PlanAnnual(r, inv.component, inv.year)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.Result, error) {
		return p.Annual(ctx, plan)
	}, nil
}

func planGBWP(cfg *Config, inv invocation) (runFunc, error) {
	r, err := naming.NewResolver(cfg.Workspace, cfg.Level)
	if err != nil {
		return nil, err
	}
	plan, err := pipeline.PlanGBWP(r, inv.component, inv.year)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.Result, error) {
		return p.GBWP(ctx, plan)
	}, nil
}

// recordRun writes the result to the ClickHouse ledger when one is
// configured. Ledger failures never fail the run.
func recordRun(ctx context.Context, log *slog.Logger, cfg *Config, inv invocation, res *pipeline.Result) {
	if cfg.ClickHouseAddr == "" {
		return
	}
	client, err := ledger.NewClient(ctx, log, ledger.ClientConfig{
		Addr:     cfg.ClickHouseAddr,
		Database: cfg.ClickHouseDatabase,
		Username: cfg.ClickHouseUsername,
		Password: cfg.ClickHousePassword,
		Secure:   cfg.ClickHouseSecure,
	})
	if err != nil {
		log.Warn("cli: ledger unavailable", "error", err)
		return
	}
	defer client.Close()

	w, err := ledger.NewWriter(ledger.Config{Logger: log, Client: client, Table: cfg.ClickHouseTable})
	if err != nil {
		log.Warn("cli: ledger unavailable", "error", err)
		return
	}
	if err := w.EnsureSchema(ctx); err != nil {
		log.Warn("cli: failed to ensure ledger schema", "error", err)
		return
	}
	run := ledger.Run{
		ID:        uuid.New(),
		Product:   inv.command,
		Level:     cfg.Level,
		Component: inv.component,
		Year:      inv.year,
		Result:    res,
	}
	if err := w.RecordRun(ctx, run); err != nil {
		log.Warn("cli: failed to record run", "run_id", run.ID, "error", err)
	}
}

func pushMetrics(ctx context.Context, log *slog.Logger, cfg *Config, inv invocation) {
	if cfg.PushgatewayURL == "" {
		return
	}
	grouping := map[string]string{"command": inv.command, "component": inv.component, "level": cfg.Level}
	if err := metrics.Push(ctx, cfg.PushgatewayURL, "wapor", grouping); err != nil {
		log.Warn("cli: failed to push metrics", "error", err)
	}
}
