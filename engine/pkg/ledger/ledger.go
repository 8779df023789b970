// Package ledger records pipeline runs in ClickHouse: one row per submitted
// export task and one per reported error, so operators can trace which run
// produced an asset.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/wapor/engine/pkg/metrics"
	"github.com/malbeclabs/wapor/engine/pkg/pipeline"
	"github.com/malbeclabs/wapor/engine/pkg/werr"
)

const DefaultTable = "wapor_run_ledger"

const (
	KindRun   = "run"
	KindTask  = "task"
	KindError = "error"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type Config struct {
	Logger *slog.Logger
	Client Client
	Table  string
	Clock  clockwork.Clock
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("clickhouse client is required")
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if !tableName.MatchString(cfg.Table) {
		return werr.InvalidField("clickhouse_table", "%q is not a valid table name", cfg.Table)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Run identifies a finished pipeline run.
type Run struct {
	ID        uuid.UUID
	Product   string
	Level     string
	Component string
	Year      int
	Result    *pipeline.Result
}

type Writer struct {
	log *slog.Logger
	cfg Config
}

func NewWriter(cfg Config) (*Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Writer{log: cfg.Logger, cfg: cfg}, nil
}

func (w *Writer) EnsureSchema(ctx context.Context) error {
	conn, err := w.cfg.Client.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id UUID,
	recorded_at DateTime64(3, 'UTC'),
	product LowCardinality(String),
	level LowCardinality(String),
	component LowCardinality(String),
	year UInt16,
	kind LowCardinality(String),
	key String,
	value String
) ENGINE = MergeTree
ORDER BY (run_id, kind, key)`, w.cfg.Table)
	if err := conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", w.cfg.Table, err)
	}
	return nil
}

type row struct {
	kind, key, value string
}

// RecordRun writes a summary row for run followed by its tasks and errors in
// key order. Rows are sent as one batch: either the whole run is recorded or
// none of it is.
func (w *Writer) RecordRun(ctx context.Context, run Run) error {
	if run.ID == uuid.Nil {
		return werr.MissingField("run_id")
	}
	if run.Result == nil {
		return werr.MissingField("result")
	}

	status := "ok"
	if len(run.Result.Errors) > 0 {
		status = "invalid"
	}
	rows := []row{{kind: KindRun, key: run.Product, value: status}}
	for _, k := range sortedKeys(run.Result.Tasks, false) {
		rows = append(rows, row{kind: KindTask, key: k, value: run.Result.Tasks[k]})
	}
	for _, k := range sortedKeys(run.Result.Errors, true) {
		rows = append(rows, row{kind: KindError, key: k, value: run.Result.Errors[k]})
	}

	conn, err := w.cfg.Client.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	now := w.cfg.Clock.Now().UTC()
	if err := w.insert(ContextWithSyncInsert(ctx), conn, run, now, rows); err != nil {
		metrics.LedgerWritesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	metrics.LedgerWritesTotal.WithLabelValues("ok").Inc()
	w.log.Info("ledger: run recorded", "run", run.ID, "product", run.Product, "rows", len(rows), "recorded_at", now.Format(time.RFC3339))
	return nil
}

// insert sends every row of a run in one batch.
func (w *Writer) insert(ctx context.Context, conn Connection, run Run, now time.Time, rows []row) error {
	batch, err := conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (run_id, recorded_at, product, level, component, year, kind, key, value)", w.cfg.Table))
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	defer batch.Close()

	for _, r := range rows {
		if err := batch.Append(run.ID, now, run.Product, run.Level, run.Component, uint16(run.Year), r.kind, r.key, r.value); err != nil {
			return fmt.Errorf("failed to append %s %s: %w", r.kind, r.key, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

func sortedKeys(m map[string]string, numeric bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if numeric {
			a, _ := strconv.Atoi(keys[i])
			b, _ := strconv.Atoi(keys[j])
			return a < b
		}
		return keys[i] < keys[j]
	})
	return keys
}
