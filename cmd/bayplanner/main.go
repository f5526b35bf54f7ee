// Command bayplanner schedules manufacturing bays and team capacity from the
// command line.
package main

import (
	"bayplanner/internal/blob"
	"bayplanner/internal/config"
	"bayplanner/internal/core"
	"bayplanner/pkg/domain"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var exitFunc = os.Exit

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		exitFunc(1)
	}
}

// run executes one CLI invocation and releases its store even when the
// command fails.
func run(ctx context.Context, args []string, out io.Writer) error {
	root, a := newRootCmd(out)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return err
}

// app carries the flags and lazily opened dependencies shared by every
// subcommand of one invocation.
type app struct {
	out io.Writer

	configPath string
	verbose    bool
	jsonOut    bool
	now        string
	storage    string
	db         string

	cfg      *config.Config
	logger   *zap.Logger
	store    core.PersistentStore
	svc      *core.Service
	archive  *core.BlobJournalArchive
	expvar   *core.ExpvarMetricsRecorder
	registry *prometheus.Registry
}

func newRootCmd(out io.Writer) (*cobra.Command, *app) {
	a := &app{out: out}
	root := &cobra.Command{
		Use:   "bayplanner",
		Short: "Manufacturing bay and team capacity scheduler",
		Long: `bayplanner keeps a floor schedule of projects booked into bays.

Durable edits go through seed files; what-if edits are staged in a per-user
sandbox and committed atomically.`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.init()
		},
	}
	root.SetOut(out)
	root.SetErr(out)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "bayplanner.yaml", "configuration file")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVar(&a.jsonOut, "json", false, "print results as JSON")
	flags.StringVar(&a.now, "now", "", "pin today's date (YYYY-MM-DD)")
	flags.StringVar(&a.storage, "storage", "", "storage driver override (memory|sqlite|postgres)")
	flags.StringVar(&a.db, "db", "", "sqlite path or postgres DSN override")

	root.AddCommand(
		newSeedCmd(a),
		newStateCmd(a),
		newUtilizationCmd(a),
		newOverviewCmd(a),
		newTeamsCmd(a),
		newCapacityCmd(a),
		newWeekdaysCmd(a),
		newSandboxDemoCmd(a),
		newJournalsCmd(a),
	)
	return root, a
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.storage != "" {
		cfg.Storage.Driver = a.storage
	}
	a.cfg = cfg

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel())
	if a.verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	if cfg.Logging.Format != "" {
		zcfg.Encoding = cfg.Logging.Format
	}
	if zcfg.Encoding == "console" {
		zcfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	logger, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger
	return nil
}

// service opens the store and builds the service on first use.
func (a *app) service(ctx context.Context) (*core.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	opts := []core.ServiceOption{core.WithLogger(core.NewZapLogger(a.logger))}
	if a.now != "" {
		pinned, ok := domain.ParseDate(a.now)
		if !ok {
			return nil, fmt.Errorf("invalid --now %q", a.now)
		}
		opts = append(opts, core.WithClock(core.ClockFunc(func() time.Time { return pinned })))
	}

	switch a.cfg.Metrics.Exporter {
	case "expvar":
		a.expvar = core.NewExpvarMetricsRecorder("")
		opts = append(opts, core.WithMetricsRecorder(a.expvar))
	case "prometheus":
		a.registry = prometheus.NewRegistry()
		rec, err := core.NewPrometheusMetricsRecorder(a.registry, a.cfg.Metrics.Namespace)
		if err != nil {
			return nil, err
		}
		opts = append(opts, core.WithMetricsRecorder(rec))
	}
	if a.verbose {
		opts = append(opts, core.WithTracer(core.NewJSONTracer(os.Stderr)))
	}

	if a.cfg.Journal.Enabled {
		bs, err := blob.OpenWith(ctx, a.cfg.BlobOptions())
		if err != nil {
			return nil, fmt.Errorf("open journal archive: %w", err)
		}
		a.archive = core.NewBlobJournalArchive(bs, a.cfg.Journal.Prefix)
		opts = append(opts, core.WithJournalArchive(a.archive))
	}

	target := a.db
	if target == "" {
		switch core.StorageDriver(a.cfg.Storage.Driver) {
		case core.StoragePostgres:
			target = a.cfg.Storage.PostgresDSN
		default:
			target = a.cfg.Storage.SQLitePath
		}
	}
	store, err := core.OpenStorage(core.StorageDriver(a.cfg.Storage.Driver), target, core.NewDefaultRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.store = store
	a.svc = core.NewService(store, opts...)
	a.logger.Debug("service ready", zap.String("storage", a.cfg.Storage.Driver), zap.String("target", target))
	return a.svc, nil
}

func (a *app) close() error {
	if a.logger == nil {
		return nil
	}
	a.logMetrics()
	var err error
	if c, ok := a.store.(io.Closer); ok {
		err = c.Close()
	}
	a.store, a.svc = nil, nil
	_ = a.logger.Sync()
	return err
}

func (a *app) logMetrics() {
	if a.expvar != nil {
		snap := a.expvar.Snapshot()
		a.logger.Debug("operation metrics", zap.String("expvar", a.expvar.Name()), zap.Any("results", snap.Results))
	}
	if a.registry != nil {
		families, err := a.registry.Gather()
		if err != nil {
			a.logger.Warn("gather metrics", zap.Error(err))
			return
		}
		for _, f := range families {
			a.logger.Debug("metric family", zap.String("name", f.GetName()), zap.Int("series", len(f.GetMetric())))
		}
	}
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.out, format, args...)
}
