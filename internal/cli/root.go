// Package cli implements the doseplan commands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"dosecore/internal/config"
	"dosecore/internal/core"
	"dosecore/internal/infra/persistence/memory"
	"dosecore/internal/logging"
	"dosecore/internal/storage"
	"dosecore/internal/supply"
	"dosecore/pkg/domain"
)

// app carries the state shared by every command of one invocation.
type app struct {
	dbPath     string
	configPath string
	traceFile  string
	metrics    bool

	stdout io.Writer
	stderr io.Writer

	cfg      config.Config
	logger   zerolog.Logger
	registry *prometheus.Registry
	tracer   *core.JSONTraceTracer
	traceOut *os.File
	svc      *core.Service
}

// NewRootCmd builds the command tree writing to stdout and stderr.
func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	return newRoot(&app{stdout: stdout, stderr: stderr})
}

func newRoot(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "doseplan",
		Short:         "Reconstitution dosing, supply planning and protocol management",
		Long:          "Calculates syringe draws, projects vial supply and manages validated dosing protocols. Output is JSON.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.dbPath, "db", "d", "", "SQLite database path (overrides config and $"+config.EnvSQLitePath+")")
	flags.StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	flags.BoolVar(&a.metrics, "metrics", false, "Dump Prometheus metrics to stderr after the command")
	flags.StringVar(&a.traceFile, "trace-file", "", "Append JSON trace spans to this file")

	root.AddCommand(
		newCalcCmd(a),
		newSupplyCmd(a),
		newUrgencyCmd(a),
		newDevicesCmd(a),
		newProtocolCmd(a),
	)
	root.PersistentPostRunE = func(*cobra.Command, []string) error { return a.close() }
	return root
}

// Execute runs args against a fresh command tree. Resources are released
// even when the command fails.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{stdout: stdout, stderr: stderr}
	root := newRoot(a)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return err
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.Storage.Driver = storage.DriverSQLite
		cfg.Storage.SQLitePath = a.dbPath
	}
	a.cfg = cfg

	logCfg := logging.DefaultConfig(logging.ProfileRuntime)
	logCfg.Overlay(cfg.Log.Level, cfg.Log.Timestamp, cfg.Log.NoColor)
	logCfg.ApplyEnv(os.LookupEnv)
	a.logger = logging.New(a.stderr, logCfg)

	if a.traceFile != "" {
		// #nosec G304 -- path comes from the operator
		f, err := os.OpenFile(a.traceFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open trace file: %w", err)
		}
		a.traceOut = f
		a.tracer = core.NewJSONTracer(f)
	}
	if a.metrics {
		a.registry = prometheus.NewRegistry()
	}
	return nil
}

// service opens the configured store (or a throwaway in-memory one when
// persistent is false) and starts the protocol service on it.
func (a *app) service(ctx context.Context, persistent bool) (*core.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	var store domain.ProtocolStore = memory.NewStore()
	if persistent {
		s, err := storage.Open(ctx, a.cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		store = s
	}
	limits, err := a.cfg.Limits()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	calc := a.cfg.Calculator()
	opts := []core.Option{
		core.WithLogger(logging.NewAdapter(a.logger)),
		core.WithAuditRecorder(logging.NewAuditRecorder(a.logger)),
		core.WithCalculator(calc),
		core.WithPlanner(supply.NewPlanner(calc, a.cfg.Thresholds())),
		core.WithLimits(limits),
	}
	if a.tracer != nil {
		opts = append(opts, core.WithTracer(a.tracer))
	}
	if a.registry != nil {
		rec, err := core.NewPrometheusMetricsRecorder(a.registry)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		opts = append(opts, core.WithMetricsRecorder(rec))
	}
	a.svc = core.NewService(store, opts...)
	return a.svc, nil
}

func (a *app) close() error {
	var errs []error
	if a.svc != nil {
		errs = append(errs, a.svc.Close())
		a.svc = nil
	}
	if a.registry != nil {
		families, err := a.registry.Gather()
		if err != nil {
			errs = append(errs, fmt.Errorf("gather metrics: %w", err))
		} else {
			errs = append(errs, writeMetrics(a.stderr, families))
		}
		a.registry = nil
	}
	if a.traceOut != nil {
		errs = append(errs, a.traceOut.Close())
		a.traceOut = nil
	}
	return errors.Join(errs...)
}

func writeMetrics(w io.Writer, families []*dto.MetricFamily) error {
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}
	}
	return nil
}

func (a *app) writeJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseFrequency accepts a preset pattern name or a comma separated list of
// weekdays for a custom schedule.
func parseFrequency(pattern, days string) (domain.FrequencySchedule, error) {
	if strings.TrimSpace(days) != "" {
		var weekdays []time.Weekday
		for _, raw := range strings.Split(days, ",") {
			d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(raw))]
			if !ok {
				return domain.FrequencySchedule{}, fmt.Errorf("unknown weekday %q", raw)
			}
			weekdays = append(weekdays, d)
		}
		return domain.CustomSchedule(weekdays...), nil
	}
	sched, ok := domain.FrequencyFor(domain.FrequencyPattern(strings.ToLower(strings.TrimSpace(pattern))))
	if !ok {
		return domain.FrequencySchedule{}, fmt.Errorf("unknown frequency %q", pattern)
	}
	return sched, nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}
