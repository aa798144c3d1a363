// Package commands implements causage's CLI command handlers.
package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mqutaish96/causage"
	"github.com/mqutaish96/causage/internal/config"
	"github.com/mqutaish96/causage/internal/report"
	"github.com/mqutaish96/causage/internal/tracefmt"
)

// NewRunCommand builds the "causage run <trace-file>" command: load
// config, build a Simulator, feed it every reference in the trace file,
// then render the report.
func NewRunCommand() *cobra.Command {
	var (
		configPath     string
		d1Associativity int
		tablePath      string
		chartPath      string
		metricsPath    string
	)

	cmd := &cobra.Command{
		Use:   "run <trace-file>",
		Short: "Replay a reference trace and report cache behavior",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := config.New()
			if cmd.Flags().Changed("d1-associativity") {
				v.Set("d1.associativity", d1Associativity)
			}
			cfg, err := config.Load(v, configPath)
			if err != nil {
				return err
			}
			return runTrace(cmd.OutOrStdout(), cfg, args[0], tablePath, chartPath, metricsPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	cmd.Flags().IntVar(&d1Associativity, "d1-associativity", 0, "override the configured D1 associativity")
	cmd.Flags().StringVar(&tablePath, "table", "", "write the source-location table here instead of stdout")
	cmd.Flags().StringVar(&chartPath, "chart", "", "write an HTML utilization chart to this path")
	cmd.Flags().StringVar(&metricsPath, "metrics", "", "write an OpenMetrics snapshot to this path")

	return cmd
}

func runTrace(stdout io.Writer, cfg *config.Config, tracePath, tablePath, chartPath, metricsPath string) error {
	log := newLogger(cfg.Logging.Level)

	i1 := causage.GeometryConfig{SizeBytes: cfg.I1.SizeBytes, Associativity: cfg.I1.Associativity, LineSizeBytes: cfg.I1.LineSizeBytes}
	d1 := causage.GeometryConfig{SizeBytes: cfg.D1.SizeBytes, Associativity: cfg.D1.Associativity, LineSizeBytes: cfg.D1.LineSizeBytes}
	ll := causage.GeometryConfig{SizeBytes: cfg.LL.SizeBytes, Associativity: cfg.LL.Associativity, LineSizeBytes: cfg.LL.LineSizeBytes}

	opts := causage.Options{Logger: log}
	var debugFile *os.File
	if cfg.Debug.Enabled {
		var err error
		debugFile, err = os.Create(cfg.Debug.Path)
		if err != nil {
			return fmt.Errorf("causage run: open debug log: %w", err)
		}
		defer debugFile.Close()
		opts.DebugOut = debugFile
	}

	sim, err := causage.New(i1, d1, ll, opts)
	if err != nil {
		return fmt.Errorf("causage run: %w", err)
	}

	if err := feedTrace(sim, tracePath); err != nil {
		return err
	}
	sim.Finish()

	rows := report.Collect(sim)

	tableOut := stdout
	if tablePath != "" {
		f, err := os.Create(tablePath)
		if err != nil {
			return fmt.Errorf("causage run: open table output: %w", err)
		}
		defer f.Close()
		tableOut = f
	}
	report.WriteTable(tableOut, rows)

	if chartPath != "" {
		f, err := os.Create(chartPath)
		if err != nil {
			return fmt.Errorf("causage run: open chart output: %w", err)
		}
		defer f.Close()
		if err := report.WriteChart(f, report.BuildUtilizationChart(rows)); err != nil {
			return fmt.Errorf("causage run: write chart: %w", err)
		}
	}

	if metricsPath != "" {
		f, err := os.Create(metricsPath)
		if err != nil {
			return fmt.Errorf("causage run: open metrics output: %w", err)
		}
		defer f.Close()
		if err := report.WriteOpenMetrics(f, rows); err != nil {
			return fmt.Errorf("causage run: write metrics: %w", err)
		}
	}

	return nil
}

func feedTrace(sim *causage.Simulator, tracePath string) error {
	f, err := os.Open(tracePath)
	if err != nil {
		return fmt.Errorf("causage run: open trace: %w", err)
	}
	defer f.Close()

	r, err := tracefmt.NewReader(f)
	if err != nil {
		return fmt.Errorf("causage run: open trace reader: %w", err)
	}
	defer r.Close()

	for {
		ev, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("causage run: %w", err)
		}

		if ev.Kind == tracefmt.InstrFetch {
			if sim.IsInstrNoXEligible(ev.Addr, ev.Size) {
				sim.InstrRefNoX(ev.Addr, ev.Size)
			} else {
				sim.InstrRef(ev.Addr, ev.Size)
			}
			continue
		}

		cb := sim.Intern(causage.SourceLoc{File: ev.File, Function: ev.Function, Line: ev.Line})
		kind := causage.DataRead
		if ev.Kind == tracefmt.DataWrite {
			kind = causage.DataWrite
		}
		sim.DataRef(ev.Addr, ev.Size, kind, cb, ev.Line)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
