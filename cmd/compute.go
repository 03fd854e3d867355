package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geocontext/internal/dataset"
	"github.com/sells-group/geocontext/internal/geocontext"
	"github.com/sells-group/geocontext/internal/job"
	"github.com/sells-group/geocontext/internal/store"
	"github.com/sells-group/geocontext/internal/table"
)

var computeCmd = &cobra.Command{
	Use:   "compute",
	Short: "Compute neighborhood context for a points table",
	Long: "Reads a points table and a locations table, computes the radius and group shares for " +
		"each k-value, and writes the points table with the context columns appended.",
	Example: `  geocontext compute --points schools.csv --locations grid.shp --population pop \
      --group foreign --group native --k 500 --k 1000 --output schools_ctx.xlsx
  geocontext compute --job stockholm.yaml --persist`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("compute"); err != nil {
			return err
		}

		j, err := jobFromFlags(cmd)
		if err != nil {
			return err
		}
		if err := j.Validate(); err != nil {
			return err
		}

		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if !cmd.Flags().Changed("concurrency") {
			concurrency = cfg.Compute.Concurrency
		}
		calc := geocontext.NewCalculator(geocontext.WithConcurrency(concurrency))

		var st store.Store
		if persist, _ := cmd.Flags().GetBool("persist"); persist {
			if err := cfg.Validate("runs"); err != nil {
				return err
			}
			st, err = initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
		}

		res, err := runJob(ctx, calc, st, j)
		if err != nil {
			return err
		}
		return writeOutput(os.Stdout, res.Table, j.Output)
	},
}

func init() {
	defineComputeFlags(computeCmd)
	rootCmd.AddCommand(computeCmd)
}

func defineComputeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("job", "", "YAML job file; flags override its values")
	f.String("name", "", "run name recorded with --persist")
	f.String("points", "", "points table (path or http/ftp URL)")
	f.String("locations", "", "locations table (path or http/ftp URL)")
	f.String("population", "", "population column of the locations table")
	f.StringSlice("group", nil, "group column of the locations table (repeatable)")
	f.Float64Slice("k", nil, "population threshold (repeatable)")
	f.String("point-north", "", "north coordinate column of the points table (default North)")
	f.String("point-east", "", "east coordinate column of the points table (default East)")
	f.String("location-north", "", "north coordinate column of the locations table (default North)")
	f.String("location-east", "", "east coordinate column of the locations table (default East)")
	f.StringP("output", "o", "", "output file (default stdout)")
	f.String("format", "", "output format: csv, xlsx or json (default from output extension)")
	f.Int("concurrency", 0, "points resolved in parallel (default from config)")
	f.Bool("persist", false, "record the run and its results in the store")
}

// jobFromFlags builds a job from --job (if given) with explicitly set flags
// taking precedence.
func jobFromFlags(cmd *cobra.Command) (*job.Job, error) {
	f := cmd.Flags()

	j := &job.Job{}
	if path, _ := f.GetString("job"); path != "" {
		loaded, err := job.Load(path)
		if err != nil {
			return nil, err
		}
		j = loaded
	}

	str := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	str("name", &j.Name)
	str("points", &j.Points.Path)
	str("locations", &j.Locations.Path)
	str("population", &j.Population)
	str("point-north", &j.Points.North)
	str("point-east", &j.Points.East)
	str("location-north", &j.Locations.North)
	str("location-east", &j.Locations.East)
	str("output", &j.Output.Path)
	str("format", &j.Output.Format)

	if f.Changed("group") {
		j.Groups, _ = f.GetStringSlice("group")
	}
	if f.Changed("k") {
		j.KValues, _ = f.GetFloat64Slice("k")
	}
	if j.Output.Format == "" && j.Output.Path != "" {
		j.Output.Format = job.FormatFromPath(j.Output.Path)
	}
	return j, nil
}

// runJob loads the inputs of j, computes the context and, when st is not
// nil, records the run.
func runJob(ctx context.Context, calc *geocontext.Calculator, st store.Store, j *job.Job) (*dataset.Result, error) {
	start := time.Now()
	fields := j.Fields()

	resolver := initResolver()
	points, err := loadInput(ctx, resolver, j.Points.Path, fields.PointNorth, fields.PointEast)
	if err != nil {
		return nil, err
	}
	locations, err := loadInput(ctx, resolver, j.Locations.Path, fields.LocationNorth, fields.LocationEast)
	if err != nil {
		return nil, err
	}

	var run *store.Run
	if st != nil {
		run, err = st.CreateRun(ctx, store.RunSpec{
			Name:      j.Name,
			Points:    j.Points.Path,
			Locations: j.Locations.Path,
			Params:    geocontext.Params{Groups: fields.Groups, KValues: j.KValues},
		})
		if err != nil {
			return nil, eris.Wrap(err, "compute: create run")
		}
	}

	res, err := dataset.ComputeContext(ctx, calc, points, locations, fields, j.KValues)
	if err != nil {
		if run != nil {
			if ferr := st.FailRun(ctx, run.ID, err); ferr != nil {
				zap.L().Warn("compute: mark run failed", zap.String("run_id", run.ID), zap.Error(ferr))
			}
		}
		return nil, err
	}

	if run != nil {
		n, err := st.SaveResults(ctx, run.ID, res.Params, res.Points)
		if err != nil {
			_ = st.FailRun(ctx, run.ID, err)
			return nil, eris.Wrap(err, "compute: save results")
		}
		if err := st.CompleteRun(ctx, run.ID, len(res.Points)); err != nil {
			return nil, eris.Wrap(err, "compute: complete run")
		}
		zap.L().Info("compute: run recorded", zap.String("run_id", run.ID), zap.Int64("rows", n))
	}

	zap.L().Info("compute: complete",
		zap.Int("points", points.Len()),
		zap.Int("locations", locations.Len()),
		zap.Float64s("k_values", res.Params.KValues),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

type inputResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

func loadInput(ctx context.Context, r inputResolver, ref, north, east string) (*table.Table, error) {
	path, err := r.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	return table.Load(ctx, path, table.LoadOptions{
		Delimiter:   cfg.Input.DelimiterRune(),
		Charset:     cfg.Input.Charset,
		Sheet:       cfg.Input.Sheet,
		NorthColumn: north,
		EastColumn:  east,
	})
}

// writeOutput writes t to out.Path in out.Format, or to stdout when no path
// is set. XLSX needs a path.
func writeOutput(stdout io.Writer, t *table.Table, out job.Output) (err error) {
	format := out.Format
	if format == "" {
		format = job.FormatFromPath(out.Path)
	}

	var write func(io.Writer, *table.Table) error
	switch format {
	case "xlsx":
		if out.Path == "" {
			return eris.New("compute: xlsx output requires --output")
		}
		return table.WriteXLSX(out.Path, t, "context")
	case "json":
		write = table.WriteJSON
	case "csv":
		write = table.WriteCSV
	default:
		return eris.Errorf("compute: unsupported output format %q", format)
	}

	if out.Path == "" {
		return write(stdout, t)
	}

	f, err := os.Create(out.Path)
	if err != nil {
		return eris.Wrapf(err, "compute: create %s", out.Path)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = eris.Wrapf(cerr, "compute: close %s", out.Path)
		}
	}()
	return write(f, t)
}
