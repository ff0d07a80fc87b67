package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/tsmap/internal/db"
)

const defaultDBPath = "tsmap.db"

func formatFloat(v float64, prec int) string {
	if math.IsNaN(v) {
		return "-"
	}
	return strconv.FormatFloat(v, 'g', prec, 64)
}

func handleRuns(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	dbPath := fs.String("db", defaultDBPath, "sqlite run catalogue")
	limit := fs.Int("limit", 20, "maximum runs to list; 0 lists all")
	if err := fs.Parse(args); err != nil {
		return err
	}
	catalogue, err := db.NewDB(*dbPath)
	if err != nil {
		return err
	}
	defer catalogue.Close()

	runs, err := catalogue.ListRuns(context.Background(), *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tNAME\tSTATUS\tSTARTED\tDURATION\tMAX TS\tOUTPUT")
	for _, r := range runs {
		dur := "-"
		if !r.FinishedAt.IsZero() {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		output := r.OutputPath
		if r.Status == db.StatusFailed {
			output = "error: " + r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Name, r.Status,
			r.StartedAt.Format(time.RFC3339), dur, formatFloat(r.MaxTS, 6), output)
	}
	return tw.Flush()
}

func handlePeaks(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("peaks", flag.ContinueOnError)
	dbPath := fs.String("db", defaultDBPath, "sqlite run catalogue")
	runID := fs.String("run", "", "run ID (required)")
	minTS := fs.Float64("min-ts", -1, "only list peaks with TS at least this")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		fs.Usage()
		return errors.New("-run is required")
	}
	catalogue, err := db.NewDB(*dbPath)
	if err != nil {
		return err
	}
	defer catalogue.Close()

	ctx := context.Background()
	if _, err := catalogue.GetRun(ctx, *runID); err != nil {
		return err
	}
	peaks, err := catalogue.ListPeaks(ctx, *runID, *minTS)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SLICE\tRANK\tX\tY\tLON\tLAT\tTS\tFLUX\tFLUX ERR")
	for _, p := range peaks {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%.4f\t%.4f\t%s\t%s\t%s\n", p.Slice, p.Rank, p.X, p.Y, p.Lon, p.Lat,
			formatFloat(p.TS, 6), formatFloat(p.Flux, 4), formatFloat(p.FluxErr, 4))
	}
	return tw.Flush()
}

func handleMigrate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dbPath := fs.String("db", defaultDBPath, "sqlite run catalogue")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("usage: tsmap migrate [-db path] up|down|status|force <version>")
	}
	catalogue, err := db.OpenDB(*dbPath)
	if err != nil {
		return err
	}
	defer catalogue.Close()
	mfs := db.MigrationsFS()

	switch action := fs.Arg(0); action {
	case "up":
		if err := catalogue.MigrateUp(mfs); err != nil {
			return err
		}
	case "down":
		if err := catalogue.MigrateDown(mfs); err != nil {
			return err
		}
	case "force":
		if fs.NArg() < 2 {
			return errors.New("force needs a version")
		}
		v, err := strconv.Atoi(fs.Arg(1))
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", fs.Arg(1), err)
		}
		if err := catalogue.MigrateForce(mfs, v); err != nil {
			return err
		}
	case "status":
	default:
		return fmt.Errorf("unknown migrate action %q", action)
	}
	st, err := catalogue.Status(mfs)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: schema %s\n", *dbPath, st)
	return nil
}
