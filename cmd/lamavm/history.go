package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/enotvtapke/virtual-machines-cub/report"
	"github.com/enotvtapke/virtual-machines-cub/store"
)

// historyCommand processes the `lamavm history` subcommand.
func (e *env) historyCommand(args []string) int {
	fs := e.newFlagSet("history", "[options] [run-id]")
	image := fs.String("image", "", "Only list runs of this image (file name)")
	limit := fs.Int("n", 20, "Number of runs to list (0 = all)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	st, err := store.Open(e.cfg.DatabasePath())
	if err != nil {
		fmt.Fprintf(e.stderr, "Error: %v\n", err)
		return 1
	}
	defer st.Close()
	ctx := context.Background()

	// A run id prints that run's full report.
	if fs.NArg() == 1 {
		rep, err := st.Get(ctx, fs.Arg(0))
		if err != nil {
			fmt.Fprintf(e.stderr, "Error: %v\n", err)
			return 1
		}
		out, err := report.ReportYAML(rep)
		if err != nil {
			fmt.Fprintf(e.stderr, "Error: %v\n", err)
			return 1
		}
		e.stdout.Write(out)
		return 0
	}

	runs, err := st.List(ctx, *image, *limit)
	if err != nil {
		fmt.Fprintf(e.stderr, "Error: %v\n", err)
		return 1
	}
	if len(runs) == 0 {
		fmt.Fprintln(e.stdout, "No saved runs")
		return 0
	}

	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tIMAGE\tSTATUS\tSTEPS\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", r.RunID, r.Image, r.Status, r.Steps, r.StartedAt.Local().Format(time.DateTime))
	}
	tw.Flush()
	return 0
}
