package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/enotvtapke/virtual-machines-cub/pkg/bytecode"
	"github.com/enotvtapke/virtual-machines-cub/report"
	"github.com/enotvtapke/virtual-machines-cub/store"
	"github.com/enotvtapke/virtual-machines-cub/vm"
)

// runCommand processes the `lamavm run` subcommand.
// Usage:
//
//	lamavm run prog.bc < prog.input
//	lamavm run -input prog.input -report out.cbor -save prog.bc
func (e *env) runCommand(args []string) int {
	fs := e.newFlagSet("run", "[options] file.bc")
	inputPath := fs.String("input", "", "Read input integers from this file instead of stdin")
	trace := fs.Bool("trace", e.cfg.Run.Trace, "Log every executed instruction at debug level")
	steps := fs.Int("steps", e.cfg.Run.StepLimit, "Stop after this many instructions (0 = no limit)")
	reportPath := fs.String("report", "", "Write the run report here (.yaml/.yml for YAML, CBOR otherwise)")
	save := fs.Bool("save", false, "Save the run report to the run history")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}
	path := fs.Arg(0)

	img, err := bytecode.ReadImageFile(path)
	if err != nil {
		fmt.Fprintf(e.stderr, "Error: %v\n", err)
		return 1
	}

	input, err := e.readInput(*inputPath)
	if err != nil {
		fmt.Fprintf(e.stderr, "Error reading input: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rep := report.New(filepath.Base(path), input)
	in := vm.New(img, input, vm.WithTrace(*trace), vm.WithStepLimit(*steps))
	runErr := in.Run(ctx)
	rep.Complete(in, runErr)

	for _, n := range in.Output() {
		fmt.Fprintln(e.stdout, n)
	}

	if *reportPath != "" {
		if err := writeReport(*reportPath, rep); err != nil {
			fmt.Fprintf(e.stderr, "Error writing report: %v\n", err)
			return 1
		}
	}
	if *save {
		if err := e.saveReport(ctx, rep); err != nil {
			fmt.Fprintf(e.stderr, "Error saving run: %v\n", err)
			return 1
		}
	}

	if runErr != nil {
		e.printFailure(runErr)
		return 1
	}
	return 0
}

// printFailure reports why a run ended early. Match failures are program
// errors and get a one-line message; anything else also dumps the machine.
func (e *env) printFailure(err error) {
	var mf *vm.MatchFailure
	if errors.As(err, &mf) {
		fmt.Fprintf(e.stderr, "pattern match failed at %d:%d (%s)\n", mf.Line, mf.Column, vm.Render(mf.Value))
		return
	}
	fmt.Fprintf(e.stderr, "Error: %v\n", err)
	var rerr *vm.RuntimeError
	if errors.As(err, &rerr) {
		fmt.Fprint(e.stderr, rerr.State.String())
	}
}

// readInput reads the program input from path, or from stdin when path is
// empty and stdin is not a terminal.
func (e *env) readInput(path string) ([]int32, error) {
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return parseInts(f)
	}
	if e.stdinTerminal || e.stdin == nil {
		return nil, nil
	}
	return parseInts(e.stdin)
}

// parseInts reads whitespace-separated decimal integers.
func parseInts(r io.Reader) ([]int32, error) {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)
	var out []int32
	for sc.Scan() {
		word := strings.TrimSpace(sc.Text())
		n, err := strconv.ParseInt(word, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("input item %d: %w", len(out)+1, err)
		}
		out = append(out, int32(n))
	}
	return out, sc.Err()
}

func writeReport(path string, rep *report.Report) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = report.ReportYAML(rep)
	default:
		data, err = report.Marshal(rep)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (e *env) saveReport(ctx context.Context, rep *report.Report) error {
	st, err := store.Open(e.cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Save(ctx, rep); err != nil {
		return err
	}
	log.Infof("saved run %s to %s", rep.RunID, st.Path())
	return nil
}
