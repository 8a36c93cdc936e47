package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/enotvtapke/virtual-machines-cub/pkg/bytecode"
	"github.com/enotvtapke/virtual-machines-cub/vm"
)

// ---------------------------------------------------------------------------
// Fixture model
// ---------------------------------------------------------------------------

// fixture is one regression case: name.lama marks it, name.bc is the image,
// name.input the input and the optional name.expected the output.
type fixture struct {
	Name     string
	Image    string
	Input    string
	Expected string // empty when there is no expected output file
}

// fixtureResult captures the outcome of one fixture.
type fixtureResult struct {
	Fixture  fixture
	Output   []int32
	Want     []int32
	Checked  bool // Want was compared against Output
	Err      error
	Duration time.Duration
}

func (r fixtureResult) passed() bool {
	return r.Err == nil && (!r.Checked || reflect.DeepEqual(r.Output, r.Want))
}

// discoverFixtures lists the fixtures of dir sorted by name.
func discoverFixtures(dir string) ([]fixture, error) {
	sources, err := filepath.Glob(filepath.Join(dir, "*.lama"))
	if err != nil {
		return nil, err
	}
	sort.Strings(sources)

	var out []fixture
	for _, src := range sources {
		base := strings.TrimSuffix(src, ".lama")
		f := fixture{
			Name:  filepath.Base(base),
			Image: base + ".bc",
			Input: base + ".input",
		}
		if _, err := os.Stat(base + ".expected"); err == nil {
			f.Expected = base + ".expected"
		}
		out = append(out, f)
	}
	return out, nil
}

// runFixture runs one fixture with the given step limit.
func runFixture(ctx context.Context, f fixture, stepLimit int) (res fixtureResult) {
	start := time.Now()
	res.Fixture = f
	defer func() { res.Duration = time.Since(start) }()

	img, err := bytecode.ReadImageFile(f.Image)
	if err != nil {
		res.Err = err
		return res
	}

	input, err := readIntsFile(f.Input)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		res.Err = fmt.Errorf("reading input: %w", err)
		return res
	}

	if f.Expected != "" {
		res.Want, err = readIntsFile(f.Expected)
		if err != nil {
			res.Err = fmt.Errorf("reading expected output: %w", err)
			return res
		}
		res.Checked = true
	}

	in := vm.New(img, input, vm.WithStepLimit(stepLimit))
	res.Err = in.Run(ctx)
	res.Output = in.Output()
	return res
}

func readIntsFile(path string) ([]int32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseInts(f)
}

// ---------------------------------------------------------------------------
// Entry point
// ---------------------------------------------------------------------------

// testCommand processes the `lamavm test` subcommand.
// Usage:
//
//	lamavm test                 # fixtures from [fixtures] dir
//	lamavm test -v ./regression # show each output
func (e *env) testCommand(args []string) int {
	fs := e.newFlagSet("test", "[options] [dir]")
	verbose := fs.Bool("v", false, "Print the output of every fixture")
	steps := fs.Int("steps", e.cfg.Run.StepLimit, "Step limit per fixture (0 = no limit)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	dir := e.cfg.FixtureDir()
	if fs.NArg() > 0 {
		dir = fs.Arg(0)
	}

	fixtures, err := discoverFixtures(dir)
	if err != nil {
		fmt.Fprintf(e.stderr, "Error: %v\n", err)
		return 1
	}
	if len(fixtures) == 0 {
		fmt.Fprintf(e.stderr, "No fixtures (*.lama) in %s\n", dir)
		return 1
	}

	ctx := context.Background()
	var results []fixtureResult
	for _, f := range fixtures {
		results = append(results, runFixture(ctx, f, *steps))
	}

	e.printFixtureResults(results, *verbose)
	passed, failed := tallyFixtureResults(results)
	fmt.Fprintf(e.stdout, "%d passed, %d failed, %d total\n", passed, failed, len(results))
	if failed > 0 {
		return 1
	}
	return 0
}

// ---------------------------------------------------------------------------
// Output
// ---------------------------------------------------------------------------

func (e *env) printFixtureResults(results []fixtureResult, verbose bool) {
	for _, r := range results {
		mark := "ok  "
		if !r.passed() {
			mark = "FAIL"
		}
		fmt.Fprintf(e.stdout, "%s %-24s %v\n", mark, r.Fixture.Name, r.Duration.Round(time.Microsecond))

		switch {
		case r.Err != nil:
			fmt.Fprintf(e.stdout, "     %s: %v\n", vm.Classify(r.Err), r.Err)
		case r.Checked && !r.passed():
			fmt.Fprintf(e.stdout, "     expected: %v\n", r.Want)
			fmt.Fprintf(e.stdout, "     got:      %v\n", r.Output)
		case verbose:
			fmt.Fprintf(e.stdout, "     output: %v\n", r.Output)
		}
	}
}

func tallyFixtureResults(results []fixtureResult) (passed, failed int) {
	for _, r := range results {
		if r.passed() {
			passed++
		} else {
			failed++
		}
	}
	return
}
