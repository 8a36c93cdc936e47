// lamavm - runs and inspects Lama stack-machine bytecode files
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/enotvtapke/virtual-machines-cub/manifest"
)

var log = commonlog.GetLogger("lamavm.cli")

// env carries what every subcommand needs.
type env struct {
	cfg    *manifest.Manifest
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	// stdinTerminal is true when stdin is interactive and must not be read
	// as program input.
	stdinTerminal bool
}

func main() {
	e := &env{
		stdin:         os.Stdin,
		stdout:        os.Stdout,
		stderr:        os.Stderr,
		stdinTerminal: isTerminal(os.Stdin),
	}
	os.Exit(e.main(os.Args[1:]))
}

func (e *env) main(args []string) int {
	global := flag.NewFlagSet("lamavm", flag.ContinueOnError)
	global.SetOutput(e.stderr)
	verbose := global.Int("v", -1, "Log verbosity (overrides [log] verbosity)")
	configDir := global.String("C", ".", "Directory to search upward for "+manifest.FileName)
	global.Usage = func() { e.usage(global) }
	if err := global.Parse(args); err != nil {
		return 2
	}

	cfg, err := manifest.FindAndLoad(*configDir)
	if err != nil {
		fmt.Fprintf(e.stderr, "Error loading configuration: %v\n", err)
		return 1
	}
	if cfg == nil {
		cfg = manifest.Default(*configDir)
	}
	e.cfg = cfg

	verbosity := cfg.Log.Verbosity
	if *verbose >= 0 {
		verbosity = *verbose
	}
	var logPath *string
	if p := cfg.LogFile(); p != "" {
		logPath = &p
	}
	commonlog.Configure(verbosity, logPath)

	rest := global.Args()
	if len(rest) == 0 {
		e.usage(global)
		return 2
	}

	switch cmd, cmdArgs := rest[0], rest[1:]; cmd {
	case "run":
		return e.runCommand(cmdArgs)
	case "disasm":
		return e.disasmCommand(cmdArgs)
	case "test":
		return e.testCommand(cmdArgs)
	case "history":
		return e.historyCommand(cmdArgs)
	case "serve":
		return e.serveCommand(cmdArgs)
	case "help":
		e.usage(global)
		return 0
	default:
		fmt.Fprintf(e.stderr, "Unknown command: %s\n\n", cmd)
		e.usage(global)
		return 2
	}
}

func (e *env) usage(global *flag.FlagSet) {
	w := e.stderr
	fmt.Fprintf(w, "Usage: lamavm [options] <command> [arguments]\n\n")
	fmt.Fprintf(w, "Commands:\n")
	fmt.Fprintf(w, "  run      Interpret a bytecode file\n")
	fmt.Fprintf(w, "  disasm   Print the instructions of a bytecode file\n")
	fmt.Fprintf(w, "  test     Run the regression fixtures of a directory\n")
	fmt.Fprintf(w, "  history  List saved runs\n")
	fmt.Fprintf(w, "  serve    Start the run service (Connect HTTP/JSON + gRPC)\n")
	fmt.Fprintf(w, "\nOptions:\n")
	global.PrintDefaults()
	fmt.Fprintf(w, "\nExamples:\n")
	fmt.Fprintf(w, "  lamavm run test001.bc < test001.input\n")
	fmt.Fprintf(w, "  lamavm run -input test001.input -trace -v 2 test001.bc\n")
	fmt.Fprintf(w, "  lamavm disasm -header -format yaml test001.bc\n")
	fmt.Fprintf(w, "  lamavm test ./regression\n")
}

// newFlagSet returns a subcommand flag set writing to stderr.
func (e *env) newFlagSet(name, synopsis string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	fs.Usage = func() {
		fmt.Fprintf(e.stderr, "Usage: lamavm %s %s\n\n", name, synopsis)
		fs.PrintDefaults()
	}
	return fs
}
