package main

import (
	"fmt"

	"github.com/enotvtapke/virtual-machines-cub/pkg/bytecode"
	"github.com/enotvtapke/virtual-machines-cub/report"
)

// disasmCommand processes the `lamavm disasm` subcommand.
func (e *env) disasmCommand(args []string) int {
	fs := e.newFlagSet("disasm", "[options] file.bc")
	format := fs.String("format", "text", "Output format: text or yaml")
	header := fs.Bool("header", false, "Print the image header before the listing (text format)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	img, err := bytecode.ReadImageFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(e.stderr, "Error: %v\n", err)
		return 1
	}

	switch *format {
	case "text":
		if *header {
			fmt.Fprintln(e.stdout, bytecode.DescribeImage(img))
		}
		listing, err := bytecode.Listing(img)
		fmt.Fprint(e.stdout, listing)
		if err != nil {
			fmt.Fprintf(e.stderr, "Error: %v\n", err)
			return 1
		}
	case "yaml":
		out, err := report.ListingYAML(img)
		if err != nil {
			fmt.Fprintf(e.stderr, "Error: %v\n", err)
			return 1
		}
		e.stdout.Write(out)
	default:
		fmt.Fprintf(e.stderr, "Unknown format %q (want text or yaml)\n", *format)
		return 2
	}
	return 0
}
