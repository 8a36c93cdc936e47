package bytecode

import (
	"errors"
	"fmt"
	"strings"
)

// Entry pairs a decoded instruction with the code offset it starts at.
type Entry struct {
	Offset int
	Instr  Instruction
}

// Disassemble decodes the code region from offset 0 up to the terminator.
// It uses its own cursor, so it can run any number of times and alongside an
// interpreter working on the same image.
func Disassemble(img *Image) ([]Entry, error) {
	dec := NewDecoder(img)
	var entries []Entry
	for {
		offset := dec.Offset()
		ins, err := dec.Next()
		if errors.Is(err, ErrEndOfCode) {
			return entries, nil
		}
		if err != nil {
			return entries, err
		}
		entries = append(entries, Entry{Offset: offset, Instr: ins})
	}
}

// Listing returns a human-readable listing of the code region, one
// instruction per line.
func Listing(img *Image) (string, error) {
	entries, err := Disassemble(img)
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(FormatEntry(e))
		sb.WriteByte('\n')
	}
	if err != nil {
		sb.WriteString(fmt.Sprintf("; %v\n", err))
	}
	return sb.String(), err
}

// FormatEntry renders a single listing line.
func FormatEntry(e Entry) string {
	return fmt.Sprintf("%04X  %s", e.Offset, e.Instr)
}

// DescribeImage renders the image header: table sizes and public symbols.
func DescribeImage(img *Image) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("; String table size: %d\n", len(img.stringTable)))
	sb.WriteString(fmt.Sprintf("; Global area size : %d\n", img.globalWords))
	sb.WriteString(fmt.Sprintf("; Public symbols   : %d\n", len(img.publics)))
	for _, p := range img.publics {
		name := p.Name
		if name == "" {
			name = fmt.Sprintf("<string 0x%x>", p.NameOffset)
		}
		sb.WriteString(fmt.Sprintf(";   0x%08x: %s\n", p.CodeOffset, name))
	}
	sb.WriteString(fmt.Sprintf("; Code: %d bytes at 0x%x\n", len(img.code), img.codeStart))
	return sb.String()
}
