package vm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/enotvtapke/virtual-machines-cub/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Frame: storage of one function activation
// ---------------------------------------------------------------------------

// Frame holds the arguments, locals and captured values of the running
// function. Its slices are sized when the frame is created (arguments,
// captures) or when BEGIN runs (locals) and never grow.
type Frame struct {
	Args     []Value
	Locals   []Value
	Captured []Value
}

// callRecord is pushed by CALL and CALLC and popped by END and RET.
type callRecord struct {
	resume int    // offset after the call instruction
	frame  *Frame // caller's frame
}

func (f *Frame) slots(kind bytecode.DesignationKind) ([]Value, string) {
	switch kind {
	case bytecode.DesigLocal:
		return f.Locals, "local"
	case bytecode.DesigArg:
		return f.Args, "arg"
	case bytecode.DesigAccess:
		return f.Captured, "captured"
	}
	return nil, kind.String()
}

// ---------------------------------------------------------------------------
// Globals: sparse global storage
// ---------------------------------------------------------------------------

// Globals maps global slot indices to values. A slot that was never stored
// has no value; reading it is an error.
type Globals map[int32]Value

// Load returns the value of slot i.
func (g Globals) Load(i int32) (Value, error) {
	v, ok := g[i]
	if !ok {
		return nil, typeErrorf("LD", "unknown global G(%d)", i)
	}
	return v, nil
}

// Store binds slot i to v.
func (g Globals) Store(i int32, v Value) { g[i] = v }

// ---------------------------------------------------------------------------
// Snapshot: printable machine state
// ---------------------------------------------------------------------------

// Snapshot is a rendered copy of the machine state, attached to runtime
// errors and used by trace output.
type Snapshot struct {
	Offset   int
	Line     int32
	Steps    int
	Depth    int      // number of pending call records
	Stack    []string // bottom first
	Args     []string
	Locals   []string
	Captured []string
	Globals  map[int32]string
	Input    int // values left to read
	Output   []int32
}

func renderAll(vs []Value) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = Render(v)
	}
	return out
}

// String formats the snapshot over several lines.
func (s Snapshot) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "offset 0x%08x, line %d, step %d, call depth %d\n", s.Offset, s.Line, s.Steps, s.Depth)
	fmt.Fprintf(&sb, "stack:    [%s]\n", strings.Join(s.Stack, ", "))
	fmt.Fprintf(&sb, "args:     [%s]\n", strings.Join(s.Args, ", "))
	fmt.Fprintf(&sb, "locals:   [%s]\n", strings.Join(s.Locals, ", "))
	fmt.Fprintf(&sb, "captured: [%s]\n", strings.Join(s.Captured, ", "))
	keys := make([]int32, 0, len(s.Globals))
	for k := range s.Globals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	sb.WriteString("globals:  {")
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "G(%d)=%s", k, s.Globals[k])
	}
	sb.WriteString("}\n")
	fmt.Fprintf(&sb, "input left: %d, output: %v\n", s.Input, s.Output)
	return sb.String()
}
