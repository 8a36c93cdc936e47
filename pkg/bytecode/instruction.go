package bytecode

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Designations
// ---------------------------------------------------------------------------

// DesignationKind is the storage class a designation refers to.
type DesignationKind byte

const (
	DesigGlobal DesignationKind = iota // G: global slot
	DesigLocal                         // L: local of the current frame
	DesigArg                           // A: argument of the current frame
	DesigAccess                        // C: captured value of the current closure
	DesigFun                           // F: named function; never produced by the decoder
)

var desigLetters = [...]string{"G", "L", "A", "C", "F"}

// Letter returns the one-letter name used in listings.
func (k DesignationKind) Letter() string {
	if int(k) < len(desigLetters) {
		return desigLetters[k]
	}
	return fmt.Sprintf("?%d", k)
}

func (k DesignationKind) String() string {
	switch k {
	case DesigGlobal:
		return "global"
	case DesigLocal:
		return "local"
	case DesigArg:
		return "arg"
	case DesigAccess:
		return "access"
	case DesigFun:
		return "fun"
	default:
		return fmt.Sprintf("DesignationKind(%d)", k)
	}
}

// Designation names a storage slot.
type Designation struct {
	Kind  DesignationKind
	Index int32
	Name  string // only for DesigFun
}

// Global, Local, Arg and Access build designations of the matching kind.
func Global(i int32) Designation { return Designation{Kind: DesigGlobal, Index: i} }
func Local(i int32) Designation  { return Designation{Kind: DesigLocal, Index: i} }
func Arg(i int32) Designation    { return Designation{Kind: DesigArg, Index: i} }
func Access(i int32) Designation { return Designation{Kind: DesigAccess, Index: i} }

func (d Designation) String() string {
	if d.Kind == DesigFun {
		return "F(" + d.Name + ")"
	}
	return fmt.Sprintf("%s(%d)", d.Kind.Letter(), d.Index)
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

// Instruction is a decoded instruction. The set of implementations is closed;
// switch over the concrete types below.
type Instruction interface {
	fmt.Stringer
	instruction()
}

type (
	// BinaryOp pops two integers and pushes the result of Op.
	BinaryOp struct{ Op BinOp }

	// Const pushes an integer.
	Const struct{ Value int32 }

	// StringLit pushes a fresh copy of a string-table entry.
	StringLit struct{ Value string }

	// Sexp builds an S-expression from the top Arity values.
	Sexp struct {
		Tag   string
		Arity int32
	}

	Sti  struct{}
	Sta  struct{}
	Elem struct{}
	End  struct{}
	Ret  struct{}
	Drop struct{}
	Dup  struct{}
	Swap struct{}

	// Jmp continues execution at Target.
	Jmp struct{ Target int32 }

	Ld  struct{ Desig Designation }
	Lda struct{ Desig Designation }
	St  struct{ Desig Designation }

	// CJmp pops an integer and jumps to Target when it is zero, or nonzero
	// if NonZero is set.
	CJmp struct {
		NonZero bool
		Target  int32
	}

	// Begin opens a function body. Closure marks the CBEGIN encoding.
	Begin struct {
		Args    int32
		Locals  int32
		Closure bool
	}

	// Closure pushes a closure over the current values of Captures.
	Closure struct {
		Entry    int32
		Captures []Designation
	}

	CallC struct{ Argc int32 }

	Call struct {
		Target int32
		Argc   int32
	}

	// CallBuiltin invokes a runtime built-in. Argc is only meaningful for Barray.
	CallBuiltin struct {
		Builtin Builtin
		Argc    int32
	}

	Tag struct {
		Tag   string
		Arity int32
	}

	Array struct{ Size int32 }

	Patt struct{ Pattern Pattern }

	Fail struct {
		Line   int32
		Column int32
	}

	Line struct{ Line int32 }

	// Linkage markers. They exist in the instruction set of the compiler but
	// have no binary encoding.
	Public      struct{ Name string }
	Extern      struct{ Name string }
	Import      struct{ Name string }
	LabelMarker struct{ Name string }
)

func (BinaryOp) instruction()    {}
func (Const) instruction()       {}
func (StringLit) instruction()   {}
func (Sexp) instruction()        {}
func (Sti) instruction()         {}
func (Sta) instruction()         {}
func (Elem) instruction()        {}
func (End) instruction()         {}
func (Ret) instruction()         {}
func (Drop) instruction()        {}
func (Dup) instruction()         {}
func (Swap) instruction()        {}
func (Jmp) instruction()         {}
func (Ld) instruction()          {}
func (Lda) instruction()         {}
func (St) instruction()          {}
func (CJmp) instruction()        {}
func (Begin) instruction()       {}
func (Closure) instruction()     {}
func (CallC) instruction()       {}
func (Call) instruction()        {}
func (CallBuiltin) instruction() {}
func (Tag) instruction()         {}
func (Array) instruction()       {}
func (Patt) instruction()        {}
func (Fail) instruction()        {}
func (Line) instruction()        {}
func (Public) instruction()      {}
func (Extern) instruction()      {}
func (Import) instruction()      {}
func (LabelMarker) instruction() {}

func (i BinaryOp) String() string  { return "BINOP " + i.Op.String() }
func (i Const) String() string     { return fmt.Sprintf("CONST %d", i.Value) }
func (i StringLit) String() string { return fmt.Sprintf("STRING %q", i.Value) }
func (i Sexp) String() string      { return fmt.Sprintf("SEXP %s %d", i.Tag, i.Arity) }
func (Sti) String() string         { return "STI" }
func (Sta) String() string         { return "STA" }
func (Elem) String() string        { return "ELEM" }
func (End) String() string         { return "END" }
func (Ret) String() string         { return "RET" }
func (Drop) String() string        { return "DROP" }
func (Dup) String() string         { return "DUP" }
func (Swap) String() string        { return "SWAP" }
func (i Jmp) String() string       { return fmt.Sprintf("JMP 0x%08x", i.Target) }
func (i Ld) String() string        { return "LD " + i.Desig.String() }
func (i Lda) String() string       { return "LDA " + i.Desig.String() }
func (i St) String() string        { return "ST " + i.Desig.String() }

func (i CJmp) String() string {
	if i.NonZero {
		return fmt.Sprintf("CJMPnz 0x%08x", i.Target)
	}
	return fmt.Sprintf("CJMPz 0x%08x", i.Target)
}

func (i Begin) String() string {
	name := "BEGIN"
	if i.Closure {
		name = "CBEGIN"
	}
	return fmt.Sprintf("%s %d %d", name, i.Args, i.Locals)
}

func (i Closure) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CLOSURE 0x%08x", i.Entry)
	for _, d := range i.Captures {
		sb.WriteByte(' ')
		sb.WriteString(d.String())
	}
	return sb.String()
}

func (i CallC) String() string { return fmt.Sprintf("CALLC %d", i.Argc) }
func (i Call) String() string  { return fmt.Sprintf("CALL 0x%08x %d", i.Target, i.Argc) }

func (i CallBuiltin) String() string {
	if i.Builtin == BuiltinArray {
		return fmt.Sprintf("CALL %s %d", i.Builtin, i.Argc)
	}
	return "CALL " + i.Builtin.String()
}

func (i Tag) String() string         { return fmt.Sprintf("TAG %s %d", i.Tag, i.Arity) }
func (i Array) String() string       { return fmt.Sprintf("ARRAY %d", i.Size) }
func (i Patt) String() string        { return "PATT " + i.Pattern.String() }
func (i Fail) String() string        { return fmt.Sprintf("FAIL %d %d", i.Line, i.Column) }
func (i Line) String() string        { return fmt.Sprintf("LINE %d", i.Line) }
func (i Public) String() string      { return "PUBLIC " + i.Name }
func (i Extern) String() string      { return "EXTERN " + i.Name }
func (i Import) String() string      { return "IMPORT " + i.Name }
func (i LabelMarker) String() string { return "LABEL " + i.Name }
