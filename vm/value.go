package vm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/enotvtapke/virtual-machines-cub/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Value: tagged union of runtime values
// ---------------------------------------------------------------------------

// Value is a runtime value. Integers are unboxed and compared by value.
// Strings, arrays, S-expressions and closures are pointers: they are mutated
// in place and every copy of the pointer observes the change.
type Value interface {
	value()
}

type (
	// Empty is the result of built-ins with no meaningful value and the
	// initial contents of locals.
	Empty struct{}

	// Int is a 32-bit integer with wrapping arithmetic.
	Int int32

	// String is a mutable byte string.
	String struct{ Bytes []byte }

	// Array is a mutable sequence of values.
	Array struct{ Elems []Value }

	// Sexp is a tagged mutable sequence of values.
	Sexp struct {
		Tag   string
		Elems []Value
	}

	// Closure is a code entry point with the values it captured.
	Closure struct {
		Entry    int32
		Captured []Value
	}

	// Ref is the address of a variable, pushed by LDA.
	Ref struct{ Desig bytecode.Designation }

	// Builtin is a reference to a runtime built-in.
	Builtin struct{ Kind bytecode.Builtin }
)

func (Empty) value()    {}
func (Int) value()      {}
func (*String) value()  {}
func (*Array) value()   {}
func (*Sexp) value()    {}
func (*Closure) value() {}
func (Ref) value()      {}
func (Builtin) value()  {}

// NewString returns a string value holding a copy of s.
func NewString(s string) *String { return &String{Bytes: []byte(s)} }

// NewArray returns an array over elems.
func NewArray(elems ...Value) *Array { return &Array{Elems: elems} }

// NewSexp returns an S-expression with the given tag and elements.
func NewSexp(tag string, elems ...Value) *Sexp { return &Sexp{Tag: tag, Elems: elems} }

// KindOf names the variant of v for error messages.
func KindOf(v Value) string {
	switch v.(type) {
	case nil:
		return "nothing"
	case Empty:
		return "empty"
	case Int:
		return "int"
	case *String:
		return "string"
	case *Array:
		return "array"
	case *Sexp:
		return "sexp"
	case *Closure:
		return "closure"
	case Ref:
		return "ref"
	case Builtin:
		return "builtin"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// ---------------------------------------------------------------------------
// Rendering
// ---------------------------------------------------------------------------

// Render formats v the way the Lama runtime prints values: integers in
// decimal, strings quoted, arrays in brackets, S-expressions as
// "Tag (a, b)", and cons lists in braces.
func Render(v Value) string {
	var sb strings.Builder
	render(&sb, v)
	return sb.String()
}

func render(sb *strings.Builder, v Value) {
	switch x := v.(type) {
	case Int:
		sb.WriteString(strconv.Itoa(int(x)))
	case *String:
		sb.WriteByte('"')
		sb.Write(x.Bytes)
		sb.WriteByte('"')
	case *Array:
		sb.WriteByte('[')
		renderList(sb, x.Elems)
		sb.WriteByte(']')
	case *Sexp:
		if x.Tag == "cons" && len(x.Elems) == 2 {
			renderCons(sb, x)
			return
		}
		sb.WriteString(x.Tag)
		if len(x.Elems) > 0 {
			sb.WriteString(" (")
			renderList(sb, x.Elems)
			sb.WriteByte(')')
		}
	case *Closure:
		fmt.Fprintf(sb, "<closure 0x%08x", x.Entry)
		for _, c := range x.Captured {
			sb.WriteString(", ")
			render(sb, c)
		}
		sb.WriteByte('>')
	case Ref:
		sb.WriteString("&" + x.Desig.String())
	case Builtin:
		sb.WriteString("<builtin " + x.Kind.String() + ">")
	case Empty:
		sb.WriteString("<empty>")
	default:
		sb.WriteString("<nothing>")
	}
}

func renderList(sb *strings.Builder, elems []Value) {
	for i, e := range elems {
		if i > 0 {
			sb.WriteString(", ")
		}
		render(sb, e)
	}
}

// renderCons prints a cons chain as {a, b, c}. A tail that is neither a cons
// cell nor Nil is printed after the last element.
func renderCons(sb *strings.Builder, s *Sexp) {
	sb.WriteByte('{')
	first := true
	var cur Value = s
	for {
		cell, ok := cur.(*Sexp)
		if !ok || cell.Tag != "cons" || len(cell.Elems) != 2 {
			break
		}
		if !first {
			sb.WriteString(", ")
		}
		first = false
		render(sb, cell.Elems[0])
		cur = cell.Elems[1]
	}
	if tail, ok := cur.(*Sexp); !ok || tail.Tag != "Nil" || len(tail.Elems) != 0 {
		if i, isInt := cur.(Int); !isInt || i != 0 {
			sb.WriteString(" | ")
			render(sb, cur)
		}
	}
	sb.WriteByte('}')
}
