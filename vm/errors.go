package vm

import (
	"context"
	"errors"
	"fmt"

	"github.com/enotvtapke/virtual-machines-cub/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Runtime error types
// ---------------------------------------------------------------------------

var (
	ErrStackUnderflow = errors.New("stack underflow")
	ErrInputExhausted = errors.New("read from exhausted input")
	ErrDivisionByZero = errors.New("division by zero")
	ErrStepLimit      = errors.New("step limit exceeded")
	ErrFrameTooLarge  = errors.New("frame too large")
)

// TypeError reports an operand of the wrong variant.
type TypeError struct {
	Op      string // instruction or built-in that rejected the operand
	Message string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("type error in %s: %s", e.Op, e.Message)
}

func typeErrorf(op, format string, args ...any) *TypeError {
	return &TypeError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// IndexError reports a slot or element index outside its container.
type IndexError struct {
	What  string // "local", "arg", "captured", "array", "string", "sexp"
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("%s index %d out of range [0, %d)", e.What, e.Index, e.Len)
}

// MatchFailure is raised by FAIL when no pattern of a case expression
// matched. It is a failure of the running program, not of the machine.
type MatchFailure struct {
	Value  Value
	Line   int32
	Column int32
}

func (e *MatchFailure) Error() string {
	return fmt.Sprintf("match failure at %d:%d on value %s", e.Line, e.Column, Render(e.Value))
}

// RuntimeError wraps the first fatal error of a run with the instruction
// that raised it and the machine state at that moment.
type RuntimeError struct {
	Offset int                  // code offset of the failing instruction
	Instr  bytecode.Instruction // nil when the instruction could not be decoded
	Err    error
	State  Snapshot
}

func (e *RuntimeError) Error() string {
	where := fmt.Sprintf("0x%08x", e.Offset)
	if e.Instr != nil {
		where += " (" + e.Instr.String() + ")"
	}
	if e.State.Line > 0 {
		where += fmt.Sprintf(" line %d", e.State.Line)
	}
	return fmt.Sprintf("at %s: %v", where, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// Error kinds returned by Classify.
const (
	KindDecode         = "decode"
	KindType           = "type"
	KindIndex          = "index"
	KindMatch          = "match"
	KindStackUnderflow = "stack-underflow"
	KindInput          = "input-exhausted"
	KindDivision       = "division-by-zero"
	KindStepLimit      = "step-limit"
	KindFrameSize      = "frame-too-large"
	KindCanceled       = "canceled"
	KindInternal       = "internal"
)

// Classify returns a stable name for the kind of err, or "" for nil.
func Classify(err error) string {
	var (
		te *TypeError
		ie *IndexError
		mf *MatchFailure
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &mf):
		return KindMatch
	case errors.As(err, &te):
		return KindType
	case errors.As(err, &ie):
		return KindIndex
	case errors.Is(err, bytecode.ErrDecode):
		return KindDecode
	case errors.Is(err, ErrStackUnderflow):
		return KindStackUnderflow
	case errors.Is(err, ErrInputExhausted):
		return KindInput
	case errors.Is(err, ErrDivisionByZero):
		return KindDivision
	case errors.Is(err, ErrStepLimit):
		return KindStepLimit
	case errors.Is(err, ErrFrameTooLarge):
		return KindFrameSize
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}

// fault carries an error through a panic out of an instruction handler.
type fault struct{ err error }

func throw(err error) { panic(fault{err}) }
