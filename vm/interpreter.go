package vm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/enotvtapke/virtual-machines-cub/pkg/bytecode"
)

// ctxCheckInterval is how many steps Run executes between context checks.
const ctxCheckInterval = 1024

// DefaultMaxLocals bounds the locals count a BEGIN may request.
const DefaultMaxLocals = 1 << 16

// ---------------------------------------------------------------------------
// Interpreter: bytecode execution engine
// ---------------------------------------------------------------------------

// Interpreter executes one program over one input list. It pulls
// instructions from its own decoder and redirects that decoder for jumps,
// calls and returns. An Interpreter is not safe for concurrent use.
type Interpreter struct {
	img *bytecode.Image
	dec *bytecode.Decoder

	// Execution state
	stack   []Value      // operand stack
	calls   []callRecord // call stack
	frame   *Frame       // current frame
	globals Globals

	input  []int32
	output []int32

	line  int32 // last LINE seen
	steps int
	done  bool
	err   error // first fatal error, sticky

	log       commonlog.Logger
	trace     bool
	stepLimit int
	maxLocals int
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithLogger sets the logger used for trace and lifecycle messages.
func WithLogger(log commonlog.Logger) Option {
	return func(in *Interpreter) { in.log = log }
}

// WithTrace logs every executed instruction at debug level.
func WithTrace(on bool) Option {
	return func(in *Interpreter) { in.trace = on }
}

// WithStepLimit makes the run fail with ErrStepLimit when an instruction
// beyond the first n would execute. Reaching the end of code after exactly
// n instructions is a normal termination. Zero means no limit.
func WithStepLimit(n int) Option {
	return func(in *Interpreter) { in.stepLimit = n }
}

// WithMaxLocals bounds the number of locals a single frame may hold. A BEGIN
// asking for more fails with ErrFrameTooLarge. Values below one keep
// DefaultMaxLocals.
func WithMaxLocals(n int) Option {
	return func(in *Interpreter) {
		if n > 0 {
			in.maxLocals = n
		}
	}
}

// New creates an interpreter positioned at code offset 0. The input slice
// is copied.
func New(img *bytecode.Image, input []int32, opts ...Option) *Interpreter {
	in := &Interpreter{
		img:       img,
		dec:       bytecode.NewDecoder(img),
		stack:     make([]Value, 0, 256),
		frame:     &Frame{},
		globals:   make(Globals),
		input:     append([]int32(nil), input...),
		log:       commonlog.GetLogger("lamavm.vm"),
		maxLocals: DefaultMaxLocals,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Output returns a copy of the integers written so far.
func (in *Interpreter) Output() []int32 {
	return append([]int32(nil), in.output...)
}

// Steps returns the number of instructions executed.
func (in *Interpreter) Steps() int { return in.steps }

// Offset returns the code offset of the next instruction.
func (in *Interpreter) Offset() int { return in.dec.Offset() }

// Done reports whether the run has terminated, normally or not.
func (in *Interpreter) Done() bool { return in.done }

// Err returns the error that terminated the run, if any.
func (in *Interpreter) Err() error { return in.err }

// Snapshot captures the current machine state.
func (in *Interpreter) Snapshot() Snapshot {
	s := Snapshot{
		Offset:   in.dec.Offset(),
		Line:     in.line,
		Steps:    in.steps,
		Depth:    len(in.calls),
		Stack:    renderAll(in.stack),
		Args:     renderAll(in.frame.Args),
		Locals:   renderAll(in.frame.Locals),
		Captured: renderAll(in.frame.Captured),
		Globals:  make(map[int32]string, len(in.globals)),
		Input:    len(in.input),
		Output:   in.Output(),
	}
	for k, v := range in.globals {
		s.Globals[k] = Render(v)
	}
	return s
}

// ---------------------------------------------------------------------------
// Run loop
// ---------------------------------------------------------------------------

// Run steps until the program terminates, fails, exceeds the step limit or
// ctx is done. A canceled run can be resumed by calling Run again.
func (in *Interpreter) Run(ctx context.Context) error {
	for {
		if in.steps%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("run interrupted at 0x%08x: %w", in.dec.Offset(), err)
			}
		}
		more, err := in.Step()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// Step executes one instruction. It returns false once the program has
// terminated. After termination Step has no effect and returns the error
// that ended the run, if there was one.
func (in *Interpreter) Step() (bool, error) {
	if in.done {
		return false, in.err
	}

	offset := in.dec.Offset()
	ins, err := in.dec.Next()
	if errors.Is(err, bytecode.ErrEndOfCode) {
		if len(in.calls) > 0 {
			in.log.Warningf("end of code reached at 0x%08x with %d pending calls", offset, len(in.calls))
		}
		in.finish()
		return false, nil
	}
	if err != nil {
		return false, in.fail(offset, nil, err)
	}
	if in.stepLimit > 0 && in.steps >= in.stepLimit {
		return false, in.fail(offset, nil, fmt.Errorf("%w: %d", ErrStepLimit, in.stepLimit))
	}

	in.steps++
	if in.trace {
		in.log.Debugf("%04X  %-28s stack=%d depth=%d", offset, ins, len(in.stack), len(in.calls))
	}

	more, err := in.exec(ins)
	if err != nil {
		return false, in.fail(offset, ins, err)
	}
	if !more {
		in.finish()
	}
	return more, nil
}

func (in *Interpreter) finish() {
	in.done = true
	in.log.Infof("program terminated after %d steps, %d values written", in.steps, len(in.output))
}

func (in *Interpreter) fail(offset int, ins bytecode.Instruction, err error) error {
	rerr := &RuntimeError{Offset: offset, Instr: ins, Err: err, State: in.Snapshot()}
	rerr.State.Offset = offset
	in.done = true
	in.err = rerr
	in.log.Errorf("%s", rerr)
	return rerr
}

// exec runs a single instruction. Handlers report errors either by
// returning them or, from helpers deep in the call chain, by throw.
func (in *Interpreter) exec(ins bytecode.Instruction) (more bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			f, ok := r.(fault)
			if !ok {
				panic(r)
			}
			more, err = false, f.err
		}
	}()

	switch i := ins.(type) {
	case bytecode.BinaryOp:
		right := in.pop()
		left := in.pop()
		v, err := binop(i.Op, left, right)
		if err != nil {
			return false, err
		}
		in.push(v)

	case bytecode.Const:
		in.push(Int(i.Value))

	case bytecode.StringLit:
		in.push(NewString(i.Value))

	case bytecode.Sexp:
		in.push(&Sexp{Tag: i.Tag, Elems: in.popN(i.Arity)})

	case bytecode.Sti:
		v := in.pop()
		ref, ok := in.pop().(Ref)
		if !ok {
			return false, typeErrorf("STI", "expected reference")
		}
		in.store(ref.Desig, v)
		in.push(v)

	case bytecode.Sta:
		v := in.pop()
		switch target := in.pop().(type) {
		case Ref:
			in.store(target.Desig, v)
		case Int:
			setElem(in.pop(), int(target), v)
		default:
			return false, typeErrorf("STA", "cannot store into %s", KindOf(target))
		}
		in.push(v)

	case bytecode.Elem:
		idx := in.popInt("ELEM")
		in.push(elem(in.pop(), int(idx)))

	case bytecode.Jmp:
		in.seek(i.Target)

	case bytecode.End, bytecode.Ret:
		return in.ret(), nil

	case bytecode.Drop:
		in.pop()

	case bytecode.Dup:
		in.push(in.top())

	case bytecode.Swap:
		x := in.pop()
		y := in.pop()
		in.push(x)
		in.push(y)

	case bytecode.Ld:
		in.push(in.load(i.Desig))

	case bytecode.Lda:
		in.push(Ref{Desig: i.Desig})

	case bytecode.St:
		in.store(i.Desig, in.top())

	case bytecode.CJmp:
		c := in.popInt("CJMP")
		if (c != 0) == i.NonZero {
			in.seek(i.Target)
		}

	case bytecode.Begin:
		if i.Locals < 0 {
			return false, fmt.Errorf("negative locals count %d", i.Locals)
		}
		if int(i.Locals) > in.maxLocals {
			return false, fmt.Errorf("%w: %d locals, limit %d", ErrFrameTooLarge, i.Locals, in.maxLocals)
		}
		locals := make([]Value, i.Locals)
		for k := range locals {
			locals[k] = Empty{}
		}
		in.frame.Locals = locals

	case bytecode.Closure:
		caps := make([]Value, len(i.Captures))
		for k, d := range i.Captures {
			if d.Kind == bytecode.DesigGlobal {
				return false, typeErrorf("CLOSURE", "cannot capture global %s", d)
			}
			caps[k] = in.load(d)
		}
		in.push(&Closure{Entry: i.Entry, Captured: caps})

	case bytecode.CallC:
		args := in.popN(i.Argc)
		switch callee := in.pop().(type) {
		case *Closure:
			caps := append([]Value(nil), callee.Captured...)
			in.call(callee.Entry, &Frame{Args: args, Captured: caps})
		case Builtin:
			for _, a := range args {
				in.push(a)
			}
			in.builtin(callee.Kind, i.Argc)
		default:
			return false, typeErrorf("CALLC", "cannot call %s", KindOf(callee))
		}

	case bytecode.Call:
		in.call(i.Target, &Frame{Args: in.popN(i.Argc)})

	case bytecode.CallBuiltin:
		in.builtin(i.Builtin, i.Argc)

	case bytecode.Tag:
		s, ok := in.pop().(*Sexp)
		in.push(boolInt(ok && s.Tag == i.Tag && len(s.Elems) == int(i.Arity)))

	case bytecode.Array:
		a, ok := in.pop().(*Array)
		in.push(boolInt(ok && len(a.Elems) == int(i.Size)))

	case bytecode.Patt:
		in.push(boolInt(in.pattern(i.Pattern)))

	case bytecode.Fail:
		return false, &MatchFailure{Value: in.top(), Line: i.Line, Column: i.Column}

	case bytecode.Line:
		in.line = i.Line

	case bytecode.Public, bytecode.Extern, bytecode.Import, bytecode.LabelMarker:

	default:
		return false, fmt.Errorf("no handler for %s", ins)
	}
	return true, nil
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

func (in *Interpreter) call(target int32, frame *Frame) {
	in.calls = append(in.calls, callRecord{resume: in.dec.Offset(), frame: in.frame})
	in.frame = frame
	in.seek(target)
}

// ret pops a call record and resumes the caller. It returns false when
// there is no caller, which ends the program.
func (in *Interpreter) ret() bool {
	if len(in.calls) == 0 {
		return false
	}
	rec := in.calls[len(in.calls)-1]
	in.calls = in.calls[:len(in.calls)-1]
	in.frame = rec.frame
	in.seek(int32(rec.resume))
	return true
}

func (in *Interpreter) seek(target int32) {
	if err := in.dec.Seek(int(target)); err != nil {
		throw(err)
	}
}

// ---------------------------------------------------------------------------
// Stack operations
// ---------------------------------------------------------------------------

func (in *Interpreter) push(v Value) {
	in.stack = append(in.stack, v)
}

func (in *Interpreter) pop() Value {
	if len(in.stack) == 0 {
		throw(ErrStackUnderflow)
	}
	v := in.stack[len(in.stack)-1]
	in.stack[len(in.stack)-1] = nil
	in.stack = in.stack[:len(in.stack)-1]
	return v
}

func (in *Interpreter) top() Value {
	if len(in.stack) == 0 {
		throw(ErrStackUnderflow)
	}
	return in.stack[len(in.stack)-1]
}

// popN pops n values and returns them in the order they were pushed.
func (in *Interpreter) popN(n int32) []Value {
	if n < 0 {
		throw(fmt.Errorf("negative operand count %d", n))
	}
	if len(in.stack) < int(n) {
		throw(fmt.Errorf("%w: need %d values, have %d", ErrStackUnderflow, n, len(in.stack)))
	}
	result := make([]Value, n)
	sp := len(in.stack) - int(n)
	copy(result, in.stack[sp:])
	clear(in.stack[sp:])
	in.stack = in.stack[:sp]
	return result
}

func (in *Interpreter) popInt(op string) Int {
	v := in.pop()
	n, ok := v.(Int)
	if !ok {
		throw(typeErrorf(op, "expected int, got %s", KindOf(v)))
	}
	return n
}

// ---------------------------------------------------------------------------
// Variable access
// ---------------------------------------------------------------------------

func (in *Interpreter) load(d bytecode.Designation) Value {
	if d.Kind == bytecode.DesigGlobal {
		v, err := in.globals.Load(d.Index)
		if err != nil {
			throw(err)
		}
		return v
	}
	return in.slotsOf(d)[d.Index]
}

func (in *Interpreter) store(d bytecode.Designation, v Value) {
	if d.Kind == bytecode.DesigGlobal {
		in.globals.Store(d.Index, v)
		return
	}
	in.slotsOf(d)[d.Index] = v
}

// slotsOf returns the frame slice d refers to after checking the index.
func (in *Interpreter) slotsOf(d bytecode.Designation) []Value {
	slots, what := in.frame.slots(d.Kind)
	if d.Kind == bytecode.DesigFun {
		throw(typeErrorf("LD", "function designation %s is not a variable", d))
	}
	if d.Index < 0 || int(d.Index) >= len(slots) {
		throw(&IndexError{What: what, Index: int(d.Index), Len: len(slots)})
	}
	return slots
}

func boolInt(b bool) Int {
	if b {
		return 1
	}
	return 0
}
