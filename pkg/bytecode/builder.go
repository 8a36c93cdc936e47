package bytecode

import (
	"encoding/binary"
	"fmt"
)

// Label names a code position that may not be known yet. Jumps, calls and
// closures emitted against a label are patched when the image is built.
type Label int

type patch struct {
	pos   int // position of the 4-byte operand
	label Label
}

type pendingPublic struct {
	name  string
	label Label
}

// Builder assembles bytecode images. It is used to produce fixtures and by
// tools that generate code directly.
type Builder struct {
	code        []byte
	strings     []byte
	stringIndex map[string]int32
	globals     int32
	publics     []pendingPublic
	labels      []int
	patches     []patch
	err         error
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		code:        make([]byte, 0, 64),
		stringIndex: make(map[string]int32),
	}
}

// Offset returns the current offset in the code region.
func (b *Builder) Offset() int { return len(b.code) }

// Globals sets the size of the global area in words.
func (b *Builder) Globals(n int32) *Builder {
	b.globals = n
	return b
}

// Public adds a public symbol whose code offset is the position of l.
func (b *Builder) Public(name string, l Label) *Builder {
	b.Intern(name)
	b.publics = append(b.publics, pendingPublic{name: name, label: l})
	return b
}

// Intern adds s to the string table if absent and returns its offset.
func (b *Builder) Intern(s string) int32 {
	if off, ok := b.stringIndex[s]; ok {
		return off
	}
	off := int32(len(b.strings))
	b.strings = append(b.strings, s...)
	b.strings = append(b.strings, 0)
	b.stringIndex[s] = off
	return off
}

// NewLabel allocates an unbound label.
func (b *Builder) NewLabel() Label {
	b.labels = append(b.labels, -1)
	return Label(len(b.labels) - 1)
}

// Mark binds l to the current offset.
func (b *Builder) Mark(l Label) *Builder {
	b.labels[l] = len(b.code)
	return b
}

// Here allocates a label bound to the current offset.
func (b *Builder) Here() Label {
	l := b.NewLabel()
	b.Mark(l)
	return l
}

// ---------------------------------------------------------------------------
// Emission
// ---------------------------------------------------------------------------

// Emit appends the encoding of each instruction. Linkage markers have no
// encoding and make Bytes fail.
func (b *Builder) Emit(instrs ...Instruction) *Builder {
	for _, ins := range instrs {
		b.emit(ins)
	}
	return b
}

// Raw appends bytes verbatim.
func (b *Builder) Raw(bs ...byte) *Builder {
	b.code = append(b.code, bs...)
	return b
}

// Jmp emits JMP to l.
func (b *Builder) Jmp(l Label) *Builder {
	b.op(OpJmp)
	b.labelOperand(l)
	return b
}

// CJmp emits CJMPz, or CJMPnz when nonZero is set, to l.
func (b *Builder) CJmp(nonZero bool, l Label) *Builder {
	if nonZero {
		b.op(OpCJmpNZ)
	} else {
		b.op(OpCJmpZ)
	}
	b.labelOperand(l)
	return b
}

// Call emits CALL to l with argc arguments.
func (b *Builder) Call(l Label, argc int32) *Builder {
	b.op(OpCall)
	b.labelOperand(l)
	b.i32(argc)
	return b
}

// Closure emits CLOSURE with entry l over caps.
func (b *Builder) Closure(l Label, caps ...Designation) *Builder {
	b.op(OpClosure)
	b.labelOperand(l)
	b.captures(caps)
	return b
}

func (b *Builder) emit(ins Instruction) {
	switch i := ins.(type) {
	case BinaryOp:
		b.op(OpBinop | Opcode(i.Op+1))
	case Const:
		b.op(OpConst)
		b.i32(i.Value)
	case StringLit:
		b.op(OpString)
		b.i32(b.Intern(i.Value))
	case Sexp:
		b.op(OpSexp)
		b.i32(b.Intern(i.Tag))
		b.i32(i.Arity)
	case Sti:
		b.op(OpSti)
	case Sta:
		b.op(OpSta)
	case Jmp:
		b.op(OpJmp)
		b.i32(i.Target)
	case End:
		b.op(OpEnd)
	case Ret:
		b.op(OpRet)
	case Drop:
		b.op(OpDrop)
	case Dup:
		b.op(OpDup)
	case Swap:
		b.op(OpSwap)
	case Elem:
		b.op(OpElem)
	case Ld:
		b.desig(OpLd, i.Desig)
	case Lda:
		b.desig(OpLda, i.Desig)
	case St:
		b.desig(OpSt, i.Desig)
	case CJmp:
		if i.NonZero {
			b.op(OpCJmpNZ)
		} else {
			b.op(OpCJmpZ)
		}
		b.i32(i.Target)
	case Begin:
		if i.Closure {
			b.op(OpCBegin)
		} else {
			b.op(OpBegin)
		}
		b.i32(i.Args)
		b.i32(i.Locals)
	case Closure:
		b.op(OpClosure)
		b.i32(i.Entry)
		b.captures(i.Captures)
	case CallC:
		b.op(OpCallC)
		b.i32(i.Argc)
	case Call:
		b.op(OpCall)
		b.i32(i.Target)
		b.i32(i.Argc)
	case Tag:
		b.op(OpTag)
		b.i32(b.Intern(i.Tag))
		b.i32(i.Arity)
	case Array:
		b.op(OpArray)
		b.i32(i.Size)
	case Fail:
		b.op(OpFail)
		b.i32(i.Line)
		b.i32(i.Column)
	case Line:
		b.op(OpLine)
		b.i32(i.Line)
	case Patt:
		b.op(OpPatt | Opcode(i.Pattern))
	case CallBuiltin:
		switch i.Builtin {
		case BuiltinRead:
			b.op(OpLread)
		case BuiltinWrite:
			b.op(OpLwrite)
		case BuiltinLength:
			b.op(OpLlength)
		case BuiltinString:
			b.op(OpLstring)
		case BuiltinArray:
			b.op(OpBarray)
			b.i32(i.Argc)
		default:
			b.setErr(fmt.Errorf("built-in %s has no call encoding", i.Builtin))
		}
	default:
		b.setErr(fmt.Errorf("instruction %s has no binary encoding", ins))
	}
}

func (b *Builder) op(op Opcode) { b.code = append(b.code, byte(op)) }

func (b *Builder) i32(v int32) {
	b.code = binary.LittleEndian.AppendUint32(b.code, uint32(v))
}

func (b *Builder) desig(base Opcode, d Designation) {
	if d.Kind > DesigAccess {
		b.setErr(fmt.Errorf("designation %s has no binary encoding", d))
		return
	}
	b.op(base | Opcode(d.Kind))
	b.i32(d.Index)
}

func (b *Builder) captures(caps []Designation) {
	b.i32(int32(len(caps)))
	for _, d := range caps {
		if d.Kind > DesigAccess {
			b.setErr(fmt.Errorf("designation %s has no binary encoding", d))
			return
		}
		b.code = append(b.code, byte(d.Kind))
		b.i32(d.Index)
	}
}

func (b *Builder) labelOperand(l Label) {
	b.patches = append(b.patches, patch{pos: len(b.code), label: l})
	b.i32(0)
}

func (b *Builder) setErr(err error) {
	if b.err == nil {
		b.err = err
	}
}

// ---------------------------------------------------------------------------
// Output
// ---------------------------------------------------------------------------

// Bytes patches labels, appends the terminator and returns the encoded image.
func (b *Builder) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	code := make([]byte, len(b.code), len(b.code)+1)
	copy(code, b.code)
	for _, p := range b.patches {
		target, err := b.resolve(p.label)
		if err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint32(code[p.pos:], uint32(target))
	}
	code = append(code, byte(OpStop))

	buf := make([]byte, 0, headerSize+len(b.publics)*publicEntrySize+len(b.strings)+len(code))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b.strings)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(b.globals))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b.publics)))
	for _, p := range b.publics {
		target, err := b.resolve(p.label)
		if err != nil {
			return nil, fmt.Errorf("public %s: %w", p.name, err)
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(b.stringIndex[p.name]))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(target))
	}
	buf = append(buf, b.strings...)
	buf = append(buf, code...)
	return buf, nil
}

// Image builds and loads the image.
func (b *Builder) Image() (*Image, error) {
	data, err := b.Bytes()
	if err != nil {
		return nil, err
	}
	return LoadImage(data)
}

func (b *Builder) resolve(l Label) (int, error) {
	if int(l) < 0 || int(l) >= len(b.labels) {
		return 0, fmt.Errorf("unknown label %d", l)
	}
	if b.labels[l] < 0 {
		return 0, fmt.Errorf("label %d was never marked", l)
	}
	return b.labels[l], nil
}
