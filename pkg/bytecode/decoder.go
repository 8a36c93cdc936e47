package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrEndOfCode is returned by Decoder.Next at the terminator byte.
	ErrEndOfCode = errors.New("end of code")

	// ErrDecode is matched by every *DecodeError.
	ErrDecode = errors.New("decode error")
)

// DecodeError reports an instruction that could not be decoded.
type DecodeError struct {
	Opcode byte   // opcode byte of the failing instruction
	Offset int    // code offset of the opcode byte
	Cursor int    // cursor position when the failure was detected
	Reason string // what went wrong
	Err    error  // underlying cause, if any
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("decode error at 0x%08x (opcode 0x%02X, cursor 0x%08x): %s", e.Offset, e.Opcode, e.Cursor, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDecode) true for every DecodeError.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// ---------------------------------------------------------------------------
// Decoder: a cursor over the code region
// ---------------------------------------------------------------------------

// Decoder reads instructions one at a time from an image's code region.
// The zero position is the first code byte. A Decoder is not safe for
// concurrent use; independent decoders over the same image are.
type Decoder struct {
	img  *Image
	code []byte
	pos  int

	// start of the instruction being decoded
	start int
}

// NewDecoder returns a decoder positioned at offset 0.
func NewDecoder(img *Image) *Decoder {
	return &Decoder{img: img, code: img.code}
}

// Image returns the image being decoded.
func (d *Decoder) Image() *Image { return d.img }

// Offset returns the current cursor position.
func (d *Decoder) Offset() int { return d.pos }

// Seek moves the cursor to offset. Offsets outside the code region are
// rejected with an error naming the last decoded instruction, which is the
// one that jumped; seeking to len(code) is allowed and makes the next
// decode fail.
func (d *Decoder) Seek(offset int) error {
	if offset < 0 || offset > len(d.code) {
		var op byte
		if d.pos > d.start && d.start < len(d.code) {
			op = d.code[d.start]
		}
		return &DecodeError{
			Opcode: op,
			Offset: d.start,
			Cursor: d.pos,
			Reason: fmt.Sprintf("jump target 0x%08x outside code region of %d bytes", offset, len(d.code)),
		}
	}
	d.pos = offset
	return nil
}

// Reset moves the cursor back to offset 0.
func (d *Decoder) Reset() {
	d.pos = 0
	d.start = 0
}

// Next decodes the instruction at the cursor and advances past it. At the
// terminator it returns ErrEndOfCode and leaves the cursor in place.
func (d *Decoder) Next() (Instruction, error) {
	d.start = d.pos
	if d.pos >= len(d.code) {
		return nil, &DecodeError{Offset: d.pos, Cursor: d.pos, Reason: "code region ends without terminator"}
	}
	op := Opcode(d.code[d.pos])
	if op == OpStop {
		return nil, ErrEndOfCode
	}
	d.pos++

	switch op.Family() {
	case FamilyBinop:
		sub := op.Sub()
		if sub < 1 || sub > byte(BinOr)+1 {
			return nil, d.unknown(op)
		}
		return BinaryOp{Op: BinOp(sub - 1)}, nil

	case FamilyMisc:
		return d.decodeMisc(op)

	case FamilyLd, FamilyLda, FamilySt:
		desig, err := d.designation(op, op.Sub())
		if err != nil {
			return nil, err
		}
		switch op.Family() {
		case FamilyLd:
			return Ld{Desig: desig}, nil
		case FamilyLda:
			return Lda{Desig: desig}, nil
		default:
			return St{Desig: desig}, nil
		}

	case FamilyControl:
		return d.decodeControl(op)

	case FamilyPatt:
		if op.Sub() > byte(PattFun) {
			return nil, d.unknown(op)
		}
		return Patt{Pattern: Pattern(op.Sub())}, nil

	case FamilyBuiltin:
		switch op {
		case OpLread:
			return CallBuiltin{Builtin: BuiltinRead}, nil
		case OpLwrite:
			return CallBuiltin{Builtin: BuiltinWrite}, nil
		case OpLlength:
			return CallBuiltin{Builtin: BuiltinLength}, nil
		case OpLstring:
			return CallBuiltin{Builtin: BuiltinString}, nil
		case OpBarray:
			n, err := d.readInt(op)
			if err != nil {
				return nil, err
			}
			return CallBuiltin{Builtin: BuiltinArray, Argc: n}, nil
		}
	}
	return nil, d.unknown(op)
}

func (d *Decoder) decodeMisc(op Opcode) (Instruction, error) {
	switch op {
	case OpConst:
		n, err := d.readInt(op)
		if err != nil {
			return nil, err
		}
		return Const{Value: n}, nil
	case OpString:
		s, err := d.readString(op)
		if err != nil {
			return nil, err
		}
		return StringLit{Value: s}, nil
	case OpSexp:
		tag, err := d.readString(op)
		if err != nil {
			return nil, err
		}
		n, err := d.readInt(op)
		if err != nil {
			return nil, err
		}
		return Sexp{Tag: tag, Arity: n}, nil
	case OpSti:
		return Sti{}, nil
	case OpSta:
		return Sta{}, nil
	case OpJmp:
		target, err := d.readInt(op)
		if err != nil {
			return nil, err
		}
		return Jmp{Target: target}, nil
	case OpEnd:
		return End{}, nil
	case OpRet:
		return Ret{}, nil
	case OpDrop:
		return Drop{}, nil
	case OpDup:
		return Dup{}, nil
	case OpSwap:
		return Swap{}, nil
	case OpElem:
		return Elem{}, nil
	}
	return nil, d.unknown(op)
}

func (d *Decoder) decodeControl(op Opcode) (Instruction, error) {
	switch op {
	case OpCJmpZ, OpCJmpNZ:
		target, err := d.readInt(op)
		if err != nil {
			return nil, err
		}
		return CJmp{NonZero: op == OpCJmpNZ, Target: target}, nil

	case OpBegin, OpCBegin:
		ints, err := d.readInts(op, 2)
		if err != nil {
			return nil, err
		}
		return Begin{Args: ints[0], Locals: ints[1], Closure: op == OpCBegin}, nil

	case OpClosure:
		ints, err := d.readInts(op, 2)
		if err != nil {
			return nil, err
		}
		entry, n := ints[0], ints[1]
		if n < 0 {
			return nil, d.fail(op, fmt.Sprintf("negative capture count %d", n), nil)
		}
		// Each capture takes at least five bytes; reject counts that cannot fit
		// before allocating.
		if int64(n)*5 > int64(len(d.code)-d.pos) {
			return nil, d.fail(op, fmt.Sprintf("%d captures overrun code region", n), nil)
		}
		caps := make([]Designation, n)
		for i := range caps {
			if d.pos >= len(d.code) {
				return nil, d.fail(op, "unexpected end of bytecode", nil)
			}
			kind := d.code[d.pos]
			d.pos++
			desig, err := d.designation(op, kind)
			if err != nil {
				return nil, err
			}
			caps[i] = desig
		}
		return Closure{Entry: entry, Captures: caps}, nil

	case OpCallC:
		n, err := d.readInt(op)
		if err != nil {
			return nil, err
		}
		return CallC{Argc: n}, nil

	case OpCall:
		ints, err := d.readInts(op, 2)
		if err != nil {
			return nil, err
		}
		return Call{Target: ints[0], Argc: ints[1]}, nil

	case OpTag:
		tag, err := d.readString(op)
		if err != nil {
			return nil, err
		}
		n, err := d.readInt(op)
		if err != nil {
			return nil, err
		}
		return Tag{Tag: tag, Arity: n}, nil

	case OpArray:
		n, err := d.readInt(op)
		if err != nil {
			return nil, err
		}
		return Array{Size: n}, nil

	case OpFail:
		ints, err := d.readInts(op, 2)
		if err != nil {
			return nil, err
		}
		return Fail{Line: ints[0], Column: ints[1]}, nil

	case OpLine:
		n, err := d.readInt(op)
		if err != nil {
			return nil, err
		}
		return Line{Line: n}, nil
	}
	return nil, d.unknown(op)
}

// ---------------------------------------------------------------------------
// Operand readers
// ---------------------------------------------------------------------------

func (d *Decoder) readInt(op Opcode) (int32, error) {
	if d.pos+4 > len(d.code) {
		return 0, d.fail(op, "unexpected end of bytecode", nil)
	}
	v := int32(binary.LittleEndian.Uint32(d.code[d.pos:]))
	d.pos += 4
	return v, nil
}

func (d *Decoder) readInts(op Opcode, n int) ([]int32, error) {
	out := make([]int32, n)
	for i := range out {
		v, err := d.readInt(op)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (d *Decoder) readString(op Opcode) (string, error) {
	off, err := d.readInt(op)
	if err != nil {
		return "", err
	}
	s, err := d.img.StringAt(int(off))
	if err != nil {
		return "", d.fail(op, "bad string operand", err)
	}
	return s, nil
}

// designation reads the index operand of a designation of the given kind.
func (d *Decoder) designation(op Opcode, kind byte) (Designation, error) {
	if kind > byte(DesigAccess) {
		return Designation{}, d.fail(op, fmt.Sprintf("unknown designation kind %d", kind), nil)
	}
	idx, err := d.readInt(op)
	if err != nil {
		return Designation{}, err
	}
	return Designation{Kind: DesignationKind(kind), Index: idx}, nil
}

func (d *Decoder) unknown(op Opcode) error {
	return d.fail(op, "unknown opcode", nil)
}

func (d *Decoder) fail(op Opcode, reason string, err error) error {
	return &DecodeError{Opcode: byte(op), Offset: d.start, Cursor: d.pos, Reason: reason, Err: err}
}
