package vm

import (
	"bytes"

	"github.com/enotvtapke/virtual-machines-cub/pkg/bytecode"
)

// binop applies op to left and right. Equality between an integer and a
// non-integer is false for both == and !=; every other combination that is
// not two integers is a type error.
func binop(op bytecode.BinOp, left, right Value) (Value, error) {
	l, lok := left.(Int)
	r, rok := right.(Int)
	if op.IsEquality() && lok != rok {
		return Int(0), nil
	}
	if !lok || !rok {
		return nil, typeErrorf("BINOP "+op.String(), "operands are %s and %s, want two ints", KindOf(left), KindOf(right))
	}

	switch op {
	case bytecode.BinAdd:
		return l + r, nil
	case bytecode.BinSub:
		return l - r, nil
	case bytecode.BinMul:
		return l * r, nil
	case bytecode.BinDiv:
		if r == 0 {
			return nil, ErrDivisionByZero
		}
		return l / r, nil
	case bytecode.BinMod:
		if r == 0 {
			return nil, ErrDivisionByZero
		}
		return l % r, nil
	case bytecode.BinLt:
		return boolInt(l < r), nil
	case bytecode.BinLe:
		return boolInt(l <= r), nil
	case bytecode.BinGt:
		return boolInt(l > r), nil
	case bytecode.BinGe:
		return boolInt(l >= r), nil
	case bytecode.BinEq:
		return boolInt(l == r), nil
	case bytecode.BinNe:
		return boolInt(l != r), nil
	case bytecode.BinAnd:
		return boolInt(l != 0 && r != 0), nil
	case bytecode.BinOr:
		return boolInt(l != 0 || r != 0), nil
	}
	return nil, typeErrorf("BINOP", "unknown operator %d", op)
}

// ---------------------------------------------------------------------------
// Aggregate access
// ---------------------------------------------------------------------------

func checkIndex(what string, i, n int) {
	if i < 0 || i >= n {
		throw(&IndexError{What: what, Index: i, Len: n})
	}
}

// elem returns element i of a string, array or S-expression. String bytes
// are returned unsigned.
func elem(agg Value, i int) Value {
	switch a := agg.(type) {
	case *String:
		checkIndex("string", i, len(a.Bytes))
		return Int(a.Bytes[i])
	case *Array:
		checkIndex("array", i, len(a.Elems))
		return a.Elems[i]
	case *Sexp:
		checkIndex("sexp", i, len(a.Elems))
		return a.Elems[i]
	}
	throw(typeErrorf("ELEM", "cannot index %s", KindOf(agg)))
	return nil
}

// setElem stores v as element i of agg. Strings take the low byte of an
// integer.
func setElem(agg Value, i int, v Value) {
	switch a := agg.(type) {
	case *String:
		checkIndex("string", i, len(a.Bytes))
		n, ok := v.(Int)
		if !ok {
			throw(typeErrorf("STA", "cannot store %s into a string", KindOf(v)))
		}
		a.Bytes[i] = byte(n)
	case *Array:
		checkIndex("array", i, len(a.Elems))
		a.Elems[i] = v
	case *Sexp:
		checkIndex("sexp", i, len(a.Elems))
		a.Elems[i] = v
	default:
		throw(typeErrorf("STA", "cannot index %s", KindOf(agg)))
	}
}

func length(agg Value) Int {
	switch a := agg.(type) {
	case *String:
		return Int(len(a.Bytes))
	case *Array:
		return Int(len(a.Elems))
	case *Sexp:
		return Int(len(a.Elems))
	}
	throw(typeErrorf("Llength", "%s has no length", KindOf(agg)))
	return 0
}

// ---------------------------------------------------------------------------
// Patterns
// ---------------------------------------------------------------------------

// pattern pops the operands of a PATT check and reports whether they match.
func (in *Interpreter) pattern(p bytecode.Pattern) bool {
	x := in.pop()
	switch p {
	case bytecode.PattStr:
		y := in.pop()
		xs, xok := x.(*String)
		ys, yok := y.(*String)
		return xok && yok && bytes.Equal(xs.Bytes, ys.Bytes)
	case bytecode.PattString:
		_, ok := x.(*String)
		return ok
	case bytecode.PattArray:
		_, ok := x.(*Array)
		return ok
	case bytecode.PattSexp:
		_, ok := x.(*Sexp)
		return ok
	case bytecode.PattRef:
		_, isInt := x.(Int)
		return !isInt
	case bytecode.PattVal:
		_, isInt := x.(Int)
		return isInt
	case bytecode.PattFun:
		_, ok := x.(*Closure)
		return ok
	}
	return false
}
