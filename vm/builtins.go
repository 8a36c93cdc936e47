package vm

import (
	"fmt"

	"github.com/enotvtapke/virtual-machines-cub/pkg/bytecode"
)

// builtin invokes a runtime built-in. Its operands are on the stack; argc
// is only used by Barray.
func (in *Interpreter) builtin(b bytecode.Builtin, argc int32) {
	switch b {
	case bytecode.BuiltinRead:
		if len(in.input) == 0 {
			throw(ErrInputExhausted)
		}
		in.push(Int(in.input[0]))
		in.input = in.input[1:]

	case bytecode.BuiltinWrite:
		n := in.popInt("Lwrite")
		in.output = append(in.output, int32(n))
		in.push(Empty{})

	case bytecode.BuiltinLength:
		in.push(length(in.pop()))

	case bytecode.BuiltinElem:
		idx := in.popInt("Belem")
		in.push(elem(in.pop(), int(idx)))

	case bytecode.BuiltinArray:
		in.push(&Array{Elems: in.popN(argc)})

	case bytecode.BuiltinString:
		in.push(NewString(Render(in.pop())))

	default:
		throw(fmt.Errorf("unknown built-in %s", b))
	}
}
