package bytecode

import "fmt"

// Opcode is the first byte of an encoded instruction. The high nibble
// selects an instruction family, the low nibble the member of that family.
type Opcode byte

// Family is the high nibble of an opcode.
type Family byte

const (
	FamilyBinop   Family = 0x0
	FamilyMisc    Family = 0x1
	FamilyLd      Family = 0x2
	FamilyLda     Family = 0x3
	FamilySt      Family = 0x4
	FamilyControl Family = 0x5
	FamilyPatt    Family = 0x6
	FamilyBuiltin Family = 0x7
	FamilyStop    Family = 0xF
)

// Family returns the instruction family of the opcode.
func (op Opcode) Family() Family { return Family(op >> 4) }

// Sub returns the low nibble of the opcode.
func (op Opcode) Sub() byte { return byte(op) & 0x0F }

const (
	// ========================================================================
	// Binary operators (0x01-0x0D): low nibble is operator index + 1
	// ========================================================================

	OpBinop Opcode = 0x00

	// ========================================================================
	// Construction, stores and stack shuffling (0x10-0x1B)
	// ========================================================================

	OpConst  Opcode = 0x10 // CONST <value:i32>
	OpString Opcode = 0x11 // STRING <str:i32>
	OpSexp   Opcode = 0x12 // SEXP <tag:i32> <arity:i32>
	OpSti    Opcode = 0x13 // store through reference
	OpSta    Opcode = 0x14 // store into aggregate or through reference
	OpJmp    Opcode = 0x15 // JMP <target:i32>
	OpEnd    Opcode = 0x16 // end of function body
	OpRet    Opcode = 0x17 // return
	OpDrop   Opcode = 0x18
	OpDup    Opcode = 0x19
	OpSwap   Opcode = 0x1A
	OpElem   Opcode = 0x1B // aggregate element load

	// ========================================================================
	// Variable access (0x20-0x43): low nibble is the designation kind
	// ========================================================================

	OpLd  Opcode = 0x20 // LD <index:i32>
	OpLda Opcode = 0x30 // LDA <index:i32>
	OpSt  Opcode = 0x40 // ST <index:i32>

	// ========================================================================
	// Control flow, calls and shape checks (0x50-0x5A)
	// ========================================================================

	OpCJmpZ   Opcode = 0x50 // CJMPz <target:i32>
	OpCJmpNZ  Opcode = 0x51 // CJMPnz <target:i32>
	OpBegin   Opcode = 0x52 // BEGIN <args:i32> <locals:i32>
	OpCBegin  Opcode = 0x53 // CBEGIN <args:i32> <locals:i32>
	OpClosure Opcode = 0x54 // CLOSURE <entry:i32> <n:i32> n*(<kind:u8> <index:i32>)
	OpCallC   Opcode = 0x55 // CALLC <argc:i32>
	OpCall    Opcode = 0x56 // CALL <target:i32> <argc:i32>
	OpTag     Opcode = 0x57 // TAG <tag:i32> <arity:i32>
	OpArray   Opcode = 0x58 // ARRAY <size:i32>
	OpFail    Opcode = 0x59 // FAIL <line:i32> <col:i32>
	OpLine    Opcode = 0x5A // LINE <line:i32>

	// ========================================================================
	// Pattern checks (0x60-0x66): low nibble is the pattern
	// ========================================================================

	OpPatt Opcode = 0x60

	// ========================================================================
	// Runtime built-ins (0x70-0x74)
	// ========================================================================

	OpLread   Opcode = 0x70
	OpLwrite  Opcode = 0x71
	OpLlength Opcode = 0x72
	OpLstring Opcode = 0x73
	OpBarray  Opcode = 0x74 // Barray <argc:i32>

	// OpStop terminates the code region.
	OpStop Opcode = 0xFF
)

// OpcodeInfo provides metadata about each opcode for disassembly and validation.
type OpcodeInfo struct {
	Name       string // Mnemonic
	OperandLen int    // Fixed operand bytes following the opcode (-1 = variable)
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpConst:  {"CONST", 4},
	OpString: {"STRING", 4},
	OpSexp:   {"SEXP", 8},
	OpSti:    {"STI", 0},
	OpSta:    {"STA", 0},
	OpJmp:    {"JMP", 4},
	OpEnd:    {"END", 0},
	OpRet:    {"RET", 0},
	OpDrop:   {"DROP", 0},
	OpDup:    {"DUP", 0},
	OpSwap:   {"SWAP", 0},
	OpElem:   {"ELEM", 0},

	OpCJmpZ:   {"CJMPz", 4},
	OpCJmpNZ:  {"CJMPnz", 4},
	OpBegin:   {"BEGIN", 8},
	OpCBegin:  {"CBEGIN", 8},
	OpClosure: {"CLOSURE", -1},
	OpCallC:   {"CALLC", 4},
	OpCall:    {"CALL", 8},
	OpTag:     {"TAG", 8},
	OpArray:   {"ARRAY", 4},
	OpFail:    {"FAIL", 8},
	OpLine:    {"LINE", 4},

	OpLread:   {"CALL Lread", 0},
	OpLwrite:  {"CALL Lwrite", 0},
	OpLlength: {"CALL Llength", 0},
	OpLstring: {"CALL Lstring", 0},
	OpBarray:  {"CALL Barray", 4},

	OpStop: {"STOP", 0},
}

func init() {
	for op := BinAdd; op <= BinOr; op++ {
		opcodeInfoTable[OpBinop|Opcode(op+1)] = OpcodeInfo{"BINOP " + op.String(), 0}
	}
	for k := DesigGlobal; k <= DesigAccess; k++ {
		opcodeInfoTable[OpLd|Opcode(k)] = OpcodeInfo{"LD " + k.Letter(), 4}
		opcodeInfoTable[OpLda|Opcode(k)] = OpcodeInfo{"LDA " + k.Letter(), 4}
		opcodeInfoTable[OpSt|Opcode(k)] = OpcodeInfo{"ST " + k.Letter(), 4}
	}
	for p := PattStr; p <= PattFun; p++ {
		opcodeInfoTable[OpPatt|Opcode(p)] = OpcodeInfo{"PATT " + p.String(), 0}
	}
}

// GetOpcodeInfo returns metadata for an opcode and whether the opcode is defined.
func GetOpcodeInfo(op Opcode) (OpcodeInfo, bool) {
	info, ok := opcodeInfoTable[op]
	if !ok {
		return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}, false
	}
	return info, true
}

// String returns the mnemonic of an opcode.
func (op Opcode) String() string {
	info, _ := GetOpcodeInfo(op)
	return info.Name
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}

// ---------------------------------------------------------------------------
// Binary operators
// ---------------------------------------------------------------------------

// BinOp identifies one of the thirteen binary operators.
type BinOp byte

const (
	BinAdd BinOp = iota
	BinSub
	BinMul
	BinDiv
	BinMod
	BinLt
	BinLe
	BinGt
	BinGe
	BinEq
	BinNe
	BinAnd
	BinOr
)

var binOpSymbols = [...]string{"+", "-", "*", "/", "%", "<", "<=", ">", ">=", "==", "!=", "&&", "!!"}

// String returns the operator as written in source.
func (op BinOp) String() string {
	if int(op) < len(binOpSymbols) {
		return binOpSymbols[op]
	}
	return fmt.Sprintf("BinOp(%d)", op)
}

// IsEquality reports whether op is == or !=.
func (op BinOp) IsEquality() bool { return op == BinEq || op == BinNe }

// ---------------------------------------------------------------------------
// Patterns
// ---------------------------------------------------------------------------

// Pattern identifies a PATT shape check.
type Pattern byte

const (
	PattStr    Pattern = iota // string equality
	PattString                // #string
	PattArray                 // #array
	PattSexp                  // #sexp
	PattRef                   // #ref: any boxed value
	PattVal                   // #val: any unboxed value
	PattFun                   // #fun: closures
)

var patternNames = [...]string{"=str", "#string", "#array", "#sexp", "#ref", "#val", "#fun"}

func (p Pattern) String() string {
	if int(p) < len(patternNames) {
		return patternNames[p]
	}
	return fmt.Sprintf("Pattern(%d)", p)
}

// ---------------------------------------------------------------------------
// Built-ins
// ---------------------------------------------------------------------------

// Builtin identifies a runtime built-in function.
type Builtin byte

const (
	BuiltinRead Builtin = iota
	BuiltinWrite
	BuiltinLength
	BuiltinString
	BuiltinArray
	BuiltinElem
)

var builtinNames = [...]string{"Lread", "Lwrite", "Llength", "Lstring", "Barray", "Belem"}

func (b Builtin) String() string {
	if int(b) < len(builtinNames) {
		return builtinNames[b]
	}
	return fmt.Sprintf("Builtin(%d)", b)
}
