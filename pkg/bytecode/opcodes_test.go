package bytecode

import (
	"strings"
	"testing"
)

func TestOpcodeCount(t *testing.T) {
	// 13 binops, 12 misc, 12 variable accesses, 11 control, 7 patterns,
	// 5 built-ins and the terminator.
	if got := OpcodeCount(); got != 61 {
		t.Errorf("OpcodeCount() = %d, want 61", got)
	}
}

func TestOpcodeString(t *testing.T) {
	tests := []struct {
		op   Opcode
		want string
	}{
		{0x01, "BINOP +"},
		{0x0D, "BINOP !!"},
		{OpConst, "CONST"},
		{OpElem, "ELEM"},
		{OpLd | 2, "LD A"},
		{OpLda | 1, "LDA L"},
		{OpSt | 3, "ST C"},
		{OpCJmpNZ, "CJMPnz"},
		{OpClosure, "CLOSURE"},
		{OpPatt | 4, "PATT #ref"},
		{OpBarray, "CALL Barray"},
		{OpStop, "STOP"},
	}

	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("Opcode(0x%02X).String() = %q, want %q", byte(tt.op), got, tt.want)
		}
	}
}

func TestUnknownOpcodeString(t *testing.T) {
	for _, op := range []Opcode{0x00, 0x0E, 0x1C, 0x24, 0x5B, 0x67, 0x75, 0x80, 0xEE} {
		if _, ok := GetOpcodeInfo(op); ok {
			t.Errorf("GetOpcodeInfo(0x%02X) reported a defined opcode", byte(op))
		}
		if !strings.HasPrefix(op.String(), "UNKNOWN") {
			t.Errorf("Opcode(0x%02X).String() = %q, want UNKNOWN prefix", byte(op), op.String())
		}
	}
}

func TestOpcodeFamily(t *testing.T) {
	tests := []struct {
		op     Opcode
		family Family
		sub    byte
	}{
		{0x0B, FamilyBinop, 11},
		{OpSexp, FamilyMisc, 2},
		{OpLd | 3, FamilyLd, 3},
		{OpLine, FamilyControl, 10},
		{OpPatt | 6, FamilyPatt, 6},
		{OpLstring, FamilyBuiltin, 3},
		{OpStop, FamilyStop, 15},
	}
	for _, tt := range tests {
		if tt.op.Family() != tt.family || tt.op.Sub() != tt.sub {
			t.Errorf("Opcode(0x%02X) = family %d sub %d, want %d/%d",
				byte(tt.op), tt.op.Family(), tt.op.Sub(), tt.family, tt.sub)
		}
	}
}

func TestBinOpSymbols(t *testing.T) {
	want := []string{"+", "-", "*", "/", "%", "<", "<=", ">", ">=", "==", "!=", "&&", "!!"}
	for i, sym := range want {
		if got := BinOp(i).String(); got != sym {
			t.Errorf("BinOp(%d) = %q, want %q", i, got, sym)
		}
	}
	if !BinEq.IsEquality() || !BinNe.IsEquality() || BinLt.IsEquality() {
		t.Error("IsEquality should hold for == and != only")
	}
}

func TestPatternNames(t *testing.T) {
	want := []string{"=str", "#string", "#array", "#sexp", "#ref", "#val", "#fun"}
	for i, name := range want {
		if got := Pattern(i).String(); got != name {
			t.Errorf("Pattern(%d) = %q, want %q", i, got, name)
		}
	}
}
