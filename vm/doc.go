// Package vm interprets Lama stack-machine bytecode.
//
// An Interpreter owns the whole machine state of one run: the operand stack,
// the call stack of (resume offset, caller frame) records, the current frame
// of arguments, locals and captured values, the sparse global map, and the
// input and output integer lists. Each Step decodes one instruction with the
// interpreter's own bytecode.Decoder, executes it and either advances or
// seeks the decoder.
//
// A run ends when the code terminator is reached or END/RET executes with an
// empty call stack. The first fatal error ends the run as well; it is
// returned as a *RuntimeError whose cause is one of *TypeError,
// *IndexError, *MatchFailure, a *bytecode.DecodeError or one of the
// sentinel errors of this package. Use Classify for a stable name.
//
// Runs are deterministic: the same image and input produce the same output
// and the same outcome.
package vm
