// Package bytecode reads, decodes and writes Lama stack-machine bytecode.
//
// A bytecode file is a little-endian image with three regions:
//
//	[string_table_size:4] [global_words:4] [public_count:4]
//	[public table]  public_count pairs of (name offset, code offset)
//	[string table]  NUL-terminated strings addressed by byte offset
//	[code]          instructions, terminated by 0xFF
//
// # Components
//
//   - Image: LoadImage validates the header and slices the buffer into
//     regions without copying the code.
//
//   - Decoder: a cursor over the code region. Next decodes exactly one
//     instruction, resolving string operands through the string table.
//     Seek redirects the cursor for jumps and calls.
//
//   - Instruction: a closed set of structs, one per instruction variant,
//     each carrying exactly its encoded operands.
//
//   - Disassemble and Listing: decode the whole code region from offset 0.
//
//   - Builder: assembles images, resolving labels for forward jumps.
//
// # Opcode layout
//
// The high nibble of an opcode byte selects the family (binary operators,
// construction and stores, LD, LDA, ST, control flow, patterns, built-ins)
// and the low nibble selects the member. Operands are 32-bit little-endian
// integers, except the designation kind of each CLOSURE capture, which is
// a single byte.
package bytecode
