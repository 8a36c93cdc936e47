package bytecode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// Header layout: three little-endian 32-bit integers.
const (
	headerSize      = 12
	publicEntrySize = 8
	wordSize        = 4
)

// ---------------------------------------------------------------------------
// Image Error Types
// ---------------------------------------------------------------------------

var (
	// ErrMalformedImage is wrapped by every error LoadImage returns for a
	// buffer whose header does not describe its contents.
	ErrMalformedImage = errors.New("malformed bytecode image")

	// ErrInvalidStringOffset is returned for string references outside the
	// string table or without a terminating NUL.
	ErrInvalidStringOffset = errors.New("invalid string offset")
)

// ---------------------------------------------------------------------------
// Image: a loaded bytecode file
// ---------------------------------------------------------------------------

// PublicSymbol is one entry of the public-symbol table.
type PublicSymbol struct {
	NameOffset int32
	CodeOffset int32
	Name       string // resolved through the string table; empty if unresolvable
}

// Image is an immutable view of a bytecode file. The string table, public
// table and code region alias the buffer passed to LoadImage.
type Image struct {
	data        []byte
	stringTable []byte
	publicTable []byte
	code        []byte
	codeStart   int
	globalWords int
	publics     []PublicSymbol
}

// LoadImage parses the header of data and slices it into regions.
//
// Layout:
//
//	[string_table_size:4] [global_words:4] [public_count:4]
//	[publics: public_count * (name:4 offset:4)]
//	[string_table: string_table_size]
//	[code: remainder]
func LoadImage(data []byte) (*Image, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: header needs %d bytes, have %d", ErrMalformedImage, headerSize, len(data))
	}

	stringTableSize := int32(binary.LittleEndian.Uint32(data[0:4]))
	globalWords := int32(binary.LittleEndian.Uint32(data[4:8]))
	publicCount := int32(binary.LittleEndian.Uint32(data[8:12]))

	switch {
	case stringTableSize < 0:
		return nil, fmt.Errorf("%w: negative string table size %d", ErrMalformedImage, stringTableSize)
	case globalWords < 0:
		return nil, fmt.Errorf("%w: negative global area size %d", ErrMalformedImage, globalWords)
	case publicCount < 0:
		return nil, fmt.Errorf("%w: negative public symbol count %d", ErrMalformedImage, publicCount)
	}

	offset := headerSize
	publicLen := int(publicCount) * publicEntrySize
	if publicLen > len(data)-offset {
		return nil, fmt.Errorf("%w: public table of %d entries at 0x%X overruns %d-byte image",
			ErrMalformedImage, publicCount, offset, len(data))
	}
	publicTable := data[offset : offset+publicLen]
	offset += publicLen

	if int(stringTableSize) > len(data)-offset {
		return nil, fmt.Errorf("%w: string table of %d bytes at 0x%X overruns %d-byte image",
			ErrMalformedImage, stringTableSize, offset, len(data))
	}
	stringTable := data[offset : offset+int(stringTableSize)]
	offset += int(stringTableSize)

	img := &Image{
		data:        data,
		stringTable: stringTable,
		publicTable: publicTable,
		code:        data[offset:],
		codeStart:   offset,
		globalWords: int(globalWords),
	}
	img.publics = img.readPublics()
	return img, nil
}

// ReadImageFile reads and loads a bytecode file from disk.
func ReadImageFile(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	img, err := LoadImage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

func (img *Image) readPublics() []PublicSymbol {
	n := len(img.publicTable) / publicEntrySize
	publics := make([]PublicSymbol, n)
	for i := 0; i < n; i++ {
		entry := img.publicTable[i*publicEntrySize:]
		p := PublicSymbol{
			NameOffset: int32(binary.LittleEndian.Uint32(entry[0:4])),
			CodeOffset: int32(binary.LittleEndian.Uint32(entry[4:8])),
		}
		if name, err := img.StringAt(int(p.NameOffset)); err == nil {
			p.Name = name
		}
		publics[i] = p
	}
	return publics
}

// Code returns the code region. The terminator byte is part of it.
func (img *Image) Code() []byte { return img.code }

// CodeStart returns the file offset at which the code region begins.
func (img *Image) CodeStart() int { return img.codeStart }

// StringTable returns the raw string table.
func (img *Image) StringTable() []byte { return img.stringTable }

// Bytes returns the buffer the image was loaded from.
func (img *Image) Bytes() []byte { return img.data }

// GlobalWords returns the size of the global area in 32-bit words.
func (img *Image) GlobalWords() int { return img.globalWords }

// GlobalArea returns a freshly zeroed global area of GlobalWords()*4 bytes.
func (img *Image) GlobalArea() []byte { return make([]byte, img.globalWords*wordSize) }

// Publics returns the public-symbol table.
func (img *Image) Publics() []PublicSymbol {
	out := make([]PublicSymbol, len(img.publics))
	copy(out, img.publics)
	return out
}

// PublicName returns the name of the i-th public symbol.
func (img *Image) PublicName(i int) (string, error) {
	if i < 0 || i >= len(img.publics) {
		return "", fmt.Errorf("public symbol %d out of range [0, %d)", i, len(img.publics))
	}
	return img.StringAt(int(img.publics[i].NameOffset))
}

// PublicOffset returns the code offset of the i-th public symbol.
func (img *Image) PublicOffset(i int) (int, error) {
	if i < 0 || i >= len(img.publics) {
		return 0, fmt.Errorf("public symbol %d out of range [0, %d)", i, len(img.publics))
	}
	return int(img.publics[i].CodeOffset), nil
}

// StringAt returns the NUL-terminated string starting at offset in the
// string table.
func (img *Image) StringAt(offset int) (string, error) {
	if offset < 0 || offset >= len(img.stringTable) {
		return "", fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidStringOffset, offset, len(img.stringTable))
	}
	end := bytes.IndexByte(img.stringTable[offset:], 0)
	if end < 0 {
		return "", fmt.Errorf("%w: string at %d is not NUL-terminated", ErrInvalidStringOffset, offset)
	}
	return string(img.stringTable[offset : offset+end]), nil
}
