package server

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"

	bc "github.com/enotvtapke/virtual-machines-cub/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
// ---------------------------------------------------------------------------

func bg() context.Context { return context.Background() }

// echoImage reads two integers and writes their sum.
func echoImage(t *testing.T) []byte {
	t.Helper()
	return imageBytes(t, func(b *bc.Builder) {
		b.Emit(
			bc.CallBuiltin{Builtin: bc.BuiltinRead},
			bc.CallBuiltin{Builtin: bc.BuiltinRead},
			bc.BinaryOp{Op: bc.BinAdd},
			bc.CallBuiltin{Builtin: bc.BuiltinWrite},
			bc.End{},
		)
	})
}

// failImage fails a pattern match on the integer 7 at 3:5.
func failImage(t *testing.T) []byte {
	t.Helper()
	return imageBytes(t, func(b *bc.Builder) {
		b.Emit(bc.Const{Value: 7}, bc.Fail{Line: 3, Column: 5})
	})
}

// loopImage never terminates.
func loopImage(t *testing.T) []byte {
	t.Helper()
	return imageBytes(t, func(b *bc.Builder) {
		l := b.Here()
		b.Jmp(l)
	})
}

func imageBytes(t *testing.T, f func(b *bc.Builder)) []byte {
	t.Helper()
	b := bc.NewBuilder()
	f(b)
	data, err := b.Bytes()
	if err != nil {
		t.Fatalf("assembling: %v", err)
	}
	return data
}

func fixtureDir(t *testing.T, fixtures map[string][]byte) string {
	t.Helper()
	dir := t.TempDir()
	for name, data := range fixtures {
		if err := os.WriteFile(filepath.Join(dir, name+".bc"), data, 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func request(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	return s
}

func inline(data []byte) string { return base64.StdEncoding.EncodeToString(data) }

func numbers(v *structpb.Value) []float64 {
	var out []float64
	for _, x := range v.GetListValue().GetValues() {
		out = append(out, x.GetNumberValue())
	}
	return out
}
