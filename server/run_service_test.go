package server

import (
	"math"
	"path/filepath"
	"reflect"
	"testing"

	"connectrpc.com/connect"

	bc "github.com/enotvtapke/virtual-machines-cub/pkg/bytecode"
	"github.com/enotvtapke/virtual-machines-cub/report"
	"github.com/enotvtapke/virtual-machines-cub/store"
	"github.com/enotvtapke/virtual-machines-cub/vm"
)

func newTestService(t *testing.T, fixtureDir string, st *store.Store) *RunService {
	t.Helper()
	pool := NewWorkerPool(2)
	t.Cleanup(pool.Stop)
	return NewRunService(pool, st, fixtureDir, 0)
}

// ---------------------------------------------------------------------------
// Run: happy paths
// ---------------------------------------------------------------------------

func TestRun_Inline(t *testing.T) {
	svc := newTestService(t, "", nil)

	resp, err := svc.Run(bg(), request(t, map[string]any{
		"image": inline(echoImage(t)),
		"input": []any{2, 3},
	}))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	f := resp.GetFields()
	if f["status"].GetStringValue() != report.StatusOK {
		t.Fatalf("status = %q, failure = %v", f["status"].GetStringValue(), f["failure"])
	}
	if got := numbers(f["output"]); !reflect.DeepEqual(got, []float64{5}) {
		t.Errorf("output = %v, want [5]", got)
	}
	if f["steps"].GetNumberValue() != 5 {
		t.Errorf("steps = %v, want 5", f["steps"].GetNumberValue())
	}
	if f["runId"].GetStringValue() == "" {
		t.Error("runId is empty")
	}
	if _, ok := f["failure"]; ok {
		t.Error("successful run has a failure")
	}
}

func TestRun_Fixture(t *testing.T) {
	dir := fixtureDir(t, map[string][]byte{"sum": echoImage(t)})
	svc := newTestService(t, dir, nil)

	resp, err := svc.Run(bg(), request(t, map[string]any{
		"fixture": "sum",
		"input":   []any{-4, 1},
	}))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := numbers(resp.GetFields()["output"]); !reflect.DeepEqual(got, []float64{-3}) {
		t.Errorf("output = %v, want [-3]", got)
	}
}

func TestRun_MatchFailure(t *testing.T) {
	svc := newTestService(t, "", nil)

	resp, err := svc.Run(bg(), request(t, map[string]any{"image": inline(failImage(t))}))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	f := resp.GetFields()
	if f["status"].GetStringValue() != report.StatusFailed {
		t.Fatalf("status = %q", f["status"].GetStringValue())
	}
	failure := f["failure"].GetStructValue().GetFields()
	if failure["kind"].GetStringValue() != vm.KindMatch {
		t.Errorf("kind = %q, want %q", failure["kind"].GetStringValue(), vm.KindMatch)
	}
	if failure["line"].GetNumberValue() != 3 || failure["column"].GetNumberValue() != 5 {
		t.Errorf("position = %v:%v, want 3:5", failure["line"], failure["column"])
	}
	if failure["value"].GetStringValue() != "7" {
		t.Errorf("value = %q, want 7", failure["value"].GetStringValue())
	}
}

func TestRun_StepLimit(t *testing.T) {
	svc := newTestService(t, "", nil)

	resp, err := svc.Run(bg(), request(t, map[string]any{
		"image":     inline(loopImage(t)),
		"stepLimit": 100,
	}))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	f := resp.GetFields()
	if kind := f["failure"].GetStructValue().GetFields()["kind"].GetStringValue(); kind != vm.KindStepLimit {
		t.Errorf("kind = %q, want %q", kind, vm.KindStepLimit)
	}
	if f["steps"].GetNumberValue() != 100 {
		t.Errorf("steps = %v, want 100", f["steps"].GetNumberValue())
	}
}

func TestRun_StepLimitReachedAtEndOfCode(t *testing.T) {
	svc := newTestService(t, "", nil)
	img := imageBytes(t, func(b *bc.Builder) {
		b.Emit(bc.Const{Value: 42}, bc.CallBuiltin{Builtin: bc.BuiltinWrite})
	})

	resp, err := svc.Run(bg(), request(t, map[string]any{"image": inline(img), "stepLimit": 2}))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	f := resp.GetFields()
	if f["status"].GetStringValue() != report.StatusOK {
		t.Fatalf("status = %q, failure = %v", f["status"].GetStringValue(), f["failure"])
	}
	if got := numbers(f["output"]); !reflect.DeepEqual(got, []float64{42}) {
		t.Errorf("output = %v, want [42]", got)
	}
}

func TestRun_OversizedFrame(t *testing.T) {
	svc := newTestService(t, "", nil)
	img := imageBytes(t, func(b *bc.Builder) {
		b.Emit(bc.Begin{Args: 0, Locals: math.MaxInt32}, bc.End{})
	})

	resp, err := svc.Run(bg(), request(t, map[string]any{"image": inline(img)}))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	f := resp.GetFields()
	if f["status"].GetStringValue() != report.StatusFailed {
		t.Fatalf("status = %q", f["status"].GetStringValue())
	}
	if kind := f["failure"].GetStructValue().GetFields()["kind"].GetStringValue(); kind != vm.KindFrameSize {
		t.Errorf("kind = %q, want %q", kind, vm.KindFrameSize)
	}
}

func TestRun_SavesReport(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	svc := newTestService(t, "", st)

	resp, err := svc.Run(bg(), request(t, map[string]any{
		"image": inline(echoImage(t)),
		"input": []any{1, 1},
	}))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	id := resp.GetFields()["runId"].GetStringValue()
	rep, err := st.Get(bg(), id)
	if err != nil {
		t.Fatalf("report not saved: %v", err)
	}
	if !reflect.DeepEqual(rep.Output, []int32{2}) || rep.Image != inlineImageName {
		t.Errorf("saved report = %+v", rep)
	}
}

// ---------------------------------------------------------------------------
// Run: invalid requests
// ---------------------------------------------------------------------------

func TestRun_InvalidRequests(t *testing.T) {
	dir := fixtureDir(t, map[string][]byte{"sum": echoImage(t), "junk": {1, 2, 3}})
	svc := newTestService(t, dir, nil)
	img := inline(echoImage(t))

	tests := []struct {
		name   string
		fields map[string]any
		code   connect.Code
	}{
		{"no image", map[string]any{"input": []any{1}}, connect.CodeInvalidArgument},
		{"bad base64", map[string]any{"image": "!!"}, connect.CodeInvalidArgument},
		{"malformed image", map[string]any{"fixture": "junk"}, connect.CodeInvalidArgument},
		{"missing fixture", map[string]any{"fixture": "nope"}, connect.CodeNotFound},
		{"fixture path", map[string]any{"fixture": "../sum"}, connect.CodeInvalidArgument},
		{"hidden fixture", map[string]any{"fixture": ".sum"}, connect.CodeInvalidArgument},
		{"input not a list", map[string]any{"image": img, "input": "1 2"}, connect.CodeInvalidArgument},
		{"fractional input", map[string]any{"image": img, "input": []any{1.5}}, connect.CodeInvalidArgument},
		{"input out of range", map[string]any{"image": img, "input": []any{1 << 40}}, connect.CodeInvalidArgument},
		{"negative step limit", map[string]any{"image": img, "stepLimit": -1}, connect.CodeInvalidArgument},
		{"step limit too large", map[string]any{"image": img, "stepLimit": 1e300}, connect.CodeInvalidArgument},
		{"fractional step limit", map[string]any{"image": img, "stepLimit": 2.5}, connect.CodeInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Run(bg(), request(t, tt.fields))
			if err == nil {
				t.Fatal("expected error")
			}
			if connect.CodeOf(err) != tt.code {
				t.Errorf("code = %v, want %v (%v)", connect.CodeOf(err), tt.code, err)
			}
		})
	}
}

func TestRun_NoFixtureDir(t *testing.T) {
	svc := newTestService(t, "", nil)
	_, err := svc.Run(bg(), request(t, map[string]any{"fixture": "sum"}))
	if connect.CodeOf(err) != connect.CodeFailedPrecondition {
		t.Errorf("code = %v, want failed_precondition", connect.CodeOf(err))
	}
}

// ---------------------------------------------------------------------------
// Disassemble
// ---------------------------------------------------------------------------

func TestDisassemble(t *testing.T) {
	svc := newTestService(t, "", nil)

	resp, err := svc.Disassemble(bg(), request(t, map[string]any{"image": inline(echoImage(t))}))
	if err != nil {
		t.Fatalf("Disassemble returned error: %v", err)
	}

	listing := resp.GetFields()["listing"].GetListValue().GetValues()
	want := []string{"CALL Lread", "CALL Lread", "BINOP +", "CALL Lwrite", "END"}
	if len(listing) != len(want) {
		t.Fatalf("listing has %d entries, want %d", len(listing), len(want))
	}
	for i, w := range want {
		got := listing[i].GetStructValue().GetFields()["instruction"].GetStringValue()
		if got != w {
			t.Errorf("listing[%d] = %q, want %q", i, got, w)
		}
	}
	if off := listing[2].GetStructValue().GetFields()["offset"].GetNumberValue(); off != 2 {
		t.Errorf("listing[2] offset = %v, want 2", off)
	}
	if _, ok := resp.GetFields()["error"]; ok {
		t.Error("unexpected decode error")
	}
}

func TestDisassemble_DecodeError(t *testing.T) {
	svc := newTestService(t, "", nil)
	data := imageBytes(t, func(b *bc.Builder) { b.Emit(bc.Const{Value: 1}).Raw(0x1F) })

	resp, err := svc.Disassemble(bg(), request(t, map[string]any{"image": inline(data)}))
	if err != nil {
		t.Fatalf("Disassemble returned error: %v", err)
	}
	if resp.GetFields()["error"].GetStringValue() == "" {
		t.Error("expected a decode error in the response")
	}
	if n := len(resp.GetFields()["listing"].GetListValue().GetValues()); n != 1 {
		t.Errorf("listing has %d entries, want 1", n)
	}
}
