package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	bc "github.com/enotvtapke/virtual-machines-cub/pkg/bytecode"
	"github.com/enotvtapke/virtual-machines-cub/report"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type cliResult struct {
	code   int
	stdout string
	stderr string
}

// workspace creates a directory with its own lamavm.toml so tests never
// pick up configuration from above the temp dir.
func workspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := "[results]\ndatabase = \"history.db\"\n\n[fixtures]\ndir = \"regression\"\n"
	if err := os.WriteFile(filepath.Join(dir, "lamavm.toml"), []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func runCLI(t *testing.T, dir, stdin string, args ...string) cliResult {
	t.Helper()
	var stdout, stderr bytes.Buffer
	e := &env{stdin: strings.NewReader(stdin), stdout: &stdout, stderr: &stderr}
	code := e.main(append([]string{"-C", dir}, args...))
	return cliResult{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func writeImage(t *testing.T, path string, instrs ...bc.Instruction) {
	t.Helper()
	b := bc.NewBuilder()
	b.Emit(instrs...)
	data, err := b.Bytes()
	if err != nil {
		t.Fatalf("assembling: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

var (
	read  = bc.CallBuiltin{Builtin: bc.BuiltinRead}
	write = bc.CallBuiltin{Builtin: bc.BuiltinWrite}
)

// sumProgram reads two integers and writes their sum and their product.
func sumProgram(t *testing.T, path string) {
	writeImage(t, path,
		read, bc.St{Desig: bc.Global(0)}, bc.Drop{},
		read, bc.St{Desig: bc.Global(1)}, bc.Drop{},
		bc.Ld{Desig: bc.Global(0)}, bc.Ld{Desig: bc.Global(1)}, bc.BinaryOp{Op: bc.BinAdd}, write, bc.Drop{},
		bc.Ld{Desig: bc.Global(0)}, bc.Ld{Desig: bc.Global(1)}, bc.BinaryOp{Op: bc.BinMul}, write,
		bc.End{},
	)
}

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

func TestParseInts(t *testing.T) {
	got, err := parseInts(strings.NewReader("1\n-2  3\n\n2147483647\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []int32{1, -2, 3, 2147483647}) {
		t.Errorf("parseInts = %v", got)
	}

	for _, bad := range []string{"x", "1 2.5", "2147483648"} {
		if _, err := parseInts(strings.NewReader(bad)); err == nil {
			t.Errorf("parseInts(%q) should fail", bad)
		}
	}
}

func TestRunCommand(t *testing.T) {
	dir := workspace(t)
	prog := filepath.Join(dir, "sum.bc")
	sumProgram(t, prog)

	res := runCLI(t, dir, "3 4\n", "run", prog)
	if res.code != 0 {
		t.Fatalf("exit code = %d, stderr:\n%s", res.code, res.stderr)
	}
	if res.stdout != "7\n12\n" {
		t.Errorf("stdout = %q, want 7 and 12 on separate lines", res.stdout)
	}
}

func TestRunCommandInputFile(t *testing.T) {
	dir := workspace(t)
	prog := filepath.Join(dir, "sum.bc")
	sumProgram(t, prog)
	input := filepath.Join(dir, "sum.input")
	if err := os.WriteFile(input, []byte("5\n6\n"), 0644); err != nil {
		t.Fatal(err)
	}

	res := runCLI(t, dir, "ignored", "run", "-input", input, prog)
	if res.code != 0 || res.stdout != "11\n30\n" {
		t.Errorf("run = %+v", res)
	}
}

func TestRunCommandMatchFailure(t *testing.T) {
	dir := workspace(t)
	prog := filepath.Join(dir, "fail.bc")
	writeImage(t, prog, bc.Const{Value: 1}, write, bc.Const{Value: 7}, bc.Fail{Line: 3, Column: 5})

	res := runCLI(t, dir, "", "run", prog)
	if res.code != 1 {
		t.Errorf("exit code = %d, want 1", res.code)
	}
	if res.stdout != "1\n" {
		t.Errorf("stdout = %q, want output written before the failure", res.stdout)
	}
	if !strings.Contains(res.stderr, "pattern match failed at 3:5 (7)") {
		t.Errorf("stderr = %q", res.stderr)
	}
}

func TestRunCommandRuntimeErrorDumpsState(t *testing.T) {
	dir := workspace(t)
	prog := filepath.Join(dir, "div.bc")
	writeImage(t, prog, bc.Const{Value: 1}, bc.Const{Value: 0}, bc.BinaryOp{Op: bc.BinDiv}, bc.End{})

	res := runCLI(t, dir, "", "run", prog)
	if res.code != 1 {
		t.Errorf("exit code = %d, want 1", res.code)
	}
	if !strings.Contains(res.stderr, "division by zero") || !strings.Contains(res.stderr, "stack:") {
		t.Errorf("stderr = %q, want the error and a state dump", res.stderr)
	}
}

func TestRunCommandStepLimit(t *testing.T) {
	dir := workspace(t)
	prog := filepath.Join(dir, "loop.bc")
	b := bc.NewBuilder()
	l := b.Here()
	b.Jmp(l)
	data, err := b.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(prog, data, 0644); err != nil {
		t.Fatal(err)
	}

	res := runCLI(t, dir, "", "run", "-steps", "50", prog)
	if res.code != 1 || !strings.Contains(res.stderr, "step limit") {
		t.Errorf("run = %+v", res)
	}
}

func TestRunCommandReportAndHistory(t *testing.T) {
	dir := workspace(t)
	prog := filepath.Join(dir, "sum.bc")
	sumProgram(t, prog)
	out := filepath.Join(dir, "out.cbor")

	res := runCLI(t, dir, "1 2", "run", "-report", out, "-save", prog)
	if res.code != 0 {
		t.Fatalf("run failed: %+v", res)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	rep, err := report.Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Image != "sum.bc" || !reflect.DeepEqual(rep.Output, []int32{3, 2}) || !rep.OK() {
		t.Errorf("report = %+v", rep)
	}

	res = runCLI(t, dir, "", "history")
	if res.code != 0 || !strings.Contains(res.stdout, rep.RunID) || !strings.Contains(res.stdout, "sum.bc") {
		t.Errorf("history = %+v", res)
	}

	res = runCLI(t, dir, "", "history", rep.RunID)
	if res.code != 0 || !strings.Contains(res.stdout, "status: ok") {
		t.Errorf("history <id> = %+v", res)
	}

	res = runCLI(t, dir, "", "history", "-image", "other.bc")
	if res.code != 0 || !strings.Contains(res.stdout, "No saved runs") {
		t.Errorf("history -image = %+v", res)
	}
}

// ---------------------------------------------------------------------------
// disasm
// ---------------------------------------------------------------------------

func TestDisasmCommand(t *testing.T) {
	dir := workspace(t)
	prog := filepath.Join(dir, "p.bc")
	writeImage(t, prog, bc.Const{Value: 42}, write, bc.End{})

	res := runCLI(t, dir, "", "disasm", "-header", prog)
	if res.code != 0 {
		t.Fatalf("disasm failed: %+v", res)
	}
	for _, want := range []string{"; Global area size", "0000  CONST 42", "0005  CALL Lwrite", "0006  END"} {
		if !strings.Contains(res.stdout, want) {
			t.Errorf("listing missing %q:\n%s", want, res.stdout)
		}
	}

	res = runCLI(t, dir, "", "disasm", "-format", "yaml", prog)
	if res.code != 0 || !strings.Contains(res.stdout, "instruction: CONST 42") {
		t.Errorf("yaml listing = %+v", res)
	}

	res = runCLI(t, dir, "", "disasm", "-format", "xml", prog)
	if res.code != 2 {
		t.Errorf("unknown format exit code = %d, want 2", res.code)
	}
}

// ---------------------------------------------------------------------------
// test
// ---------------------------------------------------------------------------

func TestTestCommand(t *testing.T) {
	dir := workspace(t)
	reg := filepath.Join(dir, "regression")
	if err := os.MkdirAll(reg, 0755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"test001.lama":     "",
		"test001.input":    "2\n3\n",
		"test001.expected": "5\n6\n",
		"test002.lama":     "",
		"test002.input":    "2\n2\n",
		"test002.expected": "5\n4\n",
		"test003.lama":     "",
		"test003.input":    "1 1\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(reg, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	for _, name := range []string{"test001", "test002", "test003"} {
		sumProgram(t, filepath.Join(reg, name+".bc"))
	}

	res := runCLI(t, dir, "", "test")
	if res.code != 1 {
		t.Errorf("exit code = %d, want 1", res.code)
	}
	if !strings.Contains(res.stdout, "2 passed, 1 failed, 3 total") {
		t.Errorf("summary missing:\n%s", res.stdout)
	}
	if !strings.Contains(res.stdout, "FAIL test002") {
		t.Errorf("test002 should fail:\n%s", res.stdout)
	}
}

func TestDiscoverFixtures(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.lama", "a.lama", "a.expected", "c.bc"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := discoverFixtures(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name != "a" || got[1].Name != "b" {
		t.Fatalf("fixtures = %+v", got)
	}
	if got[0].Expected == "" || got[1].Expected != "" {
		t.Errorf("expected files = %q, %q", got[0].Expected, got[1].Expected)
	}
}

func TestRunFixtureMissingInput(t *testing.T) {
	dir := t.TempDir()
	prog := filepath.Join(dir, "p.bc")
	writeImage(t, prog, bc.Const{Value: 9}, write, bc.End{})

	res := runFixture(context.Background(), fixture{Name: "p", Image: prog, Input: filepath.Join(dir, "p.input")}, 0)
	if res.Err != nil || !reflect.DeepEqual(res.Output, []int32{9}) || !res.passed() {
		t.Errorf("result = %+v", res)
	}
}

// ---------------------------------------------------------------------------
// misc
// ---------------------------------------------------------------------------

func TestUnknownCommand(t *testing.T) {
	res := runCLI(t, workspace(t), "", "frobnicate")
	if res.code != 2 || !strings.Contains(res.stderr, "Unknown command") {
		t.Errorf("result = %+v", res)
	}
}

func TestInvalidConfiguration(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "lamavm.toml"), []byte("[server]\nworkers = 1000\n"), 0644); err != nil {
		t.Fatal(err)
	}
	res := runCLI(t, dir, "", "history")
	if res.code != 1 || !strings.Contains(res.stderr, "configuration") {
		t.Errorf("result = %+v", res)
	}
}
