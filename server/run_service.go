package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/enotvtapke/virtual-machines-cub/pkg/bytecode"
	"github.com/enotvtapke/virtual-machines-cub/report"
	"github.com/enotvtapke/virtual-machines-cub/store"
	"github.com/enotvtapke/virtual-machines-cub/vm"
)

// Procedure names of the run service.
const (
	RunServiceName       = "lamavm.v1.RunService"
	RunProcedure         = "/" + RunServiceName + "/Run"
	DisassembleProcedure = "/" + RunServiceName + "/Disassemble"
)

const (
	inlineImageName       = "<inline>"
	fixtureImageExtension = ".bc"
)

// RunServiceServer is the transport-independent run service.
type RunServiceServer interface {
	Run(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Disassemble(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RunService executes and disassembles bytecode images on request.
type RunService struct {
	pool       *WorkerPool
	store      *store.Store
	fixtureDir string
	stepLimit  int
}

// NewRunService creates a RunService. st may be nil, in which case reports
// are not saved.
func NewRunService(pool *WorkerPool, st *store.Store, fixtureDir string, stepLimit int) *RunService {
	return &RunService{
		pool:       pool,
		store:      st,
		fixtureDir: fixtureDir,
		stepLimit:  stepLimit,
	}
}

// Run executes an image on an input. Request fields: image (base64) or
// fixture (name in the fixture directory), input (list of integers),
// stepLimit. A program that fails is still a successful call; the failure
// is described in the response.
func (s *RunService) Run(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name, img, err := s.image(req)
	if err != nil {
		return nil, err
	}
	input, err := intList(req, "input")
	if err != nil {
		return nil, err
	}
	limit := s.stepLimit
	if v, ok := req.GetFields()["stepLimit"]; ok {
		n := v.GetNumberValue()
		if n < 0 || n > math.MaxInt32 || n != math.Trunc(n) {
			return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("stepLimit must be an integer in [0, %d]", math.MaxInt32))
		}
		limit = int(n)
	}

	result, err := s.pool.Do(ctx, func(ctx context.Context) (any, error) {
		rep := report.New(name, input)
		in := vm.New(img, input, vm.WithStepLimit(limit))
		rep.Complete(in, in.Run(ctx))
		return rep, nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, connect.NewError(connect.CodeCanceled, err)
		}
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	rep := result.(*report.Report)

	if s.store != nil {
		if err := s.store.Save(ctx, rep); err != nil {
			log.Errorf("run %s not saved: %s", rep.RunID, err)
		}
	}
	log.Infof("run %s of %s: %s after %d steps", rep.RunID, name, rep.Status, rep.Steps)
	return reportStruct(rep)
}

// Disassemble lists the instructions of an image. A decode error ends the
// listing and is reported in the error field.
func (s *RunService) Disassemble(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	_, img, err := s.image(req)
	if err != nil {
		return nil, err
	}

	entries, derr := bytecode.Disassemble(img)
	listing := make([]any, 0, len(entries))
	for _, e := range entries {
		listing = append(listing, map[string]any{
			"offset":      e.Offset,
			"instruction": e.Instr.String(),
		})
	}
	publics := make([]any, 0, len(img.Publics()))
	for _, p := range img.Publics() {
		publics = append(publics, map[string]any{"name": p.Name, "offset": int(p.CodeOffset)})
	}

	out := map[string]any{
		"globals": img.GlobalWords(),
		"publics": publics,
		"listing": listing,
	}
	if derr != nil {
		out["error"] = derr.Error()
	}
	return newStruct(out)
}

// image resolves the image named by a request.
func (s *RunService) image(req *structpb.Struct) (string, *bytecode.Image, error) {
	fields := req.GetFields()
	var (
		name string
		data []byte
		err  error
	)
	switch {
	case fields["image"] != nil:
		name = inlineImageName
		data, err = base64.StdEncoding.DecodeString(fields["image"].GetStringValue())
		if err != nil {
			return "", nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("image is not base64: %w", err))
		}
	case fields["fixture"] != nil:
		name = fields["fixture"].GetStringValue()
		if data, err = s.readFixture(name); err != nil {
			return "", nil, err
		}
	default:
		return "", nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("image or fixture is required"))
	}

	img, err := bytecode.LoadImage(data)
	if err != nil {
		return "", nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return name, img, nil
}

func (s *RunService) readFixture(name string) ([]byte, error) {
	if s.fixtureDir == "" {
		return nil, connect.NewError(connect.CodeFailedPrecondition, fmt.Errorf("no fixture directory configured"))
	}
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid fixture name %q", name))
	}
	data, err := os.ReadFile(filepath.Join(s.fixtureDir, name+fixtureImageExtension))
	if errors.Is(err, os.ErrNotExist) {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("fixture %q not found", name))
	}
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return data, nil
}

// ---------------------------------------------------------------------------
// structpb helpers
// ---------------------------------------------------------------------------

func intList(req *structpb.Struct, field string) ([]int32, error) {
	v, ok := req.GetFields()[field]
	if !ok {
		return nil, nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("%s must be a list", field))
	}
	out := make([]int32, 0, len(list.GetValues()))
	for i, x := range list.GetValues() {
		n, ok := x.GetKind().(*structpb.Value_NumberValue)
		if !ok || n.NumberValue != math.Trunc(n.NumberValue) ||
			n.NumberValue < math.MinInt32 || n.NumberValue > math.MaxInt32 {
			return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("%s[%d] is not a 32-bit integer", field, i))
		}
		out = append(out, int32(n.NumberValue))
	}
	return out, nil
}

func ints(xs []int32) []any {
	out := make([]any, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}

func reportStruct(r *report.Report) (*structpb.Struct, error) {
	out := map[string]any{
		"runId":  r.RunID,
		"status": r.Status,
		"output": ints(r.Output),
		"steps":  r.Steps,
	}
	if f := r.Failure; f != nil {
		failure := map[string]any{
			"kind":    f.Kind,
			"message": f.Message,
			"offset":  f.Offset,
		}
		if f.Line != 0 || f.Column != 0 {
			failure["line"] = f.Line
			failure["column"] = f.Column
		}
		if f.Value != "" {
			failure["value"] = f.Value
		}
		out["failure"] = failure
	}
	return newStruct(out)
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return s, nil
}
