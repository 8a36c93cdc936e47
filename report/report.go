// Package report records the outcome of one interpreter run in a form that
// can be stored, sent over the wire and printed.
package report

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/enotvtapke/virtual-machines-cub/vm"
)

// Run statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Report is the result of running one image on one input.
type Report struct {
	RunID     string        `cbor:"1,keyasint" yaml:"run-id"`
	Image     string        `cbor:"2,keyasint" yaml:"image"`
	Input     []int32       `cbor:"3,keyasint" yaml:"input,flow"`
	Output    []int32       `cbor:"4,keyasint" yaml:"output,flow"`
	Steps     int           `cbor:"5,keyasint" yaml:"steps"`
	Status    string        `cbor:"6,keyasint" yaml:"status"`
	Failure   *Failure      `cbor:"7,keyasint,omitempty" yaml:"failure,omitempty"`
	StartedAt time.Time     `cbor:"8,keyasint" yaml:"started-at"`
	Duration  time.Duration `cbor:"9,keyasint" yaml:"duration"`
}

// Failure describes the error that ended a failed run.
type Failure struct {
	Kind    string   `cbor:"1,keyasint" yaml:"kind"`
	Message string   `cbor:"2,keyasint" yaml:"message"`
	Offset  int      `cbor:"3,keyasint" yaml:"offset"`
	Line    int32    `cbor:"4,keyasint,omitempty" yaml:"line,omitempty"`
	Column  int32    `cbor:"5,keyasint,omitempty" yaml:"column,omitempty"`
	Value   string   `cbor:"6,keyasint,omitempty" yaml:"value,omitempty"`
	Stack   []string `cbor:"7,keyasint,omitempty" yaml:"stack,omitempty,flow"`
}

// New starts a report for a run of image with the given input.
func New(image string, input []int32) *Report {
	return &Report{
		RunID:     uuid.New().String(),
		Image:     image,
		Input:     append([]int32(nil), input...),
		StartedAt: time.Now().UTC(),
	}
}

// Complete fills in the outcome of the run from in and the error returned
// by its Run.
func (r *Report) Complete(in *vm.Interpreter, err error) {
	r.Duration = time.Since(r.StartedAt)
	r.Output = in.Output()
	r.Steps = in.Steps()
	if err == nil {
		r.Status = StatusOK
		r.Failure = nil
		return
	}
	r.Status = StatusFailed
	r.Failure = FailureOf(err)
}

// FailureOf describes err. Offsets and machine state are taken from a
// *vm.RuntimeError when err wraps one.
func FailureOf(err error) *Failure {
	f := &Failure{Kind: vm.Classify(err), Message: err.Error(), Offset: -1}

	var rerr *vm.RuntimeError
	if errors.As(err, &rerr) {
		f.Offset = rerr.Offset
		f.Line = rerr.State.Line
		f.Stack = rerr.State.Stack
	}
	var mf *vm.MatchFailure
	if errors.As(err, &mf) {
		f.Line = mf.Line
		f.Column = mf.Column
		f.Value = vm.Render(mf.Value)
	}
	return f
}

// OK reports whether the run terminated normally.
func (r *Report) OK() bool { return r.Status == StatusOK }
