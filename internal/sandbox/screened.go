package sandbox

import (
	"context"

	"github.com/dop251/goja"
)

// RejectionMessage is returned for programs the screener refuses.
const RejectionMessage = "Code contains potentially unsafe operations and was blocked for security reasons."

// ScreenedResult is the outcome of the screened pipeline.
type ScreenedResult struct {
	Output string  `json:"output"`
	Error  *string `json:"error"`

	// Verdict records why a program was rejected. Unset for admitted programs.
	Verdict Verdict `json:"-"`
}

// Rejected reports whether the screener refused the program.
func (r ScreenedResult) Rejected() bool { return r.Verdict.Unsafe }

// Failed reports whether the result carries an error.
func (r ScreenedResult) Failed() bool { return r.Error != nil }

// ScreenedExecutor screens a program and runs what it admits inside a
// runtime that exposes only the capability table.
type ScreenedExecutor struct {
	config Config
}

// NewScreenedExecutor creates a screened executor.
func NewScreenedExecutor(cfg Config) *ScreenedExecutor {
	return &ScreenedExecutor{config: cfg}
}

// Execute screens, compiles and runs code. Every outcome, including
// rejection and faults, is reported in the result.
func (x *ScreenedExecutor) Execute(ctx context.Context, code string) (res ScreenedResult) {
	if verdict := Screen(code); verdict.Unsafe {
		return rejected(verdict)
	}

	prg, err := goja.Compile(UnitName, code, false)
	if err != nil {
		return screenedFault(err)
	}

	streams := NewStreams(x.config.MaxOutputBytes)
	defer streams.Release()
	defer func() {
		if r := recover(); r != nil {
			res = screenedFault(recoverFault(r))
		}
	}()

	vm, err := newRestrictedRuntime(x.config, streams)
	if err != nil {
		return screenedFault(err)
	}
	if err := runProgram(ctx, vm, prg, x.config.Timeout); err != nil {
		return screenedFault(err)
	}

	res.Output = streams.Stdout()
	if stderr := streams.Stderr(); stderr != "" {
		res.Error = &stderr
	}
	return res
}

func rejected(v Verdict) ScreenedResult {
	msg := RejectionMessage
	return ScreenedResult{Error: &msg, Verdict: v}
}

func screenedFault(err error) ScreenedResult {
	msg := "Error: " + faultMessage(err)
	return ScreenedResult{Error: &msg}
}
