package sandbox

import (
	"context"
	"time"

	"github.com/dop251/goja"
)

// CaptureResult is the outcome of the capture pipeline.
type CaptureResult struct {
	Stdout      *string `json:"stdout"`
	Stderr      *string `json:"stderr"`
	Error       *string `json:"error"`
	HTMLPreview *string `json:"html_preview"`
}

// Failed reports whether the program faulted.
func (r CaptureResult) Failed() bool { return r.Error != nil }

// CaptureExecutor runs programs unscreened in a full runtime and collects
// their output and the optional HTML artifact.
type CaptureExecutor struct {
	config Config
}

// NewCaptureExecutor creates a capture executor.
func NewCaptureExecutor(cfg Config) *CaptureExecutor {
	return &CaptureExecutor{config: cfg}
}

// Execute runs code. A fault fills Error with the full trace while the
// output captured before it is still returned.
func (x *CaptureExecutor) Execute(ctx context.Context, code string) (res CaptureResult) {
	streams := NewStreams(x.config.MaxOutputBytes)
	defer streams.Release()

	var vm *goja.Runtime
	finish := func(err error) CaptureResult {
		stdout, stderr := streams.Stdout(), streams.Stderr()
		out := CaptureResult{Stdout: &stdout, Stderr: &stderr, HTMLPreview: htmlOutput(vm)}
		if err != nil {
			trace := faultTrace(err)
			out.Error = &trace
		}
		return out
	}
	defer func() {
		if r := recover(); r != nil {
			res = finish(recoverFault(r))
		}
	}()

	prg, err := goja.Compile(UnitName, code, false)
	if err != nil {
		return finish(err)
	}
	vm, err = newFullRuntime(x.config, streams)
	if err != nil {
		return finish(err)
	}
	return finish(runProgram(ctx, vm, prg, x.config.Timeout))
}

// htmlLookup reads the artifact through the global scope, so top-level
// let and const bindings are found as well as global properties.
var htmlLookup = goja.MustCompile("<html_output>",
	"typeof "+HTMLOutputVar+" === 'string' ? "+HTMLOutputVar+" : undefined", false)

// htmlLookupTimeout bounds the lookup when the artifact is an accessor.
const htmlLookupTimeout = time.Second

// htmlOutput reads the artifact variable from vm when it holds a string.
// A throwing or non-terminating getter yields no artifact.
func htmlOutput(vm *goja.Runtime) (html *string) {
	if vm == nil {
		return nil
	}
	defer func() {
		if recover() != nil {
			html = nil
		}
	}()

	// A timeout that fired as the program finished must not hit the lookup.
	vm.ClearInterrupt()
	v, err := runValue(context.Background(), vm, htmlLookup, htmlLookupTimeout)
	if err != nil || v == nil || goja.IsUndefined(v) {
		return nil
	}
	if s, ok := v.Export().(string); ok {
		return &s
	}
	return nil
}
