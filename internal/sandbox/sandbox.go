// Package sandbox screens and executes untrusted JavaScript programs.
//
// Two pipelines are offered. The screened pipeline rejects programs that
// call deny-listed functions or load modules, then runs the rest in a
// runtime whose globals are replaced by a fixed capability table. The
// capture pipeline runs anything in a full runtime and reports stdout,
// stderr, the fault trace and an optional HTML artifact.
//
// Each execution gets its own runtime and its own output sinks. A Runner
// decides where that runtime lives: in this process, in a pool of worker
// processes, or in a throwaway container.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrTimeout       = errors.New("execution timed out")
	ErrWorkerCrashed = errors.New("sandbox worker crashed")
	ErrPoolExhausted = errors.New("no available sandbox workers")
	ErrPoolClosed    = errors.New("sandbox pool is closed")
	ErrBadResponse   = errors.New("malformed sandbox response")
	ErrInternal      = errors.New("internal sandbox error")
)

// Mode determines where programs are executed.
type Mode string

const (
	// ModeInProcess runs programs in the server process (default).
	ModeInProcess Mode = "inprocess"

	// ModeProcess runs programs in pre-forked worker processes with OS
	// resource limits.
	ModeProcess Mode = "process"

	// ModeContainer runs every program in a fresh container.
	ModeContainer Mode = "container"
)

// Pipeline names one of the two execution pipelines.
type Pipeline string

const (
	PipelineScreened Pipeline = "screened"
	PipelineCapture  Pipeline = "capture"
)

// Config holds sandbox configuration.
type Config struct {
	// Mode selects the Runner built by NewRunner.
	Mode Mode `mapstructure:"mode"`

	// Timeout is the wall-clock budget per execution. Zero disables it.
	Timeout time.Duration `mapstructure:"timeout"`

	// MaxCallStack caps the call depth of submitted programs.
	MaxCallStack int `mapstructure:"max_call_stack"`

	// MaxOutputBytes caps each captured stream. Output past the cap is
	// dropped and a marker appended.
	MaxOutputBytes int `mapstructure:"max_output_bytes"`

	// WorkerCount is the number of pre-forked worker processes.
	WorkerCount int `mapstructure:"worker_count"`

	// AcquireTimeout bounds the wait for an idle worker in process mode.
	// Zero waits until the caller's context ends.
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`

	// WorkerBinary is the worker executable. If empty, the current
	// executable is started with WorkerFlag.
	WorkerBinary string `mapstructure:"worker_binary"`

	// MaxMemoryMB is the memory limit per worker in megabytes. Zero
	// leaves memory unlimited.
	MaxMemoryMB int `mapstructure:"max_memory_mb"`

	// Container config (used when Mode == ModeContainer)
	Container ContainerConfig `mapstructure:"container"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:           ModeInProcess,
		Timeout:        5 * time.Second,
		MaxCallStack:   1024,
		MaxOutputBytes: 1024 * 1024, // 1MB
		WorkerCount:    4,
		AcquireTimeout: 30 * time.Second,
		WorkerBinary:   "",
		MaxMemoryMB:    0,
		Container:      DefaultContainerConfig(),
	}
}

// Runner executes programs through both pipelines.
type Runner interface {
	// ExecuteCode runs code through the screened pipeline.
	ExecuteCode(ctx context.Context, code string) ScreenedResult

	// ExecuteScript runs code through the capture pipeline.
	ExecuteScript(ctx context.Context, code string) CaptureResult

	// Close releases resources.
	Close() error
}

// NewRunner creates a Runner based on configuration.
func NewRunner(cfg Config) (Runner, error) {
	switch cfg.Mode {
	case ModeInProcess, "":
		return NewInProcessRunner(cfg), nil

	case ModeProcess:
		pool, err := NewPool(cfg)
		if err != nil {
			return nil, err
		}
		return NewRemoteRunner(pool), nil

	case ModeContainer:
		return NewRemoteRunner(NewContainerSandbox(cfg.Container)), nil

	default:
		return nil, fmt.Errorf("unknown sandbox mode: %s", cfg.Mode)
	}
}

// Request is one execution shipped to a worker.
type Request struct {
	Pipeline Pipeline `json:"pipeline"`
	Code     string   `json:"code"`
}

// Response carries exactly one of the pipeline results, or Error when the
// worker could not serve the request.
type Response struct {
	Screened *ScreenedResult `json:"screened,omitempty"`
	Capture  *CaptureResult  `json:"capture,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// InProcessRunner runs both pipelines in the current process.
type InProcessRunner struct {
	screened *ScreenedExecutor
	capture  *CaptureExecutor
}

// NewInProcessRunner creates an in-process runner.
func NewInProcessRunner(cfg Config) *InProcessRunner {
	return &InProcessRunner{
		screened: NewScreenedExecutor(cfg),
		capture:  NewCaptureExecutor(cfg),
	}
}

// ExecuteCode runs code through the screened pipeline.
func (r *InProcessRunner) ExecuteCode(ctx context.Context, code string) ScreenedResult {
	return r.screened.Execute(ctx, code)
}

// ExecuteScript runs code through the capture pipeline.
func (r *InProcessRunner) ExecuteScript(ctx context.Context, code string) CaptureResult {
	return r.capture.Execute(ctx, code)
}

// Serve answers a worker request.
func (r *InProcessRunner) Serve(ctx context.Context, req Request) Response {
	switch req.Pipeline {
	case PipelineScreened:
		res := r.ExecuteCode(ctx, req.Code)
		return Response{Screened: &res}
	case PipelineCapture:
		res := r.ExecuteScript(ctx, req.Code)
		return Response{Capture: &res}
	}
	return Response{Error: fmt.Sprintf("unknown pipeline: %q", req.Pipeline)}
}

// Close is a no-op for the in-process runner.
func (r *InProcessRunner) Close() error {
	return nil
}

// Backend ships requests to an isolated executor.
type Backend interface {
	Do(ctx context.Context, req Request) (Response, error)
	Close() error
}

// RemoteRunner screens locally and executes through a Backend.
type RemoteRunner struct {
	backend Backend
}

// NewRemoteRunner wraps a backend.
func NewRemoteRunner(b Backend) *RemoteRunner {
	return &RemoteRunner{backend: b}
}

// ExecuteCode rejects unsafe programs without contacting the backend and
// sends the rest to it.
func (r *RemoteRunner) ExecuteCode(ctx context.Context, code string) ScreenedResult {
	if verdict := Screen(code); verdict.Unsafe {
		return rejected(verdict)
	}
	resp, err := r.do(ctx, Request{Pipeline: PipelineScreened, Code: code})
	if err == nil && resp.Screened == nil {
		err = ErrBadResponse
	}
	if err != nil {
		return screenedFault(err)
	}
	return *resp.Screened
}

// ExecuteScript sends code to the backend's capture pipeline.
func (r *RemoteRunner) ExecuteScript(ctx context.Context, code string) CaptureResult {
	resp, err := r.do(ctx, Request{Pipeline: PipelineCapture, Code: code})
	if err == nil && resp.Capture == nil {
		err = ErrBadResponse
	}
	if err != nil {
		msg := err.Error()
		return CaptureResult{Error: &msg}
	}
	return *resp.Capture
}

func (r *RemoteRunner) do(ctx context.Context, req Request) (Response, error) {
	resp, err := r.backend.Do(ctx, req)
	if err != nil {
		return Response{}, err
	}
	if resp.Error != "" {
		return Response{}, fmt.Errorf("%w: %s", ErrInternal, resp.Error)
	}
	return resp, nil
}

// Close closes the backend.
func (r *RemoteRunner) Close() error {
	return r.backend.Close()
}
