package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

// testWorkerEnv makes the test binary act as a pool worker when re-executed.
const testWorkerEnv = "CODEGATE_SANDBOX_TEST_WORKER"

func TestMain(m *testing.M) {
	if os.Getenv(testWorkerEnv) == "1" {
		RunWorker()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func TestNewRunner_Modes(t *testing.T) {
	cfg := DefaultConfig()
	r, err := NewRunner(cfg)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	defer r.Close()
	if _, ok := r.(*InProcessRunner); !ok {
		t.Errorf("default runner is %T, want *InProcessRunner", r)
	}

	cfg.Mode = ModeContainer
	r, err = NewRunner(cfg)
	if err != nil {
		t.Fatalf("NewRunner(container) failed: %v", err)
	}
	if _, ok := r.(*RemoteRunner); !ok {
		t.Errorf("container runner is %T, want *RemoteRunner", r)
	}

	cfg.Mode = "bogus"
	if _, err := NewRunner(cfg); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestInProcessRunner_Serve(t *testing.T) {
	r := NewInProcessRunner(testConfig())
	ctx := context.Background()

	resp := r.Serve(ctx, Request{Pipeline: PipelineScreened, Code: "print('x')"})
	if resp.Screened == nil || resp.Screened.Output != "x\n" {
		t.Errorf("screened response = %+v", resp)
	}

	resp = r.Serve(ctx, Request{Pipeline: PipelineCapture, Code: "console.error('e')"})
	if resp.Capture == nil || errText(resp.Capture.Stderr) != "e\n" {
		t.Errorf("capture response = %+v", resp)
	}

	resp = r.Serve(ctx, Request{Pipeline: "other", Code: "1"})
	if resp.Error == "" {
		t.Error("expected error for unknown pipeline")
	}
}

type fakeBackend struct {
	requests []Request
	resp     Response
	err      error
}

func (b *fakeBackend) Do(ctx context.Context, req Request) (Response, error) {
	b.requests = append(b.requests, req)
	return b.resp, b.err
}

func (b *fakeBackend) Close() error { return nil }

func TestRemoteRunner_ScreensLocally(t *testing.T) {
	b := &fakeBackend{}
	r := NewRemoteRunner(b)

	res := r.ExecuteCode(context.Background(), "eval('1')")
	if errText(res.Error) != RejectionMessage {
		t.Errorf("Error = %q", errText(res.Error))
	}
	if len(b.requests) != 0 {
		t.Errorf("rejected program reached the backend: %+v", b.requests)
	}
}

func TestRemoteRunner_Forwards(t *testing.T) {
	out := ScreenedResult{Output: "2\n"}
	b := &fakeBackend{resp: Response{Screened: &out}}
	r := NewRemoteRunner(b)

	res := r.ExecuteCode(context.Background(), "print(1+1)")
	if res.Output != "2\n" || res.Error != nil {
		t.Errorf("result = %+v", res)
	}
	if len(b.requests) != 1 || b.requests[0].Pipeline != PipelineScreened {
		t.Errorf("requests = %+v", b.requests)
	}
}

func TestRemoteRunner_BackendFailures(t *testing.T) {
	tests := []struct {
		name    string
		backend *fakeBackend
		want    string
	}{
		{"transport error", &fakeBackend{err: ErrWorkerCrashed}, "Error: sandbox worker crashed"},
		{"timeout", &fakeBackend{err: ErrTimeout}, "Error: execution timed out"},
		{"worker error", &fakeBackend{resp: Response{Error: "boom"}}, "Error: internal sandbox error: boom"},
		{"empty response", &fakeBackend{}, "Error: malformed sandbox response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRemoteRunner(tt.backend)
			res := r.ExecuteCode(context.Background(), "print(1)")
			if errText(res.Error) != tt.want {
				t.Errorf("ExecuteCode Error = %q, want %q", errText(res.Error), tt.want)
			}
			script := r.ExecuteScript(context.Background(), "print(1)")
			if script.Error == nil {
				t.Error("ExecuteScript returned no error")
			}
		})
	}
}

func TestServe_JSONLines(t *testing.T) {
	var in bytes.Buffer
	enc := json.NewEncoder(&in)
	enc.Encode(Request{Pipeline: PipelineScreened, Code: "print(3)"})
	enc.Encode(Request{Pipeline: PipelineCapture, Code: "__html_output__ = '<p/>'"})

	var out bytes.Buffer
	serve(NewInProcessRunner(testConfig()), &in, &out)

	dec := json.NewDecoder(&out)
	var first, second Response
	if err := dec.Decode(&first); err != nil {
		t.Fatalf("decode first: %v", err)
	}
	if err := dec.Decode(&second); err != nil {
		t.Fatalf("decode second: %v", err)
	}
	if first.Screened == nil || first.Screened.Output != "3\n" {
		t.Errorf("first = %+v", first)
	}
	if second.Capture == nil || errText(second.Capture.HTMLPreview) != "<p/>" {
		t.Errorf("second = %+v", second)
	}
}

func TestConfigFromEnv(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 750 * time.Millisecond
	cfg.MaxCallStack = 64
	cfg.MaxOutputBytes = 99
	cfg.MaxMemoryMB = 128

	env := make(map[string]string)
	for _, kv := range workerEnv(cfg) {
		k, v, _ := strings.Cut(kv, "=")
		env[k] = v
	}
	got := ConfigFromEnv(func(k string) string { return env[k] })
	if got.Timeout != cfg.Timeout || got.MaxCallStack != 64 || got.MaxOutputBytes != 99 || got.MaxMemoryMB != 128 {
		t.Errorf("ConfigFromEnv = %+v", got)
	}

	def := ConfigFromEnv(func(string) string { return "" })
	if def.Timeout != DefaultConfig().Timeout {
		t.Errorf("missing variables should keep defaults, got %+v", def)
	}
}

func TestPool_Do(t *testing.T) {
	if testing.Short() {
		t.Skip("starts worker processes")
	}
	t.Setenv(testWorkerEnv, "1")

	cfg := testConfig()
	cfg.Mode = ModeProcess
	cfg.WorkerCount = 2
	cfg.WorkerBinary = os.Args[0]

	r, err := NewRunner(cfg)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	defer r.Close()

	ctx := context.Background()
	res := r.ExecuteCode(ctx, "print(sum(range(4)))")
	if res.Output != "6\n" || res.Error != nil {
		t.Errorf("ExecuteCode = %+v", res)
	}

	script := r.ExecuteScript(ctx, "console.log('hi'); __html_output__ = '<b/>'")
	if errText(script.Stdout) != "hi\n" || errText(script.HTMLPreview) != "<b/>" {
		t.Errorf("ExecuteScript = %+v", script)
	}

	if res := r.ExecuteCode(ctx, "import os"); errText(res.Error) != RejectionMessage {
		t.Errorf("Error = %q", errText(res.Error))
	}
}

func TestPool_ZeroTimeoutWaitsForProgram(t *testing.T) {
	if testing.Short() {
		t.Skip("starts worker processes")
	}
	t.Setenv(testWorkerEnv, "1")

	cfg := testConfig()
	cfg.Mode = ModeProcess
	cfg.Timeout = 0
	cfg.AcquireTimeout = 0
	cfg.WorkerCount = 1
	cfg.WorkerBinary = os.Args[0]

	r, err := NewRunner(cfg)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	defer r.Close()

	// Each run outlasts the grace period; the second also waits for the
	// only worker longer than that.
	code := "var end = Date.now() + 1300; while (Date.now() < end) {} print('done')"
	results := make(chan CaptureResult, 2)
	for i := 0; i < 2; i++ {
		go func() { results <- r.ExecuteScript(context.Background(), code) }()
	}
	for i := 0; i < 2; i++ {
		res := <-results
		if res.Error != nil || errText(res.Stdout) != "done\n" {
			t.Errorf("ExecuteScript = stdout %q, error %q", errText(res.Stdout), errText(res.Error))
		}
	}
}

func TestPool_AcquireTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("starts worker processes")
	}
	t.Setenv(testWorkerEnv, "1")

	cfg := testConfig()
	cfg.AcquireTimeout = 50 * time.Millisecond
	cfg.WorkerCount = 1
	cfg.WorkerBinary = os.Args[0]

	p, err := NewPool(cfg)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	defer p.Close()

	busy := make(chan struct{})
	go func() {
		defer close(busy)
		p.Do(context.Background(), Request{Pipeline: PipelineCapture, Code: "var end = Date.now() + 500; while (Date.now() < end) {}"})
	}()
	time.Sleep(100 * time.Millisecond)

	if _, err := p.Do(context.Background(), Request{Pipeline: PipelineScreened, Code: "print(1)"}); !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("Do with no idle worker = %v, want ErrPoolExhausted", err)
	}
	<-busy
}

func TestPool_ClosedPool(t *testing.T) {
	if testing.Short() {
		t.Skip("starts worker processes")
	}
	t.Setenv(testWorkerEnv, "1")

	cfg := testConfig()
	cfg.WorkerCount = 1
	cfg.WorkerBinary = os.Args[0]

	p, err := NewPool(cfg)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	p.Close()
	if _, err := p.Do(context.Background(), Request{Pipeline: PipelineScreened, Code: "1"}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Do after Close = %v, want ErrPoolClosed", err)
	}
}

func TestNewPool_RejectsEmptyPool(t *testing.T) {
	cfg := testConfig()
	cfg.WorkerCount = 0
	if _, err := NewPool(cfg); err == nil {
		t.Error("expected error for zero workers")
	}
}

func TestContainerSandbox_DockerArgs(t *testing.T) {
	s := NewContainerSandbox(DefaultContainerConfig())
	args := s.buildContainerArgs([]byte(`{"pipeline":"screened","code":"print(1)"}`))
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"run --rm -i",
		"--network none",
		"--read-only",
		"--cap-drop ALL",
		"--memory 128m",
		`--env REQUEST={"pipeline":"screened","code":"print(1)"}`,
		"--env SANDBOX_TIMEOUT=5s",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}
	if args[len(args)-1] != "/codegate-worker" {
		t.Errorf("last arg = %q, want the entrypoint", args[len(args)-1])
	}
}

func TestContainerSandbox_ApptainerArgs(t *testing.T) {
	cfg := DefaultContainerConfig()
	cfg.Runtime = "apptainer"
	args := NewContainerSandbox(cfg).buildContainerArgs([]byte(`{}`))
	if args[0] != "exec" {
		t.Errorf("args[0] = %q, want exec", args[0])
	}
	if !strings.Contains(strings.Join(args, " "), "--containall") {
		t.Errorf("args = %v", args)
	}
}

func TestRunSingle(t *testing.T) {
	var out bytes.Buffer
	if err := RunSingle(`{"pipeline":"screened","code":"print('once')"}`, &out); err != nil {
		t.Fatalf("RunSingle failed: %v", err)
	}
	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.Screened == nil || resp.Screened.Output != "once\n" {
		t.Errorf("resp = %+v", resp)
	}
}
