package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 2 * time.Second
	cfg.MaxCallStack = 200
	return cfg
}

func runScreened(t *testing.T, code string) ScreenedResult {
	t.Helper()
	return NewScreenedExecutor(testConfig()).Execute(context.Background(), code)
}

func errText(s *string) string {
	if s == nil {
		return "<nil>"
	}
	return *s
}

func TestScreenedExecutor_Print(t *testing.T) {
	res := runScreened(t, "print(1+1)")
	if res.Output != "2\n" {
		t.Errorf("Output = %q, want %q", res.Output, "2\n")
	}
	if res.Error != nil {
		t.Errorf("Error = %q, want nil", *res.Error)
	}
	if res.Rejected() || res.Failed() {
		t.Error("expected a clean result")
	}
}

func TestScreenedExecutor_Rejection(t *testing.T) {
	for _, code := range []string{"import os", "eval('1')", "os.system('ls')", "require('fs')", "def ("} {
		res := runScreened(t, code)
		if res.Output != "" {
			t.Errorf("%q: Output = %q, want empty", code, res.Output)
		}
		if errText(res.Error) != RejectionMessage {
			t.Errorf("%q: Error = %q, want rejection", code, errText(res.Error))
		}
		if !res.Rejected() {
			t.Errorf("%q: Rejected() = false", code)
		}
	}
}

func TestScreenedExecutor_RejectionRunsNothing(t *testing.T) {
	res := runScreened(t, "print('side effect'); eval('1')")
	if res.Output != "" {
		t.Errorf("rejected program produced output %q", res.Output)
	}
}

func TestScreenedExecutor_Faults(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"thrown object", "throw {message: 'bad range'}", "Error: bad range"},
		{"no exception classes", "throw new RangeError('bad range')", "Error: RangeError is not defined"},
		{"thrown string", "throw 'plain'", "Error: plain"},
		{"value error", "int('abc')", "Error: invalid literal for int() with base 10: 'abc'"},
		{"missing global", "Math.floor(1.5)", "Error: Math is not defined"},
		{"range cap", "range(2000000)", "Error: range() result too large (limit 1000000 items)"},
		{"function constructor", "(function(){}).constructor('return 1')()", "Error: Function constructor is disabled"},
		{"stack overflow", "function f() { return f() } f()", "Error: maximum call stack size exceeded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runScreened(t, tt.code)
			if res.Output != "" {
				t.Errorf("Output = %q, want empty", res.Output)
			}
			if errText(res.Error) != tt.want {
				t.Errorf("Error = %q, want %q", errText(res.Error), tt.want)
			}
		})
	}
}

func TestScreenedExecutor_FaultDiscardsOutput(t *testing.T) {
	res := runScreened(t, "print('before'); throw 'boom'")
	if res.Output != "" {
		t.Errorf("Output = %q, want empty", res.Output)
	}
	if errText(res.Error) != "Error: boom" {
		t.Errorf("Error = %q", errText(res.Error))
	}
}

func TestScreenedExecutor_CompileError(t *testing.T) {
	// Parses as a script but fails at compile time.
	res := runScreened(t, "'use strict'; with (x) {}")
	want := "Error: Strict mode code may not include a with statement"
	if errText(res.Error) != want {
		t.Errorf("Error = %q, want %q", errText(res.Error), want)
	}
	if res.Rejected() {
		t.Error("compile failures are faults, not rejections")
	}
}

func TestScreenedExecutor_Timeout(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 50 * time.Millisecond
	res := NewScreenedExecutor(cfg).Execute(context.Background(), "while (true) {}")
	if errText(res.Error) != "Error: execution timed out" {
		t.Errorf("Error = %q", errText(res.Error))
	}
}

func TestScreenedExecutor_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	res := NewScreenedExecutor(testConfig()).Execute(ctx, "while (true) {}")
	if errText(res.Error) != "Error: context canceled" {
		t.Errorf("Error = %q", errText(res.Error))
	}
}

func TestScreenedExecutor_Isolation(t *testing.T) {
	x := NewScreenedExecutor(testConfig())
	ctx := context.Background()

	if res := x.Execute(ctx, "x = 1; print(x)"); res.Output != "1\n" {
		t.Fatalf("first run Output = %q", res.Output)
	}
	res := x.Execute(ctx, "print(typeof x)")
	if res.Output != "undefined\n" {
		t.Errorf("binding leaked between executions: Output = %q", res.Output)
	}
}

func TestScreenedExecutor_Idempotent(t *testing.T) {
	x := NewScreenedExecutor(testConfig())
	code := "var total = 0; for (var i = 0; i < 5; i++) { total += i } print(total)"
	first := x.Execute(context.Background(), code)
	second := x.Execute(context.Background(), code)
	if first.Output != second.Output || errText(first.Error) != errText(second.Error) {
		t.Errorf("results differ: %+v vs %+v", first, second)
	}
}

func TestScreenedExecutor_NamespaceIsCapabilityTable(t *testing.T) {
	res := runScreened(t, "print(dir())")
	want := "[" + strings.Join(quoteAll(BuiltinNames()), ", ") + "]\n"
	if res.Output != want {
		t.Errorf("dir() = %q, want %q", res.Output, want)
	}

	res = runScreened(t, "print(typeof Object, typeof globalThis, typeof eval, typeof __builtins__.len)")
	if res.Output != "undefined undefined undefined function\n" {
		t.Errorf("Output = %q", res.Output)
	}

	for _, name := range []string{"Array", "JSON", "Reflect", "Proxy", "Function", "Error", "TypeError", "Promise", "Symbol"} {
		res = runScreened(t, fmt.Sprintf("print(typeof %s)", name))
		if res.Output != "undefined\n" {
			t.Errorf("typeof %s = %q, want undefined", name, res.Output)
		}
	}

	res = runScreened(t, "'use strict'; __builtins__ = 1")
	if res.Error == nil {
		t.Error("expected __builtins__ to be read-only")
	}
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = "'" + n + "'"
	}
	return out
}

func TestScreenedExecutor_Concurrent(t *testing.T) {
	x := NewScreenedExecutor(testConfig())

	var wg sync.WaitGroup
	results := make([]ScreenedResult, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code := fmt.Sprintf("for (var j = 0; j < 50; j++) { print(%d) }", i)
			results[i] = x.Execute(context.Background(), code)
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		want := strings.Repeat(fmt.Sprintf("%d\n", i), 50)
		if res.Output != want {
			t.Errorf("execution %d saw foreign output: %q", i, res.Output)
		}
	}
}

func TestScreenedExecutor_OutputCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxOutputBytes = 16
	res := NewScreenedExecutor(cfg).Execute(context.Background(), "for (var i = 0; i < 100; i++) { print('abcdef') }")
	if !strings.HasSuffix(res.Output, truncationMarker) {
		t.Errorf("Output = %q, want truncation marker", res.Output)
	}
	if len(res.Output) != 16+len(truncationMarker) {
		t.Errorf("len(Output) = %d", len(res.Output))
	}
}
