package main

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/ronai/codegate/internal/api"
	"github.com/ronai/codegate/internal/config"
	"github.com/ronai/codegate/internal/events"
	"github.com/ronai/codegate/internal/export"
	"github.com/ronai/codegate/internal/sandbox"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLoadRequests(t *testing.T) {
	yamlPath := writeFile(t, "reqs.yaml", `
- name: sum
  code: print(sum([1, 2, 3]))
- pipeline: capture
  code: console.log('hi')
`)
	reqs, err := loadRequests(yamlPath)
	if err != nil {
		t.Fatalf("loadRequests failed: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("len = %d", len(reqs))
	}
	if reqs[0].Name != "sum" || reqs[0].Pipeline != sandbox.PipelineScreened {
		t.Errorf("reqs[0] = %+v", reqs[0])
	}
	if reqs[1].Name != "request-2" || reqs[1].Pipeline != sandbox.PipelineCapture {
		t.Errorf("reqs[1] = %+v", reqs[1])
	}

	jsonPath := writeFile(t, "one.json", `{"code":"print(1)"}`)
	reqs, err = loadRequests(jsonPath)
	if err != nil || len(reqs) != 1 || reqs[0].Code != "print(1)" {
		t.Errorf("single JSON request = %+v, %v", reqs, err)
	}

	badPath := writeFile(t, "bad.yaml", "- pipeline: shell\n  code: ls\n")
	if _, err := loadRequests(badPath); err == nil {
		t.Error("expected error for unknown pipeline")
	}
}

func TestReadSource_Stdin(t *testing.T) {
	got, err := readSource("-", strings.NewReader("print(1)"))
	if err != nil || got != "print(1)" {
		t.Errorf("readSource(-) = %q, %v", got, err)
	}
}

func TestPrintResults(t *testing.T) {
	var out bytes.Buffer
	if printScreened(&out, sandbox.ScreenedResult{Output: "2\n"}) || out.String() != "2\n" {
		t.Errorf("printScreened success wrote %q", out.String())
	}

	msg := "Error: boom"
	out.Reset()
	if !printScreened(&out, sandbox.ScreenedResult{Error: &msg}) || out.String() != "Error: boom\n" {
		t.Errorf("printScreened failure wrote %q", out.String())
	}

	stdout, html := "hi\n", "<b/>"
	out.Reset()
	var errOut bytes.Buffer
	if printCapture(&out, &errOut, sandbox.CaptureResult{Stdout: &stdout, HTMLPreview: &html}) {
		t.Error("printCapture reported failure")
	}
	if out.String() != "hi\n[html preview: 4 bytes]\n" || errOut.Len() != 0 {
		t.Errorf("printCapture wrote %q / %q", out.String(), errOut.String())
	}
}

func TestExecCommand(t *testing.T) {
	path := writeFile(t, "prog.js", "print(1+1)")
	out, err := runCLI(t, "exec", path)
	if err != nil {
		t.Fatalf("exec failed: %v", err)
	}
	if out != "2\n" {
		t.Errorf("output = %q", out)
	}

	bad := writeFile(t, "bad.js", "eval('1')")
	out, err = runCLI(t, "exec", bad)
	if err == nil || !strings.Contains(out, sandbox.RejectionMessage) {
		t.Errorf("exec unsafe = %q, %v", out, err)
	}
}

func TestRunCommand_HTMLOut(t *testing.T) {
	path := writeFile(t, "prog.js", "__html_output__ = '<p>ok</p>'")
	htmlPath := filepath.Join(t.TempDir(), "out.html")

	if _, err := runCLI(t, "run", "--html-out", htmlPath, path); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	data, err := os.ReadFile(htmlPath)
	if err != nil || string(data) != "<p>ok</p>" {
		t.Errorf("html artifact = %q, %v", data, err)
	}
}

func TestScreenCommand(t *testing.T) {
	safe := writeFile(t, "safe.js", "print(1)")
	unsafe := writeFile(t, "unsafe.js", "require('fs')")

	out, err := runCLI(t, "screen", safe, unsafe)
	if err == nil {
		t.Error("expected error when a program is rejected")
	}
	if !strings.Contains(out, safe+": safe") || !strings.Contains(out, unsafe+": unsafe (import)") {
		t.Errorf("output = %q", out)
	}
}

func TestBatchCommand(t *testing.T) {
	path := writeFile(t, "reqs.yaml", `
- name: ok
  code: print('a')
- name: html
  pipeline: capture
  code: __html_output__ = '<i/>'
`)
	out, err := runCLI(t, "batch", path)
	if err != nil {
		t.Fatalf("batch failed: %v\n%s", err, out)
	}
	for _, want := range []string{"=== ok (screened)\na\n", "=== html (capture)\n[html preview: 4 bytes]\n", "--- 2 requests, 0 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRemoteCommands(t *testing.T) {
	sb := sandbox.DefaultConfig()
	sb.Timeout = 2 * time.Second
	cfg := &config.Config{Sandbox: sb, Export: config.ExportConfig{ComponentsDir: "gen"}}
	srv := httptest.NewServer(api.NewServer(cfg, api.Deps{
		Runner:   sandbox.NewInProcessRunner(sb),
		Exporter: export.NewExporter(afero.NewMemMapFs(), cfg.Export),
	}))
	defer srv.Close()

	prog := writeFile(t, "prog.js", "print('remote')")
	out, err := runCLI(t, "--server", srv.URL, "remote", "exec", prog)
	if err != nil || out != "remote\n" {
		t.Errorf("remote exec = %q, %v", out, err)
	}

	out, err = runCLI(t, "--server", srv.URL, "export", "Widget", prog)
	if err != nil || !strings.Contains(out, "Widget.tsx") {
		t.Errorf("export = %q, %v", out, err)
	}

	if _, err := runCLI(t, "--server", srv.URL, "executions"); err == nil {
		t.Error("executions should fail when the server has no audit store")
	}
}

func TestFormatEvent(t *testing.T) {
	ev := events.ExecutionEvent{
		Type:        events.TypeFailed,
		ExecutionID: "id-1",
		Pipeline:    "capture",
		Error:       "RangeError: x\n\tat <string>:1:7(3)",
		DurationMS:  12,
		Timestamp:   0,
	}
	got := formatEvent(ev)
	if !strings.Contains(got, "execution_failed") || !strings.Contains(got, `error="RangeError: x"`) || !strings.Contains(got, "12ms") {
		t.Errorf("formatEvent = %q", got)
	}
}
