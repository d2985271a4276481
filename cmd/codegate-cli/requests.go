package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ronai/codegate/internal/sandbox"
)

// BatchRequest is one entry of a request file.
type BatchRequest struct {
	Name     string           `json:"name" yaml:"name"`
	Pipeline sandbox.Pipeline `json:"pipeline" yaml:"pipeline"`
	Code     string           `json:"code" yaml:"code"`
}

// readSource reads a program from path, or from stdin when path is "-".
func readSource(path string, stdin io.Reader) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read source: %w", err)
	}
	return string(data), nil
}

// loadRequests reads a JSON or YAML request file. The file holds either a
// list of requests or a single request.
func loadRequests(path string) ([]BatchRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read request file: %w", err)
	}

	unmarshal := yaml.Unmarshal
	if filepath.Ext(path) == ".json" {
		unmarshal = json.Unmarshal
	}

	var reqs []BatchRequest
	if err := unmarshal(data, &reqs); err != nil {
		var single BatchRequest
		if err2 := unmarshal(data, &single); err2 != nil {
			return nil, fmt.Errorf("failed to parse request file: %w", err)
		}
		reqs = []BatchRequest{single}
	}

	for i := range reqs {
		if reqs[i].Pipeline == "" {
			reqs[i].Pipeline = sandbox.PipelineScreened
		}
		if reqs[i].Name == "" {
			reqs[i].Name = fmt.Sprintf("request-%d", i+1)
		}
		switch reqs[i].Pipeline {
		case sandbox.PipelineScreened, sandbox.PipelineCapture:
		default:
			return nil, fmt.Errorf("%s: unknown pipeline %q", reqs[i].Name, reqs[i].Pipeline)
		}
	}
	return reqs, nil
}

// printScreened writes a screened result and reports whether it failed.
func printScreened(w io.Writer, res sandbox.ScreenedResult) bool {
	fmt.Fprint(w, res.Output)
	if res.Error != nil {
		fmt.Fprintln(w, *res.Error)
		return true
	}
	return false
}

// printCapture writes a capture result and reports whether it failed.
func printCapture(w, errw io.Writer, res sandbox.CaptureResult) bool {
	if res.Stdout != nil {
		fmt.Fprint(w, *res.Stdout)
	}
	if res.Stderr != nil {
		fmt.Fprint(errw, *res.Stderr)
	}
	if res.HTMLPreview != nil {
		fmt.Fprintf(w, "[html preview: %d bytes]\n", len(*res.HTMLPreview))
	}
	if res.Error != nil {
		fmt.Fprint(errw, *res.Error)
		if n := len(*res.Error); n > 0 && (*res.Error)[n-1] != '\n' {
			fmt.Fprintln(errw)
		}
		return true
	}
	return false
}
