package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strconv"
	"time"
)

// RunWorker is the main loop for a sandbox worker process.
// This should be called when the binary is invoked with WorkerFlag.
func RunWorker() {
	cfg := ConfigFromEnv(os.Getenv)

	// Apply resource limits (platform-specific)
	ApplyResourceLimits(cfg)

	serve(NewInProcessRunner(cfg), os.Stdin, os.Stdout)
}

// serve answers JSON requests from r on w until r is exhausted.
func serve(runner *InProcessRunner, r io.Reader, w io.Writer) {
	dec := json.NewDecoder(r)
	enc := json.NewEncoder(w)

	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			// Parent closed stdin, exit cleanly
			return
		}
		if err := enc.Encode(runner.Serve(context.Background(), req)); err != nil {
			return
		}
	}
}

// RunSingle serves one JSON-encoded request and writes the response to w.
// Containers use it with the request passed in the REQUEST variable.
func RunSingle(reqJSON string, w io.Writer) error {
	cfg := ConfigFromEnv(os.Getenv)

	var req Request
	if err := json.Unmarshal([]byte(reqJSON), &req); err != nil {
		return json.NewEncoder(w).Encode(Response{Error: fmt.Sprintf("failed to parse request: %v", err)})
	}
	return json.NewEncoder(w).Encode(NewInProcessRunner(cfg).Serve(context.Background(), req))
}

// ConfigFromEnv reads the limits a parent passed to a worker. Missing or
// malformed values keep their defaults.
func ConfigFromEnv(getenv func(string) string) Config {
	cfg := DefaultConfig()
	if d, err := time.ParseDuration(getenv(envTimeout)); err == nil {
		cfg.Timeout = d
	}
	if n, err := strconv.Atoi(getenv(envMaxCallStack)); err == nil {
		cfg.MaxCallStack = n
	}
	if n, err := strconv.Atoi(getenv(envMaxOutputBytes)); err == nil {
		cfg.MaxOutputBytes = n
	}
	if n, err := strconv.Atoi(getenv(envMemoryMB)); err == nil {
		cfg.MaxMemoryMB = n
	}
	return cfg
}

// setSoftMemoryLimit asks the Go runtime to stay under the worker's memory
// budget before the hard OS limit is reached.
func setSoftMemoryLimit(cfg Config) {
	if cfg.MaxMemoryMB > 0 {
		debug.SetMemoryLimit(int64(cfg.MaxMemoryMB) * 1024 * 1024 * 9 / 10)
	}
}
