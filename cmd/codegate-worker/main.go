// codegate-worker executes programs in an isolated process. It can run as:
// 1. A pool worker (JSON requests on stdin, responses on stdout)
// 2. A container entrypoint (REQUEST env var input, stdout output)
package main

import (
	"log"
	"os"

	"github.com/ronai/codegate/internal/sandbox"
)

func main() {
	// Check if running in container mode (REQUEST env var)
	if reqJSON := os.Getenv("REQUEST"); reqJSON != "" {
		sandbox.ApplyResourceLimits(sandbox.ConfigFromEnv(os.Getenv))
		if err := sandbox.RunSingle(reqJSON, os.Stdout); err != nil {
			log.Fatalf("Failed to write response: %v", err)
		}
		return
	}

	// Otherwise run as worker process
	sandbox.RunWorker()
}
