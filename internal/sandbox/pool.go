package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// WorkerFlag makes a codegate binary serve as a sandbox worker.
const WorkerFlag = "--sandbox-worker"

// workerGrace is how long past the execution timeout the pool waits for a
// worker's own interrupt to fire before killing it.
const workerGrace = time.Second

// Environment variables a worker reads its limits from.
const (
	envTimeout        = "SANDBOX_TIMEOUT"
	envMaxCallStack   = "SANDBOX_MAX_CALL_STACK"
	envMaxOutputBytes = "SANDBOX_MAX_OUTPUT_BYTES"
	envMemoryMB       = "SANDBOX_MEMORY_MB"
)

// Pool manages a pool of sandbox worker processes.
type Pool struct {
	config  Config
	workers chan *worker
	mu      sync.Mutex
	closed  bool
}

// worker represents a single sandbox worker process.
type worker struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	enc   *json.Encoder
	dec   *json.Decoder
}

// NewPool creates a new sandbox worker pool.
func NewPool(cfg Config) (*Pool, error) {
	if cfg.WorkerCount <= 0 {
		return nil, fmt.Errorf("worker_count must be positive, got %d", cfg.WorkerCount)
	}
	p := &Pool{
		config:  cfg,
		workers: make(chan *worker, cfg.WorkerCount),
	}

	// Pre-fork workers
	for i := 0; i < cfg.WorkerCount; i++ {
		w, err := p.startWorker()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to start worker %d: %w", i, err)
		}
		p.workers <- w
	}

	return p, nil
}

// workerEnv encodes cfg's limits for a worker process.
func workerEnv(cfg Config) []string {
	return []string{
		envTimeout + "=" + cfg.Timeout.String(),
		envMaxCallStack + "=" + strconv.Itoa(cfg.MaxCallStack),
		envMaxOutputBytes + "=" + strconv.Itoa(cfg.MaxOutputBytes),
		envMemoryMB + "=" + strconv.Itoa(cfg.MaxMemoryMB),
	}
}

// startWorker forks a new sandbox worker process.
func (p *Pool) startWorker() (*worker, error) {
	binary := p.config.WorkerBinary
	if binary == "" {
		binary = os.Args[0]
	}

	cmd := exec.Command(binary, WorkerFlag)
	cmd.Env = append(os.Environ(), workerEnv(p.config)...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return &worker{
		cmd:   cmd,
		stdin: stdin,
		enc:   json.NewEncoder(stdin),
		dec:   json.NewDecoder(stdout),
	}, nil
}

// stop kills the worker and reaps it.
func (w *worker) stop() {
	w.stdin.Close()
	w.cmd.Process.Kill()
	w.cmd.Wait()
}

// Do runs req on an idle worker. A worker that fails or overruns its
// budget is killed and replaced. With no timeout configured only ctx
// bounds the run.
func (p *Pool) Do(ctx context.Context, req Request) (Response, error) {
	var acquire <-chan time.Time
	if p.config.AcquireTimeout > 0 {
		t := time.NewTimer(p.config.AcquireTimeout)
		defer t.Stop()
		acquire = t.C
	}

	var w *worker
	select {
	case got, ok := <-p.workers:
		if !ok {
			return Response{}, ErrPoolClosed
		}
		w = got
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-acquire:
		return Response{}, ErrPoolExhausted
	}

	healthy := false
	defer func() { p.release(w, healthy) }()

	resultCh := make(chan Response, 1)
	errCh := make(chan error, 1)

	go func() {
		if err := w.enc.Encode(req); err != nil {
			errCh <- fmt.Errorf("failed to send request: %w", err)
			return
		}

		var resp Response
		if err := w.dec.Decode(&resp); err != nil {
			errCh <- fmt.Errorf("failed to read response: %w", err)
			return
		}
		resultCh <- resp
	}()

	var overrun <-chan time.Time
	if p.config.Timeout > 0 {
		timer := time.NewTimer(p.config.Timeout + workerGrace)
		defer timer.Stop()
		overrun = timer.C
	}

	select {
	case resp := <-resultCh:
		healthy = true
		return resp, nil

	case err := <-errCh:
		return Response{}, fmt.Errorf("%w: %v", ErrWorkerCrashed, err)

	case <-ctx.Done():
		return Response{}, ctx.Err()

	case <-overrun:
		return Response{}, ErrTimeout
	}
}

// release hands w back to the pool, replacing it when it is unhealthy.
func (p *Pool) release(w *worker, healthy bool) {
	if !healthy {
		w.stop()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		if healthy {
			w.stop()
		}
		return
	}
	if !healthy {
		nw, err := p.startWorker()
		if err != nil {
			log.Printf("Failed to replace sandbox worker: %v", err)
			return
		}
		w = nw
	}
	p.workers <- w
}

// Close shuts down all workers.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	close(p.workers)
	for w := range p.workers {
		w.stop()
	}

	return nil
}
