package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// ContainerSandbox runs every program in a fresh container.
// Higher latency (~100-500ms) than the worker pool, but nothing survives
// between executions.
type ContainerSandbox struct {
	config ContainerConfig
}

// ContainerConfig configures the container sandbox.
type ContainerConfig struct {
	// Runtime is the container runtime (docker, podman, apptainer)
	Runtime string `mapstructure:"runtime"`

	// Image is the sandbox container image; its entrypoint must be
	// codegate-worker.
	Image string `mapstructure:"image"`

	// Entrypoint is the worker path inside the image.
	Entrypoint string `mapstructure:"entrypoint"`

	// Timeout bounds the whole container run, startup included.
	Timeout time.Duration `mapstructure:"timeout"`

	// MaxMemoryMB limits container memory
	MaxMemoryMB int `mapstructure:"max_memory_mb"`

	// NetworkDisabled prevents network access
	NetworkDisabled bool `mapstructure:"network_disabled"`

	// ReadOnlyRootfs makes the filesystem read-only
	ReadOnlyRootfs bool `mapstructure:"read_only_rootfs"`

	// DropCapabilities removes all Linux capabilities
	DropCapabilities bool `mapstructure:"drop_capabilities"`

	// RuntimePath is the path to the container runtime binary
	RuntimePath string `mapstructure:"runtime_path"`

	// Execution limits forwarded to the worker inside the container.
	ExecTimeout    time.Duration `mapstructure:"exec_timeout"`
	MaxCallStack   int           `mapstructure:"max_call_stack"`
	MaxOutputBytes int           `mapstructure:"max_output_bytes"`
}

// DefaultContainerConfig returns secure defaults.
func DefaultContainerConfig() ContainerConfig {
	return ContainerConfig{
		Runtime:          "docker",
		Image:            "ghcr.io/ronai/codegate-worker:latest",
		Entrypoint:       "/codegate-worker",
		Timeout:          15 * time.Second,
		MaxMemoryMB:      128,
		NetworkDisabled:  true,
		ReadOnlyRootfs:   true,
		DropCapabilities: true,
		RuntimePath:      "docker",
		ExecTimeout:      5 * time.Second,
		MaxCallStack:     1024,
		MaxOutputBytes:   1024 * 1024,
	}
}

// NewContainerSandbox creates a container-based sandbox.
func NewContainerSandbox(cfg ContainerConfig) *ContainerSandbox {
	return &ContainerSandbox{config: cfg}
}

// Do runs req in an isolated container.
func (s *ContainerSandbox) Do(ctx context.Context, req Request) (Response, error) {
	// Serialize request to JSON
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("failed to serialize request: %w", err)
	}

	args := s.buildContainerArgs(reqJSON)

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.config.RuntimePath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Response{}, ErrTimeout
		}
		return Response{}, fmt.Errorf("container execution failed: %w: %s", err, stderr.String())
	}

	var resp Response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return resp, nil
}

// workerEnv lists the variables the in-container worker reads.
func (s *ContainerSandbox) workerEnv(requestJSON []byte) []string {
	return append(workerEnv(Config{
		Timeout:        s.config.ExecTimeout,
		MaxCallStack:   s.config.MaxCallStack,
		MaxOutputBytes: s.config.MaxOutputBytes,
	}), "REQUEST="+string(requestJSON))
}

// buildContainerArgs constructs the container runtime arguments.
func (s *ContainerSandbox) buildContainerArgs(requestJSON []byte) []string {
	switch s.config.Runtime {
	case "apptainer", "singularity":
		return s.buildApptainerArgs(requestJSON)
	default:
		return s.buildDockerArgs(requestJSON)
	}
}

func (s *ContainerSandbox) buildDockerArgs(requestJSON []byte) []string {
	args := []string{"run", "--rm", "-i"}

	// Resource limits
	mem := strconv.Itoa(s.config.MaxMemoryMB) + "m"
	args = append(args, "--memory", mem, "--memory-swap", mem)
	args = append(args, "--cpus", "0.5")
	args = append(args, "--pids-limit", "16")

	if s.config.NetworkDisabled {
		args = append(args, "--network", "none")
	}
	if s.config.ReadOnlyRootfs {
		args = append(args, "--read-only")
	}
	if s.config.DropCapabilities {
		args = append(args, "--cap-drop", "ALL")
	}
	args = append(args, "--security-opt", "no-new-privileges")
	args = append(args, "--user", "65534:65534") // nobody:nogroup

	// Pass the request through the environment (no shell involved)
	for _, kv := range s.workerEnv(requestJSON) {
		args = append(args, "--env", kv)
	}

	return append(args, s.config.Image, s.config.Entrypoint)
}

func (s *ContainerSandbox) buildApptainerArgs(requestJSON []byte) []string {
	args := []string{"exec", "--containall", "--cleanenv", "--no-home", "--no-init"}

	if s.config.NetworkDisabled {
		args = append(args, "--net", "--network", "none")
	}

	for _, kv := range s.workerEnv(requestJSON) {
		args = append(args, "--env", kv)
	}

	return append(args, s.config.Image, s.config.Entrypoint)
}

// Close is a no-op for container sandbox (containers are ephemeral).
func (s *ContainerSandbox) Close() error {
	return nil
}
