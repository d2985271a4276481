//go:build !linux

package sandbox

// ApplyResourceLimits only sets the Go soft memory limit on non-Linux
// platforms. The parent's timeout and kill, plus the runtime interrupt,
// bound everything else.
func ApplyResourceLimits(cfg Config) {
	setSoftMemoryLimit(cfg)
}
