//go:build linux

package sandbox

import (
	"log"
	"syscall"
)

// ApplyResourceLimits sets OS-level resource constraints on Linux.
func ApplyResourceLimits(cfg Config) {
	setSoftMemoryLimit(cfg)

	if cfg.MaxMemoryMB > 0 {
		memBytes := uint64(cfg.MaxMemoryMB) * 1024 * 1024

		// Set address space limit
		rLimit := syscall.Rlimit{Cur: memBytes, Max: memBytes}
		if err := syscall.Setrlimit(syscall.RLIMIT_AS, &rLimit); err != nil {
			log.Printf("Failed to set memory limit: %v", err)
		}
	}

	// No file creation
	fSizeLimit := syscall.Rlimit{Cur: 0, Max: 0}
	if err := syscall.Setrlimit(syscall.RLIMIT_FSIZE, &fSizeLimit); err != nil {
		log.Printf("Failed to set file size limit: %v", err)
	}
}
