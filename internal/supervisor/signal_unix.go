//go:build !windows

package supervisor

import (
	"os"
	"syscall"
)

// terminate asks the process to exit; the kill after the grace period is left to exec.
func terminate(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
