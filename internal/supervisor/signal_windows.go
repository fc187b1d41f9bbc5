//go:build windows

package supervisor

import "os"

// terminate kills the process outright; Windows has no deliverable SIGTERM.
func terminate(p *os.Process) error {
	return p.Kill()
}
