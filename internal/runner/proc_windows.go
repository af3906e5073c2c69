//go:build windows

package runner

import "os/exec"

// configureProcess keeps the os/exec default of killing the direct child.
func configureProcess(cmd *exec.Cmd) {}
