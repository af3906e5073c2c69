//go:build !windows

package runner

import (
	"os/exec"
	"syscall"
	"time"
)

// configureProcess puts the child in its own process group so a timeout also
// reaches anything a shell line spawned. The group gets SIGTERM first and
// SIGKILL shortly after.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		pgid := -cmd.Process.Pid
		err := syscall.Kill(pgid, syscall.SIGTERM)
		time.AfterFunc(250*time.Millisecond, func() {
			_ = syscall.Kill(pgid, syscall.SIGKILL)
		})
		return err
	}
}
