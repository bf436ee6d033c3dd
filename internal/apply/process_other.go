//go:build !windows

package apply

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func (OSProcess) Exec(exe string, args []string) error {
	argv := append([]string{exe}, args...)
	if err := unix.Exec(exe, argv, os.Environ()); err != nil {
		return fmt.Errorf("exec %s: %w", exe, err)
	}
	return nil
}

// SpawnDetached runs script with /bin/sh in a new session.
func (OSProcess) SpawnDetached(script string) error {
	cmd := exec.Command("/bin/sh", script)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", script, err)
	}
	return cmd.Process.Release()
}
