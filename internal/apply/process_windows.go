//go:build windows

package apply

import (
	"fmt"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// Exec starts exe as a new process. Windows has no exec(2); the caller
// exits right after.
func (OSProcess) Exec(exe string, args []string) error {
	cmd := exec.Command(exe, args...)
	cmd.SysProcAttr = detachedAttr()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", exe, err)
	}
	return cmd.Process.Release()
}

// SpawnDetached runs a batch script in its own process group with no
// console, so it survives this process exiting.
func (OSProcess) SpawnDetached(script string) error {
	cmd := exec.Command("cmd.exe", "/C", script)
	cmd.SysProcAttr = detachedAttr()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", script, err)
	}
	return cmd.Process.Release()
}

func detachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP | windows.DETACHED_PROCESS,
		HideWindow:    true,
	}
}
