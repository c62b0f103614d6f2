//go:build windows

package sandbox

import (
	"os"
	"os/exec"
)

// setProcessGroup is a no-op on Windows; os/exec's Cancel already kills
// the immediate child, and the code runner's own children are expected
// to exit when their parent's stdio pipes close.
func setProcessGroup(cmd *exec.Cmd) {}

// killProcessTree kills the single process identified by pid; Windows
// process groups require job objects, out of scope here.
func killProcessTree(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
