package serviceinit

import (
	"fmt"
	"os/exec"
	"syscall"
)

// Exec replaces the current process with the given command and
// environment. Credentials travel only through the process environment,
// never through disk or the parent's environ. On success this call does
// not return.
func Exec(command, env []string) error {
	if len(command) == 0 {
		return fmt.Errorf("no command to run")
	}
	path, err := exec.LookPath(command[0])
	if err != nil {
		return fmt.Errorf("could not resolve command %s: %w", command[0], err)
	}
	return syscall.Exec(path, command, env)
}
