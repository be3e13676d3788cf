//go:build unix

package lifecycle

import (
	"os/exec"
	"syscall"
)

// setDetached starts cmd in a new session so it is not killed when the
// spawning client process (a hook script) exits.
func setDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
