//go:build linux

package subprocess

import (
	"os/exec"
	"runtime"
	"sync"
	"syscall"
)

// configureSysProcAttr asks the kernel to SIGKILL the backend if the bridge dies
// without running its cleanup, e.g. when the bridge itself is SIGKILLed.
//
// Pdeathsig is tied to the OS thread that forked the child, not to the bridge
// process (golang/go#27505), so children must be started with startCmd.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL}
}

type spawnRequest struct {
	cmd  *exec.Cmd
	done chan error
}

var (
	spawnOnce     sync.Once
	spawnRequests = make(chan spawnRequest)
)

// startCmd starts cmd from a goroutine that stays locked to one OS thread for
// the life of the bridge, so the runtime never retires the parent thread.
func startCmd(cmd *exec.Cmd) error {
	spawnOnce.Do(func() {
		go spawnLoop()
	})

	done := make(chan error, 1)
	spawnRequests <- spawnRequest{cmd: cmd, done: done}

	return <-done
}

func spawnLoop() {
	runtime.LockOSThread()

	for req := range spawnRequests {
		req.done <- req.cmd.Start()
	}
}
