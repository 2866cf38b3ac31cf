//go:build !linux

package subprocess

import "os/exec"

func configureSysProcAttr(_ *exec.Cmd) {}

func startCmd(cmd *exec.Cmd) error {
	return cmd.Start()
}
