//go:build windows

package livepty

import "os/exec"

func exitSignal(exitErr *exec.ExitError) string {
	return ""
}
