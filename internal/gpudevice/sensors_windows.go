//go:build windows

package gpudevice

import (
	"fmt"
	"os/exec"
)

// probe shells out to nvidia-smi.exe, same CSV query as the Linux probe —
// the CLI's output format is identical across platforms.
func probe(gpuID int) (DeviceInfo, bool) {
	out, err := exec.Command("nvidia-smi.exe",
		"--query-gpu=name,memory.free",
		"--format=csv,noheader,nounits",
		fmt.Sprintf("--id=%d", gpuID),
	).Output()
	if err != nil {
		return DeviceInfo{}, false
	}
	return parseNvidiaSMI(string(out))
}
