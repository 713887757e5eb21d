//go:build linux

package gpudevice

import (
	"fmt"
	"os/exec"
)

// probe queries nvidia-smi for the named GPU's model and free memory.
// Returns ok=false if nvidia-smi isn't installed or the index is out of
// range — the caller registers with an empty device name rather than
// failing startup over it.
func probe(gpuID int) (DeviceInfo, bool) {
	out, err := exec.Command("nvidia-smi",
		"--query-gpu=name,memory.free",
		"--format=csv,noheader,nounits",
		fmt.Sprintf("--id=%d", gpuID),
	).Output()
	if err != nil {
		return DeviceInfo{}, false
	}
	return parseNvidiaSMI(string(out))
}
