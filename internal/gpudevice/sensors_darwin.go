//go:build darwin

package gpudevice

import (
	"os/exec"
	"strings"
)

// probe reads the GPU model via system_profiler. macOS has no nvidia-smi
// equivalent for integrated/Apple Silicon GPUs and no portable free-memory
// query, so FreeMemoryBytes is left at 0 (unified memory has no separate
// GPU-free figure to report).
func probe(gpuID int) (DeviceInfo, bool) {
	out, err := exec.Command("system_profiler", "SPDisplaysDataType").Output()
	if err != nil {
		return DeviceInfo{}, false
	}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "Chipset Model:") {
			name := strings.TrimSpace(strings.TrimPrefix(line, "Chipset Model:"))
			return DeviceInfo{Name: name}, true
		}
	}
	return DeviceInfo{}, false
}
