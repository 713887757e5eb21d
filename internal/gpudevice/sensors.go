// Package gpudevice probes local GPU identity and free memory for the
// registration RPC (spec §4.6, §6): node type, port, rpc port, GPU device
// name, free GPU memory. Platform-specific probing lives in the
// build-tagged sensors_*.go files.
package gpudevice

import (
	"strconv"
	"strings"
)

// DeviceInfo is what the registration daemon reports about the local GPU.
type DeviceInfo struct {
	Name            string
	FreeMemoryBytes uint64
}

// Probe reads the local GPU's identity and free memory. Returns a
// zero-value DeviceInfo with ok=false when no GPU tooling is available —
// callers register with an empty name rather than failing startup over it.
func Probe(gpuID int) (DeviceInfo, bool) {
	return probe(gpuID)
}

// parseNvidiaSMI parses a single `--format=csv,noheader,nounits` line of
// `name,memory.free` as reported by nvidia-smi (identical output format on
// Linux and Windows).
func parseNvidiaSMI(out string) (DeviceInfo, bool) {
	line := strings.TrimSpace(strings.SplitN(out, "\n", 2)[0])
	parts := strings.Split(line, ",")
	if len(parts) != 2 {
		return DeviceInfo{}, false
	}
	name := strings.TrimSpace(parts[0])
	freeMiB, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return DeviceInfo{}, false
	}
	return DeviceInfo{Name: name, FreeMemoryBytes: freeMiB * 1024 * 1024}, true
}
