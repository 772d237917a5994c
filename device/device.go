// Package device resolves the compute device a run uses and reports the
// host it runs on.
package device

import (
	"os"
	"runtime"
	"slices"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/YuminosukeSato/beanscope/config"
	"github.com/YuminosukeSato/beanscope/pkg/errors"
	"github.com/YuminosukeSato/beanscope/pkg/log"
)

// Probe reports which accelerators are present.
type Probe struct {
	CUDA func() bool
	MPS  func() bool
}

// DefaultProbe looks for the NVIDIA driver and for Apple silicon.
func DefaultProbe() Probe {
	return Probe{CUDA: cudaPresent, MPS: mpsPresent}
}

func cudaPresent() bool {
	if v, ok := os.LookupEnv("CUDA_VISIBLE_DEVICES"); ok && (v == "" || v == "-1") {
		return false
	}
	for _, path := range []string{"/proc/driver/nvidia/version", "/dev/nvidiactl"} {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	return false
}

func mpsPresent() bool {
	return runtime.GOOS == "darwin" && runtime.GOARCH == "arm64"
}

// Available lists the usable devices in preference order. cpu is always
// last.
func (p Probe) Available() []string {
	var devices []string
	if p.CUDA != nil && p.CUDA() {
		devices = append(devices, config.DeviceCUDA)
	}
	if p.MPS != nil && p.MPS() {
		devices = append(devices, config.DeviceMPS)
	}
	return append(devices, config.DeviceCPU)
}

// Resolve maps a preference to a concrete device. "auto" picks cuda, then
// mps, then cpu. An explicit device that is not present fails with a
// DeviceUnavailableError.
func Resolve(preference string, probe Probe) (string, error) {
	available := probe.Available()
	switch preference {
	case "", config.DeviceAuto:
		return available[0], nil
	case config.DeviceCUDA, config.DeviceMPS, config.DeviceCPU:
		if !slices.Contains(available, preference) {
			return "", errors.NewDeviceUnavailableError(preference, available)
		}
		return preference, nil
	default:
		return "", errors.NewValidationError("device", "must be one of auto, cuda, mps, cpu", preference)
	}
}

// Host is a snapshot of the machine's resources.
type Host struct {
	LogicalCPUs     int
	TotalMemory     uint64
	AvailableMemory uint64
	ProcessRSS      uint64
}

// DescribeHost collects CPU and memory figures. Fields that cannot be read
// stay zero.
func DescribeHost() Host {
	var h Host
	if n, err := cpu.Counts(true); err == nil {
		h.LogicalCPUs = n
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		h.TotalMemory = vm.Total
		h.AvailableMemory = vm.Available
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := p.MemoryInfo(); err == nil {
			h.ProcessRSS = info.RSS
		}
	}
	return h
}

// Select resolves the preference and logs the chosen device together with
// the host resources.
func Select(preference string, probe Probe, logger log.Logger) (string, error) {
	dev, err := Resolve(preference, probe)
	if err != nil {
		return "", err
	}
	if logger == nil {
		logger = log.GetLoggerWithName("device")
	}
	h := DescribeHost()
	logger.Info("Using device",
		log.DeviceKey, dev,
		"host.cpus", h.LogicalCPUs,
		"host.memory_total_bytes", h.TotalMemory,
		"host.memory_available_bytes", h.AvailableMemory,
		"process.rss_bytes", h.ProcessRSS,
	)
	return dev, nil
}
