//go:build linux

package affinity

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// LinuxPlatform implements Platform using sched_getaffinity/sched_setaffinity
// (§4.7's "apply affinity of the current process") and an attempt at
// perf_event_open-based cycle sampling, falling back to round-robin when
// the kernel refuses the attempt (most commonly: perf_event_paranoid or
// missing CAP_PERFMON in a container).
type LinuxPlatform struct{}

// NewLinuxPlatform constructs the real Linux Platform.
func NewLinuxPlatform() LinuxPlatform { return LinuxPlatform{} }

// OnlineCPUCount reads the current thread's affinity mask and counts the
// bits set in it, which on a freshly-started backend is the online CPU
// set (§4.7: "query the platform's online-CPU count").
func (LinuxPlatform) OnlineCPUCount() (int, bool) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return 0, false
	}
	return set.Count(), true
}

// SampleCycles attempts a PERF_COUNT_HW_CPU_CYCLES measurement per CPU over
// window. Opening a hardware perf counter commonly requires a capability
// (CAP_PERFMON) or a permissive perf_event_paranoid sysctl; when the kernel
// refuses, this returns ok=false so the caller falls back to round-robin,
// per §4.7.
func (LinuxPlatform) SampleCycles(cpus []int, window time.Duration) ([]uint64, bool) {
	cycles := make([]uint64, 0, len(cpus))
	fds := make([]int, 0, len(cpus))
	attr := &unix.PerfEventAttr{
		Type:   unix.PERF_TYPE_HARDWARE,
		Size:   uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
		Config: unix.PERF_COUNT_HW_CPU_CYCLES,
		Bits:   unix.PerfBitDisabled | unix.PerfBitExcludeKernel | unix.PerfBitExcludeHv,
	}
	for _, cpu := range cpus {
		fd, err := unix.PerfEventOpen(attr, -1, cpu, -1, 0)
		if err != nil {
			closeAll(fds)
			return nil, false
		}
		fds = append(fds, fd)
	}
	defer closeAll(fds)

	for _, fd := range fds {
		_ = unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_RESET, 0)
		_ = unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_ENABLE, 0)
	}
	time.Sleep(window)
	for _, fd := range fds {
		_ = unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_DISABLE, 0)
		buf := make([]byte, 8)
		n, err := unix.Read(fd, buf)
		if err != nil || n != 8 {
			return nil, false
		}
		var v uint64
		for i := 7; i >= 0; i-- {
			v = v<<8 | uint64(buf[i])
		}
		cycles = append(cycles, v)
	}
	return cycles, true
}

func closeAll(fds []int) {
	for _, fd := range fds {
		_ = unix.Close(fd)
	}
}

// Apply sets the calling thread's CPU affinity mask to cores (§4.7: "apply
// affinity of the current process to the resolved set").
func (LinuxPlatform) Apply(cores []int) error {
	var set unix.CPUSet
	set.Zero()
	for _, c := range cores {
		set.Set(c)
	}
	return unix.SchedSetaffinity(0, &set)
}
