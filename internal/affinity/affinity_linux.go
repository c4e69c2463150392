//go:build linux

package affinity

import (
	"runtime"

	"golang.org/x/sys/unix"
)

func setAffinity(core int) int {
	n := runtime.NumCPU()
	if n <= 0 {
		return -1
	}
	core %= n

	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return -1
	}
	return core
}
