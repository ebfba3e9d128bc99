//go:build linux

package taskgraph

import (
	"golang.org/x/sys/unix"
)

func osThreadID() int {
	return unix.Gettid()
}

// setAffinity pins the calling OS thread, which must be locked.
func setAffinity(cpus []int) error {
	var set unix.CPUSet
	set.Zero()
	for _, cpu := range cpus {
		set.Set(cpu)
	}
	return unix.SchedSetaffinity(0, &set)
}

// setNice adjusts the scheduling priority of the calling OS thread.
func setNice(nice int) error {
	return unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), nice)
}
