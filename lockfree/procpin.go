package lockfree

import (
	_ "unsafe"
)

// procPin disables preemption and returns the id of the current P, which
// makes the per-P link caches exclusively owned until procUnpin.

//go:linkname runtime_procPin runtime.procPin
func runtime_procPin() int

//go:linkname runtime_procUnpin runtime.procUnpin
func runtime_procUnpin()
