package taskgraph

import (
	"fmt"
)

// ThreadTarget packs where and how urgently a task runs: a named thread
// index (or AnyThread), a thread priority used when routing to anonymous
// workers, and a task priority within the chosen queue. Values are combined
// with bitwise or, e.g. AnyThread|BackgroundThreadPriority|HighTaskPriority.
type ThreadTarget uint32

const (
	threadIndexMask     ThreadTarget = 0xff
	threadPriorityShift              = 8
	threadPriorityMask  ThreadTarget = 3 << threadPriorityShift
	taskPriorityShift                = 10
	taskPriorityMask    ThreadTarget = 1 << taskPriorityShift

	// MaxNamedThreads is the number of named thread slots, including
	// GameThread.
	MaxNamedThreads = 16

	// NumThreadPriorities is the number of anonymous worker classes.
	NumThreadPriorities = 3
)

const (
	// GameThread is named thread 0, which is always present and always
	// driven externally.
	GameThread ThreadTarget = 0

	// AnyThread routes a task to the anonymous worker pool.
	AnyThread ThreadTarget = threadIndexMask

	NormalThreadPriority     ThreadTarget = 0 << threadPriorityShift
	HighThreadPriority       ThreadTarget = 1 << threadPriorityShift
	BackgroundThreadPriority ThreadTarget = 2 << threadPriorityShift

	NormalTaskPriority ThreadTarget = 0
	HighTaskPriority   ThreadTarget = 1 << taskPriorityShift

	AnyNormalThreadNormalTask     = AnyThread | NormalThreadPriority | NormalTaskPriority
	AnyNormalThreadHighTask       = AnyThread | NormalThreadPriority | HighTaskPriority
	AnyHighThreadNormalTask       = AnyThread | HighThreadPriority | NormalTaskPriority
	AnyHighThreadHighTask         = AnyThread | HighThreadPriority | HighTaskPriority
	AnyBackgroundThreadNormalTask = AnyThread | BackgroundThreadPriority | NormalTaskPriority
	AnyBackgroundThreadHighTask   = AnyThread | BackgroundThreadPriority | HighTaskPriority
)

// queue priority slots, lower pops first
const (
	highQueue = iota
	normalQueue
	numQueuePriorities
)

// class indexes, matching the thread priority field
const (
	normalClass = iota
	highClass
	backgroundClass
)

// NamedThread returns the target for the named thread at index, which must
// be in [0, MaxNamedThreads).
func NamedThread(index int) ThreadTarget {
	if index < 0 || index >= MaxNamedThreads {
		panic(fmt.Errorf(`taskgraph: named thread index %d out of range`, index))
	}
	return ThreadTarget(index)
}

// ThreadIndex returns the named thread index, or -1 for AnyThread.
func (x ThreadTarget) ThreadIndex() int {
	if x.IsAnyThread() {
		return -1
	}
	return int(x & threadIndexMask)
}

func (x ThreadTarget) IsAnyThread() bool {
	return x&threadIndexMask == AnyThread
}

// ThreadPriority returns only the thread priority bits.
func (x ThreadTarget) ThreadPriority() ThreadTarget {
	return x & threadPriorityMask
}

// TaskPriority returns only the task priority bit.
func (x ThreadTarget) TaskPriority() ThreadTarget {
	return x & taskPriorityMask
}

func (x ThreadTarget) IsHighTaskPriority() bool {
	return x&taskPriorityMask != 0
}

// Thread strips both priorities, leaving the thread selection.
func (x ThreadTarget) Thread() ThreadTarget {
	return x & threadIndexMask
}

// WithThreadPriority replaces the thread priority bits.
func (x ThreadTarget) WithThreadPriority(p ThreadTarget) ThreadTarget {
	return x&^threadPriorityMask | p&threadPriorityMask
}

// WithTaskPriority replaces the task priority bit.
func (x ThreadTarget) WithTaskPriority(p ThreadTarget) ThreadTarget {
	return x&^taskPriorityMask | p&taskPriorityMask
}

// class maps the thread priority to a worker class index, treating the
// unused encoding as normal.
func (x ThreadTarget) class() int {
	switch x.ThreadPriority() {
	case HighThreadPriority:
		return highClass
	case BackgroundThreadPriority:
		return backgroundClass
	default:
		return normalClass
	}
}

func (x ThreadTarget) queuePriority() int {
	if x.IsHighTaskPriority() {
		return highQueue
	}
	return normalQueue
}

func (x ThreadTarget) String() string {
	var s string
	switch {
	case x.IsAnyThread():
		s = `AnyThread`
	case x.Thread() == GameThread:
		s = `GameThread`
	default:
		s = fmt.Sprintf(`NamedThread(%d)`, x.ThreadIndex())
	}
	var tp string
	switch x.class() {
	case highClass:
		tp = `high`
	case backgroundClass:
		tp = `background`
	default:
		tp = `normal`
	}
	task := `normal`
	if x.IsHighTaskPriority() {
		task = `high`
	}
	return s + `[` + tp + `,` + task + `]`
}
