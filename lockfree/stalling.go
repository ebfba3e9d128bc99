package lockfree

import (
	"math/bits"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// MaxStallingWorkers is the number of workers one StallingQueue can track.
const MaxStallingWorkers = 32

// stallWord packs the stall mask (low half) with a generation (high half).
// Every push advances the generation, so a worker that saw empty queues
// cannot commit its stall bit over a push it did not see.
type stallWord uint64

func (w stallWord) mask() uint32 {
	return uint32(w)
}

func (w stallWord) generation() uint32 {
	return uint32(w >> 32)
}

func (w stallWord) next(mask uint32) stallWord {
	return stallWord(uint64(w.generation()+1)<<32 | uint64(mask))
}

// StallingQueue is a set of FIFOs, one per priority (0 is highest), shared
// by up to MaxStallingWorkers consumers. A consumer that finds nothing
// records itself as stalled, and the next Push hands the wake to exactly one
// stalled consumer.
type StallingQueue[T any] struct {
	state  atomic.Uint64
	_      cpu.CacheLinePad
	queues []*Queue[T]
}

// NewStallingQueue returns a queue with the given number of priorities.
func NewStallingQueue[T any](pool *LinkPool, priorities int) *StallingQueue[T] {
	if priorities < 1 {
		priorities = 1
	}
	q := &StallingQueue[T]{queues: make([]*Queue[T], priorities)}
	for i := range q.queues {
		q.queues[i] = NewQueue[T](pool)
	}
	return q
}

// Priorities returns the number of priority levels.
func (q *StallingQueue[T]) Priorities() int {
	return len(q.queues)
}

// Push enqueues v at priority and returns the stalled worker the caller must
// wake, or -1 if none was stalled. The returned worker's stall bit has been
// cleared by this call, so no other push will return it.
func (q *StallingQueue[T]) Push(v *T, priority int) int {
	q.queues[priority].Push(v)
	for {
		old := stallWord(q.state.Load())
		mask := old.mask()
		wake := -1
		if mask != 0 {
			wake = bits.TrailingZeros32(mask)
			mask &^= 1 << wake
		}
		if q.state.CompareAndSwap(uint64(old), uint64(old.next(mask))) {
			return wake
		}
	}
}

// Pop returns the first value found scanning from the highest priority. If
// every queue is empty it returns nil, after setting the worker's stall bit
// when allowStall is set. A stalled worker must block until woken, then call
// Unstall before popping again.
func (q *StallingQueue[T]) Pop(worker int, allowStall bool) *T {
	bit := workerBit(worker)
	for {
		old := stallWord(q.state.Load())
		if allowStall && old.mask()&bit != 0 {
			fatal(`StallingQueue.Pop`, ErrStalledPop)
		}
		for _, queue := range q.queues {
			if v := queue.Pop(); v != nil {
				return v
			}
		}
		if !allowStall {
			return nil
		}
		if q.state.CompareAndSwap(uint64(old), uint64(old.next(old.mask()|bit))) {
			return nil
		}
	}
}

// Unstall clears the worker's own stall bit, for wakes that did not come
// from Push (shutdown, reconfiguration). It reports whether the bit was set.
func (q *StallingQueue[T]) Unstall(worker int) bool {
	bit := workerBit(worker)
	for {
		old := stallWord(q.state.Load())
		if old.mask()&bit == 0 {
			return false
		}
		if q.state.CompareAndSwap(uint64(old), uint64(old.next(old.mask()&^bit))) {
			return true
		}
	}
}

// WakeOne claims the lowest stalled worker without pushing anything, or
// returns -1.
func (q *StallingQueue[T]) WakeOne() int {
	for {
		old := stallWord(q.state.Load())
		mask := old.mask()
		if mask == 0 {
			return -1
		}
		wake := bits.TrailingZeros32(mask)
		if q.state.CompareAndSwap(uint64(old), uint64(old.next(mask&^(1<<wake)))) {
			return wake
		}
	}
}

// Stalled returns a snapshot of the stall mask.
func (q *StallingQueue[T]) Stalled() uint32 {
	return stallWord(q.state.Load()).mask()
}

// IsEmpty is a racy snapshot across all priorities.
func (q *StallingQueue[T]) IsEmpty() bool {
	for _, queue := range q.queues {
		if !queue.IsEmpty() {
			return false
		}
	}
	return true
}

func workerBit(worker int) uint32 {
	if worker < 0 || worker >= MaxStallingWorkers {
		fatal(`StallingQueue`, ErrTooManyWorkers)
	}
	return 1 << worker
}
