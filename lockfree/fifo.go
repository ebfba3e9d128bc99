package lockfree

import (
	"unsafe"

	"golang.org/x/sys/cpu"
)

// Queue is a Michael-Scott lock-free FIFO of non-nil *T, threaded through
// the tagged doubleNext of each link. The head always points at a dummy
// link, whose successor holds the next value.
//
// Credits -> M. Michael and M. Scott, "Simple, Fast, and Practical
// Non-Blocking and Blocking Concurrent Queue Algorithms"
type Queue[T any] struct {
	head TaggedPointer
	_    cpu.CacheLinePad
	tail TaggedPointer
	_    cpu.CacheLinePad
	pool *LinkPool
}

// NewQueue returns an empty queue, allocating its stub link from pool.
func NewQueue[T any](pool *LinkPool) *Queue[T] {
	q := &Queue[T]{pool: pool}
	stub := pool.Alloc()
	terminate(pool.Item(stub))
	q.head.Store(Pack(stub, 0))
	q.tail.Store(Pack(stub, 0))
	return q
}

// terminate clears the next index of a link about to become the last one,
// advancing the counter so stale CASes against its old next fail.
func terminate(link *Link) {
	link.doubleNext.Store(link.doubleNext.Load().Advance(1).WithIndex(0))
}

// Push appends v, which must not be nil.
func (q *Queue[T]) Push(v *T) {
	index := q.pool.Alloc()
	link := q.pool.Item(index)
	link.storePayload(unsafe.Pointer(v))
	terminate(link)
	for {
		tail := q.tail.Load()
		tailLink := q.pool.Item(tail.Index())
		next := tailLink.doubleNext.Load()
		if tail != q.tail.Load() {
			continue
		}
		if next.Index() != 0 {
			// tail is lagging, help it along
			q.tail.CompareAndSwap(tail, tail.Advance(1).WithIndex(next.Index()))
			continue
		}
		if tailLink.doubleNext.CompareAndSwap(next, next.Advance(1).WithIndex(index)) {
			q.tail.CompareAndSwap(tail, tail.Advance(1).WithIndex(index))
			return
		}
	}
}

// Pop removes the oldest value, or returns nil if the queue is empty.
func (q *Queue[T]) Pop() *T {
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		next := q.pool.Item(head.Index()).doubleNext.Load()
		if head != q.head.Load() {
			continue
		}
		if head.Index() == tail.Index() {
			if next.Index() == 0 {
				return nil
			}
			// never move head past a lagging tail
			q.tail.CompareAndSwap(tail, tail.Advance(1).WithIndex(next.Index()))
			continue
		}
		if next.Index() == 0 {
			continue
		}
		// read before the CAS, once head moves the link may be recycled
		v := q.pool.Item(next.Index()).loadPayload()
		if q.head.CompareAndSwap(head, head.Advance(1).WithIndex(next.Index())) {
			// the old dummy is ours, next becomes the dummy and keeps its
			// payload until it is freed in turn
			q.pool.Free(head.Index())
			return (*T)(v)
		}
	}
}

// IsEmpty is a racy snapshot.
func (q *Queue[T]) IsEmpty() bool {
	head := q.head.Load()
	return q.pool.Item(head.Index()).doubleNext.Load().Index() == 0
}
