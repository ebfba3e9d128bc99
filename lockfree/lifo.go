package lockfree

import (
	"unsafe"

	"golang.org/x/sys/cpu"
)

// lifoRoot is a Treiber stack of link indices, threaded through singleNext.
// Every successful mutation advances the head counter by stride, the bits
// below stride are state (e.g. closed) that travels with the head.
type lifoRoot struct {
	head   TaggedPointer
	stride uint64
	alloc  *IndexedLinkAllocator
}

func (r *lifoRoot) init(a *IndexedLinkAllocator, stride uint64) {
	if stride == 0 || stride&(stride-1) != 0 {
		panic(`lockfree: stride must be a power of two`)
	}
	r.head.Init()
	r.stride = stride
	r.alloc = a
}

func (r *lifoRoot) push(index uint32) {
	link := r.alloc.Item(index)
	for {
		old := r.head.Load()
		link.singleNext.Store(old.Index())
		if r.head.CompareAndSwap(old, old.Advance(r.stride).WithIndex(index)) {
			return
		}
	}
}

// pushIf pushes only while allow accepts the current state, the state is
// checked against the same head value the CAS commits against.
func (r *lifoRoot) pushIf(index uint32, allow func(state uint64) bool) bool {
	link := r.alloc.Item(index)
	for {
		old := r.head.Load()
		if !allow(old.State(r.stride)) {
			return false
		}
		link.singleNext.Store(old.Index())
		if r.head.CompareAndSwap(old, old.Advance(r.stride).WithIndex(index)) {
			return true
		}
	}
}

func (r *lifoRoot) pop() uint32 {
	for {
		old := r.head.Load()
		index := old.Index()
		if index == 0 {
			return 0
		}
		link := r.alloc.Item(index)
		// may be stale, in which case the CAS fails
		next := link.singleNext.Load()
		if r.head.CompareAndSwap(old, old.Advance(r.stride).WithIndex(next)) {
			link.singleNext.Store(0)
			return index
		}
	}
}

// popAll detaches the whole chain in one CAS, returning its first (most
// recently pushed) index.
func (r *lifoRoot) popAll() uint32 {
	for {
		old := r.head.Load()
		if old.Index() == 0 {
			return 0
		}
		if r.head.CompareAndSwap(old, old.Advance(r.stride).WithIndex(0)) {
			return old.Index()
		}
	}
}

// popAllAndChangeState detaches the chain and replaces the state in the same
// CAS.
func (r *lifoRoot) popAllAndChangeState(change func(state uint64) uint64) uint32 {
	for {
		old := r.head.Load()
		next := old.AdvanceWithState(r.stride, change(old.State(r.stride))).WithIndex(0)
		if r.head.CompareAndSwap(old, next) {
			return old.Index()
		}
	}
}

func (r *lifoRoot) state() uint64 {
	return r.head.Load().State(r.stride)
}

func (r *lifoRoot) isEmpty() bool {
	return r.head.Load().Index() == 0
}

// drain walks a detached chain, freeing every link, most recent first.
func drain[T any](pool *LinkPool, index uint32) (values []*T) {
	for index != 0 {
		link := pool.Item(index)
		next := link.singleNext.Load()
		values = append(values, (*T)(link.loadPayload()))
		pool.Free(index)
		index = next
	}
	return
}

// Stack is a lock-free LIFO of non-nil *T.
type Stack[T any] struct {
	root lifoRoot
	_    cpu.CacheLinePad
	pool *LinkPool
}

// NewStack returns an empty stack taking links from pool.
func NewStack[T any](pool *LinkPool) *Stack[T] {
	s := &Stack[T]{pool: pool}
	s.root.init(pool.alloc, 1)
	return s
}

// Push pushes v, which must not be nil.
func (s *Stack[T]) Push(v *T) {
	index := s.pool.Alloc()
	s.pool.Item(index).storePayload(unsafe.Pointer(v))
	s.root.push(index)
}

// Pop pops the most recently pushed value, or returns nil.
func (s *Stack[T]) Pop() *T {
	index := s.root.pop()
	if index == 0 {
		return nil
	}
	v := (*T)(s.pool.Item(index).loadPayload())
	s.pool.Free(index)
	return v
}

// PopAll atomically takes every value, most recently pushed first.
func (s *Stack[T]) PopAll() []*T {
	return drain[T](s.pool, s.root.popAll())
}

// IsEmpty is a racy snapshot.
func (s *Stack[T]) IsEmpty() bool {
	return s.root.isEmpty()
}

const (
	closableStride = 2
	closedState    = 1
)

// ClosableStack is a LIFO that can be atomically drained and closed, after
// which every push fails. It backs the subsequents list of a graph event:
// many producers, one consumer that drains it exactly once.
type ClosableStack[T any] struct {
	root lifoRoot
	_    cpu.CacheLinePad
	pool *LinkPool
}

// NewClosableStack returns an open, empty stack.
func NewClosableStack[T any](pool *LinkPool) *ClosableStack[T] {
	s := &ClosableStack[T]{pool: pool}
	s.root.init(pool.alloc, closableStride)
	return s
}

// PushIfNotClosed pushes v unless the stack is closed. A false return means
// the consumer has already drained the stack and v will never be seen by it.
func (s *ClosableStack[T]) PushIfNotClosed(v *T) bool {
	index := s.pool.Alloc()
	s.pool.Item(index).storePayload(unsafe.Pointer(v))
	if s.root.pushIf(index, isOpen) {
		return true
	}
	s.pool.Free(index)
	return false
}

// PopAllAndClose closes the stack and returns what it held, most recently
// pushed first.
func (s *ClosableStack[T]) PopAllAndClose() []*T {
	return drain[T](s.pool, s.root.popAllAndChangeState(closeState))
}

// IsClosed reports whether PopAllAndClose has run.
func (s *ClosableStack[T]) IsClosed() bool {
	return s.root.state()&closedState != 0
}

// Reopen makes a closed, empty stack usable again. The caller must have
// exclusive access.
func (s *ClosableStack[T]) Reopen() {
	drain[T](s.pool, s.root.popAllAndChangeState(openState))
}

func isOpen(state uint64) bool { return state&closedState == 0 }

func closeState(uint64) uint64 { return closedState }

func openState(uint64) uint64 { return 0 }
