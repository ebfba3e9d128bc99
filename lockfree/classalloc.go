package lockfree

// ClassAllocator recycles values of one type through a lock-free stack.
// Values are never released, only reused.
type ClassAllocator[T any] struct {
	free  *Stack[T]
	reset func(*T)
}

// NewClassAllocator returns an allocator whose Put runs reset (if non-nil)
// before recycling a value.
func NewClassAllocator[T any](pool *LinkPool, reset func(*T)) *ClassAllocator[T] {
	return &ClassAllocator[T]{free: NewStack[T](pool), reset: reset}
}

// Get returns a recycled value, or a new zero value.
func (a *ClassAllocator[T]) Get() *T {
	if v := a.free.Pop(); v != nil {
		return v
	}
	return new(T)
}

// Put recycles v, the caller must not use it again.
func (a *ClassAllocator[T]) Put(v *T) {
	if a.reset != nil {
		a.reset(v)
	}
	a.free.Push(v)
}
