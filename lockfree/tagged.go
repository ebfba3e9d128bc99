package lockfree

import (
	"sync/atomic"
	"time"
)

const (
	// IndexBits is the width of the index part of a TaggedIndex.
	IndexBits = 26
	// CounterBits is the width of the counter part, low bits of the counter
	// are state when a list advances by a stride greater than one.
	CounterBits = 64 - IndexBits
	// MaxLinks is the number of addressable links, index 0 included.
	MaxLinks = 1 << IndexBits

	indexMask   = MaxLinks - 1
	counterMask = 1<<CounterBits - 1

	// counterWrapBackoff is slept after the counter wraps, the wrap itself is
	// harmless unless a CAS comparand has been held for a full counter cycle
	counterWrapBackoff = time.Millisecond
)

// TaggedIndex is a link index packed together with a generation counter.
// Comparing two TaggedIndex values compares both parts, so a CAS against a
// stale value fails even when the same index has been recycled in between.
type TaggedIndex uint64

// Pack builds a TaggedIndex, truncating index and counter to their widths.
func Pack(index uint32, counter uint64) TaggedIndex {
	return TaggedIndex(uint64(index)&indexMask | (counter&counterMask)<<IndexBits)
}

// Unpack is the inverse of Pack.
func (x TaggedIndex) Unpack() (index uint32, counter uint64) {
	return x.Index(), x.Counter()
}

// Index returns the link index, 0 is null.
func (x TaggedIndex) Index() uint32 {
	return uint32(uint64(x) & indexMask)
}

// Counter returns the counter including any state bits.
func (x TaggedIndex) Counter() uint64 {
	return uint64(x) >> IndexBits
}

// State returns the state bits reserved by stride, which must be a power
// of two.
func (x TaggedIndex) State(stride uint64) uint64 {
	return x.Counter() & (stride - 1)
}

// Generation returns the counter without the state bits reserved by stride.
func (x TaggedIndex) Generation(stride uint64) uint64 {
	return x.Counter() / stride
}

// WithIndex replaces the index, keeping the counter.
func (x TaggedIndex) WithIndex(index uint32) TaggedIndex {
	return Pack(index, x.Counter())
}

// Advance moves the counter forward by stride, preserving index and state.
func (x TaggedIndex) Advance(stride uint64) TaggedIndex {
	c := x.Counter()
	n := (c + stride) & counterMask
	if n < c {
		counterWrapped(c, stride)
	}
	return Pack(x.Index(), n)
}

// AdvanceWithState moves the counter forward by stride and replaces the
// state bits with state.
func (x TaggedIndex) AdvanceWithState(stride, state uint64) TaggedIndex {
	base := x.Counter() &^ (stride - 1)
	n := (base + stride) & counterMask
	if n < base {
		counterWrapped(base, stride)
	}
	return Pack(x.Index(), n|state&(stride-1))
}

func counterWrapped(counter, stride uint64) {
	Logger().Warning().
		Uint64(`counter`, counter).
		Uint64(`stride`, stride).
		Log(`tagged index counter wrapped`)
	time.Sleep(counterWrapBackoff)
}

// TaggedPointer is the atomic home of a TaggedIndex. Once a structure is
// shared it is only mutated through CompareAndSwap.
type TaggedPointer struct {
	v atomic.Uint64
}

// Init resets the pointer to index 0, counter 0.
func (p *TaggedPointer) Init() {
	p.v.Store(0)
}

// Load reads the current value.
func (p *TaggedPointer) Load() TaggedIndex {
	return TaggedIndex(p.v.Load())
}

// Store unconditionally writes the value, only valid while the owner has
// exclusive access.
func (p *TaggedPointer) Store(x TaggedIndex) {
	p.v.Store(uint64(x))
}

// CompareAndSwap replaces old with new if the whole word still equals old.
func (p *TaggedPointer) CompareAndSwap(old, new TaggedIndex) bool {
	return p.v.CompareAndSwap(uint64(old), uint64(new))
}
