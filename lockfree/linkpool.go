package lockfree

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// NumPerBundle is the number of links moved between a P local cache and the
// global free list at a time.
const NumPerBundle = 64

// linkCache is owned by whichever goroutine has pinned the matching P, the
// atomics only exist to publish the fields to the next owner.
type linkCache struct {
	_ cpu.CacheLinePad
	// allocHead is a bundle being handed out
	allocHead atomic.Uint32
	// freeHead collects freed links until it holds a full bundle
	freeHead  atomic.Uint32
	freeCount atomic.Uint32
}

// LinkPool hands out and recycles links of one IndexedLinkAllocator. Freed
// links are batched into bundles per P, full bundles move through a global
// lock-free stack.
type LinkPool struct {
	alloc *IndexedLinkAllocator
	// bundles chains full bundles through the singleNext of their first link
	bundles lifoRoot
	_       cpu.CacheLinePad
	// loose collects links freed on a P without a cache
	loose  lifoRoot
	_      cpu.CacheLinePad
	caches []linkCache
}

// NewLinkPool returns a pool over a new full size allocator, with one cache
// per P at the current GOMAXPROCS.
func NewLinkPool() *LinkPool {
	return newLinkPool(NewIndexedLinkAllocator())
}

func newLinkPool(a *IndexedLinkAllocator) *LinkPool {
	p := &LinkPool{
		alloc:  a,
		caches: make([]linkCache, runtime.GOMAXPROCS(0)),
	}
	p.bundles.init(a, 1)
	p.loose.init(a, 1)
	return p
}

// Allocator exposes the underlying allocator.
func (p *LinkPool) Allocator() *IndexedLinkAllocator {
	return p.alloc
}

// Item resolves an index, see IndexedLinkAllocator.Item.
func (p *LinkPool) Item(index uint32) *Link {
	return p.alloc.Item(index)
}

// Alloc returns an exclusively owned link with a nil payload. The link's
// doubleNext counter is preserved across reuse.
func (p *LinkPool) Alloc() uint32 {
	pid := runtime_procPin()
	if pid >= len(p.caches) {
		runtime_procUnpin()
		if index := p.loose.pop(); index != 0 {
			return p.prepare(index)
		}
		return p.prepare(p.alloc.Alloc(1))
	}
	c := &p.caches[pid]
	if index := c.allocHead.Load(); index != 0 {
		c.allocHead.Store(p.alloc.Item(index).freeNext.Load())
		runtime_procUnpin()
		return p.prepare(index)
	}
	if index := c.freeHead.Load(); index != 0 {
		c.freeHead.Store(p.alloc.Item(index).freeNext.Load())
		c.freeCount.Add(^uint32(0))
		runtime_procUnpin()
		return p.prepare(index)
	}
	runtime_procUnpin()
	return p.refill()
}

// refill takes a bundle (from the global list, or freshly allocated), keeps
// its first link and installs the rest on the current P.
func (p *LinkPool) refill() uint32 {
	index := p.bundles.pop()
	if index == 0 {
		index = p.newBundle()
	}
	rest := p.alloc.Item(index).freeNext.Load()
	if rest != 0 {
		pid := runtime_procPin()
		if pid < len(p.caches) && p.caches[pid].allocHead.Load() == 0 {
			p.caches[pid].allocHead.Store(rest)
			runtime_procUnpin()
		} else {
			// refilled by another goroutine on this P in the meantime
			runtime_procUnpin()
			p.bundles.push(rest)
		}
	}
	return p.prepare(index)
}

func (p *LinkPool) newBundle() uint32 {
	first := p.alloc.Alloc(NumPerBundle)
	last := first + NumPerBundle - 1
	for index := first; index < last; index++ {
		p.alloc.Item(index).freeNext.Store(index + 1)
	}
	p.alloc.Item(last).freeNext.Store(0)
	return first
}

func (p *LinkPool) prepare(index uint32) uint32 {
	link := p.alloc.Item(index)
	link.singleNext.Store(0)
	link.freeNext.Store(0)
	link.storePayload(nil)
	return index
}

// Free returns a link to the pool. The caller must not touch it again,
// though concurrent readers holding a stale index may still read it.
func (p *LinkPool) Free(index uint32) {
	link := p.alloc.Item(index)
	link.storePayload(nil)
	pid := runtime_procPin()
	if pid >= len(p.caches) {
		runtime_procUnpin()
		p.loose.push(index)
		return
	}
	c := &p.caches[pid]
	link.freeNext.Store(c.freeHead.Load())
	c.freeHead.Store(index)
	if c.freeCount.Add(1) < NumPerBundle {
		runtime_procUnpin()
		return
	}
	c.freeHead.Store(0)
	c.freeCount.Store(0)
	runtime_procUnpin()
	p.bundles.push(index)
}
