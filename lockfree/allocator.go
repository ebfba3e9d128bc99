package lockfree

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/cpu"
)

const (
	// ItemsPerPage is the number of links in a lazily allocated page.
	ItemsPerPage = 1 << pageShift
	// NumPages is the size of the page table.
	NumPages = MaxLinks / ItemsPerPage

	pageShift = 14
	pageMask  = ItemsPerPage - 1
)

// Link is the node every list in this package threads. A link belongs to
// exactly one list (or free bundle) at a time and is never released to the
// OS.
type Link struct {
	// doubleNext is the tagged next pointer used by Queue.
	doubleNext TaggedPointer
	payload    unsafe.Pointer
	// singleNext is the next pointer used by lifoRoot.
	singleNext atomic.Uint32
	// freeNext chains links inside a free bundle, it has no meaning while
	// the link is in use.
	freeNext atomic.Uint32
}

func (l *Link) loadPayload() unsafe.Pointer {
	return atomic.LoadPointer(&l.payload)
}

func (l *Link) storePayload(p unsafe.Pointer) {
	atomic.StorePointer(&l.payload, p)
}

type linkPage [ItemsPerPage]Link

// IndexedLinkAllocator is a grow-only arena of links, addressed by index.
// Pages are allocated on first use and published with a single CAS.
type IndexedLinkAllocator struct {
	next  atomic.Uint64
	_     cpu.CacheLinePad
	limit uint64
	pages [NumPages]atomic.Pointer[linkPage]
}

// NewIndexedLinkAllocator returns an allocator for the full MaxLinks range.
func NewIndexedLinkAllocator() *IndexedLinkAllocator {
	return newIndexedLinkAllocator(MaxLinks)
}

func newIndexedLinkAllocator(limit uint64) *IndexedLinkAllocator {
	if limit > MaxLinks {
		limit = MaxLinks
	}
	a := &IndexedLinkAllocator{limit: limit}
	// index 0 is null
	a.next.Store(1)
	return a
}

// Alloc reserves count contiguous, zero valued links and returns the first
// index. Running out of indices panics with a *FatalError.
func (a *IndexedLinkAllocator) Alloc(count uint32) uint32 {
	if count == 0 {
		count = 1
	}
	end := a.next.Add(uint64(count))
	first := end - uint64(count)
	if end > a.limit {
		fatal(`IndexedLinkAllocator.Alloc`, ErrLinksExhausted)
	}
	for page := first >> pageShift; page <= (end-1)>>pageShift; page++ {
		a.publish(page)
	}
	return uint32(first)
}

func (a *IndexedLinkAllocator) publish(page uint64) {
	slot := &a.pages[page]
	if slot.Load() != nil {
		return
	}
	// losing the race just drops the redundant page
	slot.CompareAndSwap(nil, new(linkPage))
}

// Item resolves an index. Index 0 and indices on unpublished pages panic
// with a *FatalError.
func (a *IndexedLinkAllocator) Item(index uint32) *Link {
	if index == 0 || uint64(index) >= a.limit {
		fatal(`IndexedLinkAllocator.Item`, ErrInvalidLink)
	}
	page := a.pages[index>>pageShift].Load()
	if page == nil {
		fatal(`IndexedLinkAllocator.Item`, ErrInvalidLink)
	}
	return &page[index&pageMask]
}

// Allocated returns the number of indices handed out so far.
func (a *IndexedLinkAllocator) Allocated() uint32 {
	n := a.next.Load() - 1
	if n > a.limit {
		n = a.limit
	}
	return uint32(n)
}
