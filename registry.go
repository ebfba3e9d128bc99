package taskgraph

import (
	"slices"
	"sync"
)

type ThreadKind int

const (
	ThreadKindWorker ThreadKind = iota
	ThreadKindNamed
)

func (k ThreadKind) String() string {
	if k == ThreadKindNamed {
		return `named`
	}
	return `worker`
}

// ThreadInfo describes a running scheduler thread.
type ThreadInfo struct {
	Name   string
	Kind   ThreadKind
	Target ThreadTarget
	// OSThreadID is the kernel thread id, 0 where unsupported.
	OSThreadID int
	// Worker is the index within the worker class, -1 for named threads.
	Worker int
	ID     uint64
}

// ThreadRegistry tracks the OS threads owned by or attached to a TaskGraph.
type ThreadRegistry struct {
	threads map[uint64]ThreadInfo
	mu      sync.Mutex
	next    uint64
}

func newThreadRegistry() *ThreadRegistry {
	return &ThreadRegistry{threads: make(map[uint64]ThreadInfo)}
}

func (r *ThreadRegistry) add(info ThreadInfo) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	info.ID = r.next
	r.threads[info.ID] = info
	return info.ID
}

func (r *ThreadRegistry) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.threads, id)
}

// Snapshot returns the registered threads ordered by registration.
func (r *ThreadRegistry) Snapshot() []ThreadInfo {
	r.mu.Lock()
	threads := make([]ThreadInfo, 0, len(r.threads))
	for _, info := range r.threads {
		threads = append(threads, info)
	}
	r.mu.Unlock()
	slices.SortFunc(threads, func(a, b ThreadInfo) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return threads
}

func (r *ThreadRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.threads)
}
