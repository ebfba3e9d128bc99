// Package lockfree implements the index based lock-free primitives the task
// graph is built on.
//
// Every list threads fixed-size Link nodes addressed by 32-bit indices handed
// out by an IndexedLinkAllocator. Indices are never returned to the OS, only
// recycled through a LinkPool, so a stale index always resolves to valid
// memory. List roots are TaggedPointer words: the index plus a counter that is
// advanced on every successful mutation, which makes every CAS ABA safe.
//
// Index 0 is reserved as the null link.
package lockfree
