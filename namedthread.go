package taskgraph

import (
	"sync/atomic"

	"github.com/alphadose/taskgraph/lockfree"
)

// namedThread owns a private queue with a single consumer, worker 0. Only
// the goroutine currently processing the thread may pop from it.
type namedThread struct {
	graph      *TaskGraph
	queue      *lockfree.StallingQueue[task]
	wake       *signal
	name       string
	cpus       []int
	target     ThreadTarget
	external   bool
	processing atomic.Bool
	attached   atomic.Bool
	quit       atomic.Bool
}

func newNamedThread(g *TaskGraph, target ThreadTarget, cfg NamedThreadConfig) *namedThread {
	return &namedThread{
		graph:    g,
		queue:    lockfree.NewStallingQueue[task](g.links, numQueuePriorities),
		wake:     newSignal(),
		name:     cfg.Name,
		cpus:     cfg.CPUs,
		target:   target,
		external: cfg.External,
	}
}

func (n *namedThread) push(t *task, priority int) {
	if n.queue.Push(t, priority) >= 0 {
		n.wake.Trigger()
	}
}

// processUntil runs tasks, stalling when the queue is empty, until done
// reports true. done is checked after every task.
func (n *namedThread) processUntil(done func() bool) {
	prev := n.processing.Swap(true)
	defer n.processing.Store(prev)
	n.drainUntil(done)
}

// tryProcessUntil is processUntil for a thread that is not processing yet,
// returning false without popping if another caller already is.
func (n *namedThread) tryProcessUntil(done func() bool) bool {
	if !n.processing.CompareAndSwap(false, true) {
		return false
	}
	defer n.processing.Store(false)
	n.drainUntil(done)
	return true
}

func (n *namedThread) drainUntil(done func() bool) {
	for !done() {
		t := n.queue.Pop(0, true)
		if t == nil {
			n.wake.Wait()
			n.queue.Unstall(0)
			continue
		}
		n.graph.execute(t, n.target)
	}
}

func (n *namedThread) processUntilQuit() {
	n.quit.Store(false)
	n.processUntil(n.quit.Load)
	n.quit.Store(false)
}

// processUntilIdle runs tasks until the queue is empty or a return is
// requested, and never stalls.
func (n *namedThread) processUntilIdle() {
	prev := n.processing.Swap(true)
	defer n.processing.Store(prev)
	n.quit.Store(false)
	for !n.quit.Load() {
		t := n.queue.Pop(0, false)
		if t == nil {
			break
		}
		n.graph.execute(t, n.target)
	}
	n.quit.Store(false)
}

// run is the loop of scheduler owned named threads
func (n *namedThread) run() {
	defer n.graph.wg.Done()
	defer n.graph.lockThread(ThreadInfo{
		Name:   n.name,
		Kind:   ThreadKindNamed,
		Target: n.target,
		Worker: -1,
	}, n.cpus, 0)()
	n.processUntilQuit()
}
