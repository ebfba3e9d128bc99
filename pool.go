package taskgraph

import (
	"runtime"
	"sync/atomic"

	"github.com/alphadose/taskgraph/lockfree"
)

// per class nice values, applied where the platform allows
var classNice = [NumThreadPriorities]int{
	normalClass:     0,
	highClass:       -5,
	backgroundClass: 10,
}

var classNames = [NumThreadPriorities]string{
	normalClass:     `worker`,
	highClass:       `worker-high`,
	backgroundClass: `worker-background`,
}

// workerClass is the pool of anonymous workers for one thread priority. All
// of them consume the same stalling queue, high task priority first.
type workerClass struct {
	graph   *TaskGraph
	queue   *lockfree.StallingQueue[task]
	workers []*worker
	// the last ignored workers do not take tasks
	ignored atomic.Int32
	index   int
}

func newWorkerClass(g *TaskGraph, index, n int) *workerClass {
	c := &workerClass{
		graph:   g,
		queue:   lockfree.NewStallingQueue[task](g.links, numQueuePriorities),
		workers: make([]*worker, n),
		index:   index,
	}
	for i := range c.workers {
		c.workers[i] = &worker{class: c, id: i, wake: newSignal()}
	}
	return c
}

// push enqueues t, handing the wake to a stalled worker if there is one.
func (c *workerClass) push(t *task, priority int) {
	if w := c.queue.Push(t, priority); w >= 0 {
		c.workers[w].wake.Trigger()
	}
}

func (c *workerClass) wakeAll() {
	for _, w := range c.workers {
		w.wake.Trigger()
	}
}

func (c *workerClass) setIgnored(n int) {
	n = max(0, min(n, len(c.workers)-1))
	c.ignored.Store(int32(n))
	c.wakeAll()
}

type worker struct {
	class *workerClass
	wake  *signal
	id    int
}

func (w *worker) ignored() bool {
	return w.id >= len(w.class.workers)-int(w.class.ignored.Load())
}

// run is the loop of every worker thread
func (w *worker) run() {
	g := w.class.graph
	defer g.wg.Done()

	var cpus []int
	if g.opts.pinWorkers {
		cpus = []int{(w.class.index*len(w.class.workers) + w.id) % runtime.NumCPU()}
	}
	defer g.lockThread(ThreadInfo{
		Name:   classNames[w.class.index],
		Kind:   ThreadKindWorker,
		Target: AnyThread.WithThreadPriority(ThreadTarget(w.class.index) << threadPriorityShift),
		Worker: w.id,
	}, cpus, classNice[w.class.index])()

	q := w.class.queue
	for {
		quitting := g.quitting.Load()
		if !quitting && w.ignored() {
			w.wake.Wait()
			continue
		}
		if t := q.Pop(w.id, !quitting); t != nil {
			g.execute(t, AnyThread)
			continue
		}
		if quitting {
			return
		}
		w.wake.Wait()
		if !q.Unstall(w.id) && w.ignored() {
			w.forward()
		}
	}
}

// forward passes on a wake a producer handed to this worker after it was
// ignored, running one task itself if nobody else is stalled.
func (w *worker) forward() {
	c := w.class
	if other := c.queue.WakeOne(); other >= 0 {
		c.workers[other].wake.Trigger()
		return
	}
	if t := c.queue.Pop(w.id, false); t != nil {
		c.graph.execute(t, AnyThread)
	}
}
