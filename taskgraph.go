package taskgraph

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alphadose/taskgraph/lockfree"
	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// TaskGraph is the scheduler. It is safe for concurrent use.
type TaskGraph struct {
	opts        *options
	logger      *logiface.Logger[logiface.Event]
	links       *lockfree.LinkPool
	tasks       *lockfree.ClassAllocator[task]
	signals     *signalPool
	registry    *ThreadRegistry
	hangLimiter *catrate.Limiter
	named       []*namedThread
	classes     [NumThreadPriorities]*workerClass
	wg          sync.WaitGroup
	fallback    sync.Once
	// signalled when ready drops to zero while draining
	idle        *signal
	// tasks queued to workers or owned named threads, not yet finished
	ready       atomic.Int64
	draining    atomic.Bool
	quitting    atomic.Bool
	closed      atomic.Bool
}

// New starts a TaskGraph. GameThread is always configured, as an external
// thread, at index 0.
func New(opts ...Option) (*TaskGraph, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	g := &TaskGraph{
		opts:     cfg,
		logger:   cfg.logger,
		links:    cfg.links,
		registry: newThreadRegistry(),
		idle:     newSignal(),
		hangLimiter: catrate.NewLimiter(map[time.Duration]int{
			time.Minute: 6,
		}),
	}
	g.tasks = lockfree.NewClassAllocator[task](g.links, resetTask)
	g.signals = newSignalPool(g.links)

	g.named = append(g.named, newNamedThread(g, GameThread, NamedThreadConfig{
		Name:     `game`,
		CPUs:     cfg.gameCPUs,
		External: true,
	}))
	owned := 0
	for i, nc := range cfg.named {
		g.named = append(g.named, newNamedThread(g, NamedThread(i+1), nc))
		if !nc.External {
			owned++
		}
	}

	workers := cfg.workers
	if workers == 0 {
		workers = runtime.NumCPU() - len(g.named)
		if workers > lockfree.MaxStallingWorkers {
			g.logger.Warning().
				Int(`workers`, workers).
				Int(`max`, lockfree.MaxStallingWorkers).
				Log(`clamping default worker count`)
			workers = lockfree.MaxStallingWorkers
		}
		workers = max(workers, 1)
	}

	g.classes[normalClass] = newWorkerClass(g, normalClass, workers)
	if cfg.highPriority {
		g.classes[highClass] = newWorkerClass(g, highClass, workers)
	}
	if cfg.background {
		g.classes[backgroundClass] = newWorkerClass(g, backgroundClass, workers)
	}

	for _, c := range g.classes {
		if c == nil {
			continue
		}
		for _, w := range c.workers {
			g.wg.Add(1)
			go w.run()
		}
	}
	for _, n := range g.named {
		if !n.external {
			g.wg.Add(1)
			go n.run()
		}
	}

	g.logger.Info().
		Int(`workers`, workers).
		Bool(`high_priority`, cfg.highPriority).
		Bool(`background`, cfg.background).
		Int(`named_threads`, len(g.named)).
		Int(`owned_named_threads`, owned).
		Log(`task graph started`)

	return g, nil
}

// lockThread binds the calling goroutine to its OS thread, applies cpus and
// nice, and registers it. The returned func undoes all of it.
func (g *TaskGraph) lockThread(info ThreadInfo, cpus []int, nice int) func() {
	runtime.LockOSThread()
	info.OSThreadID = osThreadID()
	if len(cpus) != 0 {
		if err := setAffinity(cpus); err != nil {
			g.logger.Debug().
				Err(err).
				Str(`thread`, info.Name).
				Log(`failed to set thread affinity`)
		}
	}
	if nice != 0 {
		if err := setNice(nice); err != nil {
			g.logger.Debug().
				Err(err).
				Str(`thread`, info.Name).
				Int(`nice`, nice).
				Log(`failed to set thread priority`)
		}
	}
	id := g.registry.add(info)
	return func() {
		g.registry.remove(id)
		runtime.UnlockOSThread()
	}
}

func (g *TaskGraph) checkTarget(target ThreadTarget) {
	if !target.IsAnyThread() && target.ThreadIndex() >= len(g.named) {
		panic(fmt.Errorf(`taskgraph: dispatch to %v: %w`, target, ErrUnknownThread))
	}
}

func (g *TaskGraph) namedThread(target ThreadTarget) *namedThread {
	if i := target.ThreadIndex(); i >= 0 && i < len(g.named) {
		return g.named[i]
	}
	return nil
}

// queueTask routes a task whose prerequisites are all complete.
func (g *TaskGraph) queueTask(t *task) {
	priority := t.target.queuePriority()
	if n := g.namedThread(t.target); n != nil {
		if !n.external {
			t.counted = true
			g.ready.Add(1)
		}
		n.push(t, priority)
		return
	}
	t.counted = true
	g.ready.Add(1)
	c := g.classes[t.target.class()]
	if c == nil {
		g.fallback.Do(func() {
			g.logger.Debug().
				Str(`target`, t.target.String()).
				Log(`worker class disabled, using normal workers with high task priority`)
		})
		c, priority = g.classes[normalClass], highQueue
	}
	c.push(t, priority)
}

// Dispatch creates a task that runs fn on target once every prerequisite
// has completed, returning its completion event. A nil fn creates a null
// task, useful to join several events into one.
func (g *TaskGraph) Dispatch(target ThreadTarget, fn TaskFunc, prereqs ...*GraphEvent) *GraphEvent {
	_, ev := g.create(target, fn, prereqs, AnyThread, createOptions{})
	return ev
}

// DispatchContext is Dispatch with a context. The body is skipped if ctx is
// done by the time the task runs; the event still completes.
func (g *TaskGraph) DispatchContext(ctx context.Context, target ThreadTarget, fn TaskFunc, prereqs ...*GraphEvent) *GraphEvent {
	_, ev := g.create(target, fn, prereqs, AnyThread, createOptions{ctx: ctx})
	return ev
}

// DispatchAndForget dispatches a task without a completion event.
func (g *TaskGraph) DispatchAndForget(target ThreadTarget, fn TaskFunc, prereqs ...*GraphEvent) {
	g.create(target, fn, prereqs, AnyThread, createOptions{forget: true})
}

// Submit runs task on the normal worker class.
func (g *TaskGraph) Submit(task func()) {
	g.DispatchAndForget(AnyThread, func(*TaskContext) { task() })
}

// CreateHeldTask dispatches a task that additionally waits for Unlock.
func (g *TaskGraph) CreateHeldTask(target ThreadTarget, fn TaskFunc, prereqs ...*GraphEvent) *HeldTask {
	t, ev := g.create(target, fn, prereqs, AnyThread, createOptions{hold: true})
	return &HeldTask{task: t, event: ev}
}

// RequestReturn asks a named thread to return from
// ProcessThreadUntilRequestReturn, once the tasks queued before the request
// have run.
func (g *TaskGraph) RequestReturn(target ThreadTarget) {
	n := g.namedThread(target)
	if n == nil {
		panic(fmt.Errorf(`taskgraph: request return for %v: %w`, target, ErrUnknownThread))
	}
	g.DispatchAndForget(n.target, func(*TaskContext) { n.quit.Store(true) })
}

// ProcessThreadUntilRequestReturn drives an external named thread until
// RequestReturn is processed on it.
func (g *TaskGraph) ProcessThreadUntilRequestReturn(target ThreadTarget) {
	g.mustNamed(target).processUntilQuit()
}

// ProcessThreadUntilIdle runs the tasks queued on an external named thread
// until its queue is empty.
func (g *TaskGraph) ProcessThreadUntilIdle(target ThreadTarget) {
	g.mustNamed(target).processUntilIdle()
}

func (g *TaskGraph) mustNamed(target ThreadTarget) *namedThread {
	n := g.namedThread(target)
	if n == nil {
		panic(fmt.Errorf(`taskgraph: process %v: %w`, target, ErrUnknownThread))
	}
	return n
}

// IsThreadProcessingTasks reports whether the named thread is currently
// inside one of the Process methods, or a blocking wait draining its queue.
func (g *TaskGraph) IsThreadProcessingTasks(target ThreadTarget) bool {
	if n := g.namedThread(target); n != nil {
		return n.processing.Load()
	}
	return false
}

// AttachToThread binds the calling goroutine to its OS thread as the given
// external named thread. The returned func detaches it.
func (g *TaskGraph) AttachToThread(target ThreadTarget) (func(), error) {
	n := g.namedThread(target)
	if n == nil {
		return nil, fmt.Errorf(`taskgraph: attach %v: %w`, target, ErrUnknownThread)
	}
	if !n.external {
		return nil, fmt.Errorf(`taskgraph: attach %v: %w`, target, ErrNotExternalThread)
	}
	if !n.attached.CompareAndSwap(false, true) {
		return nil, fmt.Errorf(`taskgraph: attach %v: %w`, target, ErrAlreadyAttached)
	}
	release := g.lockThread(ThreadInfo{
		Name:   n.name,
		Kind:   ThreadKindNamed,
		Target: n.target,
		Worker: -1,
	}, n.cpus, 0)
	var once sync.Once
	return func() {
		once.Do(func() {
			release()
			n.attached.Store(false)
		})
	}, nil
}

// NumWorkerThreads is the number of workers in each worker class.
func (g *TaskGraph) NumWorkerThreads() int {
	return len(g.classes[normalClass].workers)
}

// NumNamedThreads includes GameThread.
func (g *TaskGraph) NumNamedThreads() int {
	return len(g.named)
}

// NamedThreadByName returns the target of the named thread, if configured.
func (g *TaskGraph) NamedThreadByName(name string) (ThreadTarget, bool) {
	for _, n := range g.named {
		if n.name == name {
			return n.target, true
		}
	}
	return 0, false
}

// Threads lists the scheduler owned threads, plus attached named threads.
func (g *TaskGraph) Threads() []ThreadInfo {
	return g.registry.Snapshot()
}

// SetIgnoredWorkers stops the last n workers of every class taking tasks,
// for profiling with fewer cores. At least one worker per class stays
// active.
func (g *TaskGraph) SetIgnoredWorkers(n int) {
	for _, c := range g.classes {
		if c != nil {
			c.setIgnored(n)
		}
	}
}

// readyDone is called once a counted task and its subsequent dispatch have
// finished. Subsequents it released are counted before this runs.
func (g *TaskGraph) readyDone() {
	if g.ready.Add(-1) == 0 && g.draining.Load() {
		g.idle.Trigger()
	}
}

// Shutdown waits until no task is queued to, or running on, a thread the
// graph started, including tasks released while waiting, then stops those
// threads and blocks until they have exited. Tasks waiting on prerequisites
// that never complete, or queued to external named threads, are not waited
// for. It must not be called from a task. Dispatching after Shutdown is
// unsupported.
func (g *TaskGraph) Shutdown() {
	if !g.closed.CompareAndSwap(false, true) {
		return
	}
	g.draining.Store(true)
	for g.ready.Load() != 0 {
		g.waitSignal(g.idle, 0)
	}
	for _, n := range g.named {
		if !n.external {
			g.RequestReturn(n.target)
		}
	}
	g.quitting.Store(true)
	for _, c := range g.classes {
		if c != nil {
			c.wakeAll()
		}
	}
	g.wg.Wait()
	g.logger.Info().Log(`task graph stopped`)
}
