package taskgraph

import (
	"context"
	"errors"
	"runtime/debug"
	"sync/atomic"

	"github.com/alphadose/taskgraph/lockfree"
)

// TaskFunc is the body of a task.
type TaskFunc func(tc *TaskContext)

type task struct {
	graph      *TaskGraph
	fn         TaskFunc
	ctx        context.Context
	completion *GraphEvent
	target     ThreadTarget
	// runs on the releasing thread instead of being queued
	inline bool
	// queued to a scheduler owned thread, tracked in TaskGraph.ready
	counted bool
	// prerequisites + setup lock + optional hold
	outstanding atomic.Int32
}

func resetTask(t *task) {
	t.graph = nil
	t.fn = nil
	t.ctx = nil
	t.completion = nil
	t.target = 0
	t.inline = false
	t.counted = false
	t.outstanding.Store(0)
}

type createOptions struct {
	ctx        context.Context
	completion *GraphEvent
	forget     bool
	hold       bool
	inline     bool
}

// create allocates a task and registers it with prereqs. The returned task
// may already have run unless opts.hold is set.
func (g *TaskGraph) create(target ThreadTarget, fn TaskFunc, prereqs []*GraphEvent, current ThreadTarget, opts createOptions) (*task, *GraphEvent) {
	g.checkTarget(target)
	t := g.tasks.Get()
	t.graph = g
	t.fn = fn
	t.ctx = opts.ctx
	t.target = target
	t.inline = opts.inline
	t.completion = opts.completion
	if t.completion == nil && !opts.forget {
		t.completion = g.newGraphEvent()
	}
	completion := t.completion
	t.setup(prereqs, current, opts.hold)
	return t, completion
}

func (t *task) setup(prereqs []*GraphEvent, current ThreadTarget, hold bool) {
	locks := int32(1)
	if hold {
		locks++
	}
	t.outstanding.Store(int32(len(prereqs)) + locks)
	done := int32(1)
	for _, p := range prereqs {
		if p == nil || !p.addSubsequent(t) {
			done++
		}
	}
	t.release(done, current)
}

// release drops n outstanding counts, scheduling the task on the last one.
func (t *task) release(n int32, current ThreadTarget) {
	switch v := t.outstanding.Add(-n); {
	case v > 0:
		return
	case v < 0:
		panic(&FatalError{Op: `task.release`, Err: errors.New(`outstanding count underflow`)})
	}
	if t.inline {
		t.graph.execute(t, current)
		return
	}
	t.graph.queueTask(t)
}

// execute runs t on the calling thread, recycles it, then completes its
// event. A cancelled context skips the body but still completes.
func (g *TaskGraph) execute(t *task, current ThreadTarget) {
	fn, ctx, completion, counted := t.fn, t.ctx, t.completion, t.counted
	g.tasks.Put(t)
	if fn != nil && (ctx == nil || ctx.Err() == nil) {
		g.run(fn, &TaskContext{
			ctx:        ctx,
			graph:      g,
			completion: completion,
			thread:     current,
		})
	}
	if completion != nil {
		completion.dispatchSubsequents(current)
	}
	if counted {
		g.readyDone()
	}
}

func (g *TaskGraph) run(fn TaskFunc, tc *TaskContext) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if f, ok := r.(*lockfree.FatalError); ok {
			panic(f)
		}
		err := PanicError{Value: r, Stack: debug.Stack()}
		g.logger.Err().
			Err(err).
			Str(`thread`, tc.thread.String()).
			Str(`stack`, string(err.Stack)).
			Log(`task panicked`)
		if g.opts.panicHandler != nil {
			g.opts.panicHandler(err)
		}
	}()
	fn(tc)
}

// TaskContext is passed to a running task body.
type TaskContext struct {
	ctx        context.Context
	graph      *TaskGraph
	completion *GraphEvent
	thread     ThreadTarget
}

// Context returns the context the task was dispatched with, or
// context.Background.
func (x *TaskContext) Context() context.Context {
	if x.ctx == nil {
		return context.Background()
	}
	return x.ctx
}

func (x *TaskContext) Graph() *TaskGraph { return x.graph }

// Thread is the thread executing the task: its named target, or AnyThread
// for anonymous workers.
func (x *TaskContext) Thread() ThreadTarget { return x.thread }

// Event returns the completion event of the running task, nil for tasks
// dispatched with DispatchAndForget.
func (x *TaskContext) Event() *GraphEvent { return x.completion }

// DontCompleteUntil holds the running task's completion event open until ev
// has also completed.
func (x *TaskContext) DontCompleteUntil(ev *GraphEvent) {
	if ev == nil || ev.IsComplete() {
		return
	}
	if x.completion == nil {
		x.graph.logger.Warning().
			Str(`thread`, x.thread.String()).
			Log(`DontCompleteUntil called from a task without a completion event`)
		return
	}
	x.completion.dontCompleteUntil(ev)
}

// Dispatch is TaskGraph.Dispatch with the current thread known.
func (x *TaskContext) Dispatch(target ThreadTarget, fn TaskFunc, prereqs ...*GraphEvent) *GraphEvent {
	_, ev := x.graph.create(target, fn, prereqs, x.thread, createOptions{ctx: x.ctx})
	return ev
}

// Wait is TaskGraph.WaitUntilTasksComplete with the current thread known.
func (x *TaskContext) Wait(events ...*GraphEvent) {
	x.graph.WaitUntilTasksComplete(events, x.thread)
}

// HeldTask is a task that will not run until Unlock, in addition to its
// prerequisites.
type HeldTask struct {
	task     *task
	event    *GraphEvent
	unlocked atomic.Bool
}

func (x *HeldTask) Event() *GraphEvent { return x.event }

// Unlock releases the hold. Subsequent calls do nothing.
func (x *HeldTask) Unlock() {
	if x.unlocked.CompareAndSwap(false, true) {
		x.task.release(1, AnyThread)
	}
}
