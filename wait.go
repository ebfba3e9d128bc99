package taskgraph

import (
	"time"
)

func allComplete(events []*GraphEvent) bool {
	for _, e := range events {
		if e != nil && !e.IsComplete() {
			return false
		}
	}
	return true
}

// WaitUntilTasksComplete blocks until every event has completed. When
// current is a named thread that is not already processing tasks, it
// processes that thread's queue while waiting, so tasks targeting the
// caller's own thread cannot deadlock the wait. Otherwise, including when
// another goroutine is concurrently processing that thread, the calling
// goroutine sleeps on a pooled signal.
func (g *TaskGraph) WaitUntilTasksComplete(events []*GraphEvent, current ThreadTarget) {
	if allComplete(events) {
		return
	}

	if n := g.namedThread(current); n != nil {
		// wakes the thread once the events are done, the loop checks them,
		// and is a no-op for whoever processes the thread otherwise
		g.DispatchAndForget(n.target|HighTaskPriority, nil, events...)
		if n.tryProcessUntil(func() bool { return allComplete(events) }) {
			return
		}
	}

	s := g.signals.get()
	defer g.signals.put(s)
	g.create(AnyHighThreadHighTask, func(*TaskContext) { s.Trigger() }, events, current, createOptions{
		forget: true,
		inline: true,
	})
	g.waitSignal(s, len(events))
}

// Wait is WaitUntilTasksComplete from a thread outside the graph.
func (g *TaskGraph) Wait(events ...*GraphEvent) {
	g.WaitUntilTasksComplete(events, AnyThread)
}

func (g *TaskGraph) waitSignal(s *signal, events int) {
	if g.opts.hangWarning <= 0 {
		s.Wait()
		return
	}
	start := time.Now()
	for !s.WaitTimeout(g.opts.hangWarning) {
		if _, ok := g.hangLimiter.Allow(`wait`); ok {
			g.logger.Warning().
				Dur(`waited`, time.Since(start)).
				Int(`events`, events).
				Log(`still waiting for tasks to complete`)
		}
	}
}
