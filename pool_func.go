package taskgraph

import (
	"sync/atomic"
)

// PoolWithFunc dispatches invocations of a single function as tasks, each
// carrying one value.
type PoolWithFunc[T any] struct {
	graph    *TaskGraph
	task     func(T)
	inFlight atomic.Int64
	target   ThreadTarget
}

func NewPoolWithFunc[T any](g *TaskGraph, target ThreadTarget, task func(T)) *PoolWithFunc[T] {
	g.checkTarget(target)
	return &PoolWithFunc[T]{graph: g, task: task, target: target}
}

// Invoke runs the function with value once prereqs are complete.
func (p *PoolWithFunc[T]) Invoke(value T, prereqs ...*GraphEvent) *GraphEvent {
	p.inFlight.Add(1)
	return p.graph.Dispatch(p.target, func(*TaskContext) {
		defer p.inFlight.Add(-1)
		p.task(value)
	}, prereqs...)
}

// InvokeAll invokes every value, returning a single event joining them.
func (p *PoolWithFunc[T]) InvokeAll(values []T) *GraphEvent {
	events := make([]*GraphEvent, len(values))
	for i, v := range values {
		events[i] = p.Invoke(v)
	}
	return p.graph.Dispatch(AnyNormalThreadHighTask, nil, events...)
}

// Running is the number of invocations dispatched and not yet finished.
func (p *PoolWithFunc[T]) Running() int {
	return int(p.inFlight.Load())
}
