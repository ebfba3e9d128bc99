package taskgraph

import (
	"sync/atomic"

	"github.com/alphadose/taskgraph/lockfree"
)

// EventState is the lifecycle of a GraphEvent. It only moves forward.
type EventState uint32

const (
	EventIncomplete EventState = iota
	// EventAwaitingNested means the owning task finished, but events it
	// attached with DontCompleteUntil have not.
	EventAwaitingNested
	// EventDispatching means the subsequent list is closed and the
	// subsequents are being released.
	EventDispatching
	EventComplete
)

func (s EventState) String() string {
	switch s {
	case EventIncomplete:
		return `incomplete`
	case EventAwaitingNested:
		return `awaiting-nested`
	case EventDispatching:
		return `dispatching`
	case EventComplete:
		return `complete`
	default:
		return `unknown`
	}
}

// GraphEvent is the completion of a task, or a manually fired event created
// with NewEvent. Tasks that list it as a prerequisite register on it, and
// are released when it completes.
type GraphEvent struct {
	graph       *TaskGraph
	subsequents *lockfree.ClosableStack[task]
	// written only by the owning task while it runs
	nested []*GraphEvent
	state  atomic.Uint32
}

func (g *TaskGraph) newGraphEvent() *GraphEvent {
	return &GraphEvent{
		graph:       g,
		subsequents: lockfree.NewClosableStack[task](g.links),
	}
}

// NewEvent returns an event with no owning task. It completes when
// DispatchSubsequents is called.
func (g *TaskGraph) NewEvent() *GraphEvent {
	return g.newGraphEvent()
}

// IsComplete reports whether the subsequent list has been closed. Once
// true, tasks listing this event as a prerequisite do not wait on it.
func (e *GraphEvent) IsComplete() bool {
	return e.subsequents.IsClosed()
}

func (e *GraphEvent) State() EventState {
	return EventState(e.state.Load())
}

// Wait blocks until the event is complete.
func (e *GraphEvent) Wait() {
	e.graph.WaitUntilTasksComplete([]*GraphEvent{e}, AnyThread)
}

// DispatchSubsequents completes a manual event, releasing every task that
// registered on it. It must be called exactly once, and never on an event
// owned by a task.
func (e *GraphEvent) DispatchSubsequents(current ThreadTarget) {
	e.dispatchSubsequents(current)
}

// addSubsequent registers t, returning false if the event already completed.
func (e *GraphEvent) addSubsequent(t *task) bool {
	return e.subsequents.PushIfNotClosed(t)
}

func (e *GraphEvent) dontCompleteUntil(other *GraphEvent) {
	e.nested = append(e.nested, other)
}

func (e *GraphEvent) takeNested() []*GraphEvent {
	nested := e.nested
	e.nested = nil
	pending := nested[:0]
	for _, n := range nested {
		if !n.IsComplete() {
			pending = append(pending, n)
		}
	}
	return pending
}

func (e *GraphEvent) dispatchSubsequents(current ThreadTarget) {
	if nested := e.takeNested(); len(nested) != 0 {
		// gather task re-enters here with the same event once nested are done
		e.state.Store(uint32(EventAwaitingNested))
		e.graph.create(AnyHighThreadHighTask, nil, nested, current, createOptions{completion: e})
		return
	}
	e.state.Store(uint32(EventDispatching))
	subsequents := e.subsequents.PopAllAndClose()
	// popped newest first, release in registration order
	for i := len(subsequents) - 1; i >= 0; i-- {
		subsequents[i].release(1, current)
	}
	e.state.Store(uint32(EventComplete))
}
