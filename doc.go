// Package taskgraph is a priority aware task graph scheduler.
//
// Tasks are small functions dispatched to either a named thread (e.g. the
// game thread, which drives its own queue) or to the pool of anonymous worker
// threads at one of three thread priorities. A task may list prerequisite
// GraphEvents, and does not run until all of them have completed. Every task
// with a completion event fans out to the tasks that registered on it, so
// arbitrary dependency graphs can be built without locks on the dispatch
// path.
//
// Workers that find no work stall on a pooled event, recorded in a shared
// stall mask, and each push wakes at most one of them directly.
//
// Usage:
//
//	g, err := taskgraph.New()
//	if err != nil {
//		panic(err)
//	}
//	defer g.Shutdown()
//	a := g.Dispatch(taskgraph.AnyThread, func(*taskgraph.TaskContext) { /* ... */ })
//	b := g.Dispatch(taskgraph.AnyThread, func(*taskgraph.TaskContext) { /* ... */ })
//	c := g.Dispatch(taskgraph.AnyThread, func(*taskgraph.TaskContext) { /* sees a and b */ }, a, b)
//	g.Wait(c)
package taskgraph
