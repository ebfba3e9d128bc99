package taskgraph

import (
	"bytes"
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var anyTargets = [...]ThreadTarget{
	AnyNormalThreadNormalTask,
	AnyNormalThreadHighTask,
	AnyHighThreadNormalTask,
	AnyHighThreadHighTask,
	AnyBackgroundThreadNormalTask,
	AnyBackgroundThreadHighTask,
}

func newTestGraph(t *testing.T, opts ...Option) *TaskGraph {
	t.Helper()
	g, err := New(append([]Option{WithLogger(nil), WithWorkers(4)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(g.Shutdown)
	return g
}

func TestNew_defaults(t *testing.T) {
	g := newTestGraph(t)
	require.Equal(t, 4, g.NumWorkerThreads())
	require.Equal(t, 1, g.NumNamedThreads())
	require.Eventually(t, func() bool { return len(g.Threads()) == 12 }, 5*time.Second, time.Millisecond,
		`three worker classes of four`)
	target, ok := g.NamedThreadByName(`game`)
	require.True(t, ok)
	require.Equal(t, GameThread, target)
}

func TestNew_invalidOptions(t *testing.T) {
	for _, tc := range [...]struct {
		name   string
		opt    Option
		target error
	}{
		{`negative workers`, WithWorkers(-1), ErrInvalidOption},
		{`too many workers`, WithWorkers(33), ErrInvalidOption},
		{`negative hang warning`, WithHangWarning(-time.Second), ErrInvalidOption},
		{`unnamed thread`, WithNamedThread(NamedThreadConfig{}), ErrInvalidOption},
	} {
		t.Run(tc.name, func(t *testing.T) {
			g, err := New(tc.opt)
			require.ErrorIs(t, err, tc.target)
			require.Nil(t, g)
		})
	}

	opts := []Option{WithLogger(nil)}
	for i := 0; i < MaxNamedThreads; i++ {
		opts = append(opts, WithNamedThread(NamedThreadConfig{Name: `t`, External: true}))
	}
	_, err := New(opts...)
	require.ErrorIs(t, err, ErrTooManyNamedThreads)
}

func TestTaskGraph_Dispatch(t *testing.T) {
	g := newTestGraph(t)
	var ran atomic.Bool
	var thread atomic.Uint32
	ev := g.Dispatch(AnyThread, func(tc *TaskContext) {
		thread.Store(uint32(tc.Thread()))
		ran.Store(true)
	})
	g.Wait(ev)
	require.True(t, ran.Load())
	require.True(t, ev.IsComplete())
	require.Equal(t, EventComplete, ev.State())
	require.Equal(t, AnyThread, ThreadTarget(thread.Load()))

	// already complete prerequisites do not delay
	next := g.Dispatch(AnyThread, nil, ev, nil)
	g.Wait(next)
	require.True(t, next.IsComplete())
}

func TestTaskGraph_diamond(t *testing.T) {
	g := newTestGraph(t)
	sleep := func() {
		if d := rand.IntN(50); d < 10 {
			time.Sleep(time.Duration(d) * time.Microsecond)
		}
	}
	for i := 0; i < 1000; i++ {
		var seq atomic.Int32
		var a, b, c, d atomic.Int32
		evA := g.Dispatch(AnyThread, func(*TaskContext) { sleep(); a.Store(seq.Add(1)) })
		evB := g.Dispatch(AnyThread, func(*TaskContext) { sleep(); b.Store(seq.Add(1)) }, evA)
		evC := g.Dispatch(AnyThread, func(*TaskContext) { sleep(); c.Store(seq.Add(1)) }, evA)
		evD := g.Dispatch(AnyThread, func(*TaskContext) { d.Store(seq.Add(1)) }, evB, evC)
		g.Wait(evD)
		require.EqualValues(t, 1, a.Load())
		require.Greater(t, b.Load(), a.Load())
		require.Greater(t, c.Load(), a.Load())
		require.EqualValues(t, 4, d.Load())
	}
}

func TestTaskGraph_manyLeaves(t *testing.T) {
	g := newTestGraph(t, WithWorkers(8))
	const leaves = 10000
	var count atomic.Int64
	root := g.NewEvent()
	events := make([]*GraphEvent, leaves)
	for i := range events {
		target := anyTargets[rand.IntN(len(anyTargets))]
		events[i] = g.Dispatch(target, func(*TaskContext) { count.Add(1) }, root)
	}
	var joined atomic.Int64
	join := g.Dispatch(AnyThread, func(*TaskContext) { joined.Store(count.Load()) }, events...)
	require.Zero(t, count.Load())
	root.DispatchSubsequents(AnyThread)
	g.Wait(join)
	require.EqualValues(t, leaves, joined.Load())
}

func TestTaskGraph_priorities(t *testing.T) {
	g := newTestGraph(t)
	targets := anyTargets[:]
	var count atomic.Int32
	var events []*GraphEvent
	for _, target := range targets {
		for i := 0; i < 50; i++ {
			events = append(events, g.Dispatch(target, func(*TaskContext) { count.Add(1) }))
		}
	}
	g.Wait(events...)
	require.EqualValues(t, len(targets)*50, count.Load())
}

func TestTaskGraph_classFallback(t *testing.T) {
	g := newTestGraph(t, WithHighPriorityThreads(false), WithBackgroundThreads(false))
	require.Eventually(t, func() bool { return len(g.Threads()) == 4 }, 5*time.Second, time.Millisecond)
	var count atomic.Int32
	var events []*GraphEvent
	for i := 0; i < 100; i++ {
		events = append(events,
			g.Dispatch(AnyHighThreadNormalTask, func(*TaskContext) { count.Add(1) }),
			g.Dispatch(AnyBackgroundThreadNormalTask, func(*TaskContext) { count.Add(1) }),
		)
	}
	g.Wait(events...)
	require.EqualValues(t, 200, count.Load())
}

func TestTaskGraph_classFallback_highTaskPriority(t *testing.T) {
	g := newTestGraph(t, WithWorkers(1), WithHighPriorityThreads(false), WithBackgroundThreads(false))

	started, unblock := make(chan struct{}), make(chan struct{})
	gate := g.Dispatch(AnyNormalThreadNormalTask, func(*TaskContext) {
		close(started)
		<-unblock
	})
	<-started

	var mu sync.Mutex
	var order, threads []ThreadTarget
	record := func(target ThreadTarget) TaskFunc {
		return func(tc *TaskContext) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, target)
			threads = append(threads, tc.Thread())
		}
	}
	const n = 20
	events := []*GraphEvent{gate}
	for i := 0; i < n; i++ {
		events = append(events, g.Dispatch(AnyNormalThreadNormalTask, record(AnyNormalThreadNormalTask)))
	}
	for i := 0; i < n; i++ {
		events = append(events, g.Dispatch(AnyBackgroundThreadNormalTask, record(AnyBackgroundThreadNormalTask)))
	}
	close(unblock)
	g.Wait(events...)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 2*n)
	for i, target := range order {
		if i < n {
			require.Equal(t, AnyBackgroundThreadNormalTask, target, `fallback tasks jump the normal queue`)
		} else {
			require.Equal(t, AnyNormalThreadNormalTask, target)
		}
		require.Equal(t, AnyThread, threads[i])
	}
	infos := g.Threads()
	require.Len(t, infos, 1)
	require.Equal(t, NormalThreadPriority, infos[0].Target.ThreadPriority())
}

func TestTaskGraph_manualEventCloseRace(t *testing.T) {
	g := newTestGraph(t)
	const producers, perProducer = 8, 25
	for round := 0; round < 200; round++ {
		ev := g.NewEvent()
		var ran atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		deps := make([][]*GraphEvent, producers)
		for p := range deps {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for i := 0; i < perProducer; i++ {
					deps[p] = append(deps[p], g.Dispatch(AnyThread, func(*TaskContext) { ran.Add(1) }, ev))
				}
			}()
		}
		close(start)
		ev.DispatchSubsequents(AnyThread)
		wg.Wait()
		for _, d := range deps {
			g.Wait(d...)
		}
		require.EqualValues(t, producers*perProducer, ran.Load())
		require.Equal(t, EventComplete, ev.State())
	}
}

func TestTaskContext_DontCompleteUntil(t *testing.T) {
	g := newTestGraph(t)
	held := g.CreateHeldTask(AnyThread, nil)
	var heldDoneFirst atomic.Bool
	parent := g.Dispatch(AnyThread, func(tc *TaskContext) {
		inner := tc.Dispatch(AnyThread, nil)
		tc.DontCompleteUntil(inner)
		tc.DontCompleteUntil(held.Event())
		tc.DontCompleteUntil(nil)
	})
	after := g.Dispatch(AnyThread, func(*TaskContext) {
		heldDoneFirst.Store(held.Event().IsComplete())
	}, parent)

	require.Eventually(t, func() bool { return parent.State() == EventAwaitingNested }, 5*time.Second, time.Millisecond)
	require.False(t, parent.IsComplete())
	require.False(t, after.IsComplete())

	held.Unlock()
	g.Wait(after)
	require.True(t, parent.IsComplete())
	require.True(t, heldDoneFirst.Load())
}

func TestTaskContext_DontCompleteUntil_forgotten(t *testing.T) {
	g := newTestGraph(t)
	held := g.CreateHeldTask(AnyThread, nil)
	defer held.Unlock()
	done := make(chan struct{})
	g.DispatchAndForget(AnyThread, func(tc *TaskContext) {
		defer close(done)
		assert.Nil(t, tc.Event())
		tc.DontCompleteUntil(held.Event())
	})
	<-done
}

func TestHeldTask(t *testing.T) {
	g := newTestGraph(t)
	prereq := g.NewEvent()
	var ran atomic.Int32
	held := g.CreateHeldTask(AnyThread, func(*TaskContext) { ran.Add(1) }, prereq)

	held.Unlock()
	time.Sleep(10 * time.Millisecond)
	require.Zero(t, ran.Load(), `prerequisite still pending`)

	prereq.DispatchSubsequents(AnyThread)
	held.Event().Wait()
	held.Unlock()
	require.EqualValues(t, 1, ran.Load())

	other := g.CreateHeldTask(AnyThread, func(*TaskContext) { ran.Add(1) })
	time.Sleep(10 * time.Millisecond)
	require.False(t, other.Event().IsComplete())
	other.Unlock()
	other.Event().Wait()
	require.EqualValues(t, 2, ran.Load())
}

func TestTaskGraph_DispatchContext(t *testing.T) {
	g := newTestGraph(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var ran atomic.Bool
	ev := g.DispatchContext(ctx, AnyThread, func(*TaskContext) { ran.Store(true) })
	g.Wait(ev)
	require.False(t, ran.Load())
	require.True(t, ev.IsComplete())

	type key struct{}
	ctx = context.WithValue(context.Background(), key{}, `v`)
	var value atomic.Value
	ev = g.DispatchContext(ctx, AnyThread, func(tc *TaskContext) {
		// children inherit the context
		tc.Wait(tc.Dispatch(AnyThread, func(tc *TaskContext) {
			value.Store(tc.Context().Value(key{}))
		}))
	})
	g.Wait(ev)
	require.Equal(t, `v`, value.Load())
}

func TestTaskGraph_panicRecovery(t *testing.T) {
	var mu sync.Mutex
	var recovered []PanicError
	sentinel := errors.New(`sentinel`)
	g := newTestGraph(t, WithPanicHandler(func(err PanicError) {
		mu.Lock()
		defer mu.Unlock()
		recovered = append(recovered, err)
	}))

	var ran atomic.Bool
	a := g.Dispatch(AnyThread, func(*TaskContext) { panic(`boom`) })
	b := g.Dispatch(AnyThread, func(*TaskContext) { panic(sentinel) })
	c := g.Dispatch(AnyThread, func(*TaskContext) { ran.Store(true) }, a, b)
	g.Wait(c)
	require.True(t, ran.Load())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, recovered, 2)
	values := []any{recovered[0].Value, recovered[1].Value}
	require.ElementsMatch(t, []any{`boom`, sentinel}, values)
	for _, err := range recovered {
		require.NotEmpty(t, err.Stack)
		if err.Value == sentinel {
			require.ErrorIs(t, err, sentinel)
		}
	}
}

func TestTaskGraph_fatalNotRecovered(t *testing.T) {
	g := newTestGraph(t)
	fatal := &FatalError{Op: `test`, Err: errors.New(`fatal`)}
	require.PanicsWithValue(t, fatal, func() {
		g.run(func(*TaskContext) { panic(fatal) }, &TaskContext{graph: g})
	})
}

func TestTaskGraph_unknownThread(t *testing.T) {
	g := newTestGraph(t)
	require.Panics(t, func() { g.Dispatch(NamedThread(3), nil) })
	require.Panics(t, func() { g.RequestReturn(NamedThread(1)) })
	require.Panics(t, func() { g.ProcessThreadUntilIdle(NamedThread(2)) })
	require.Panics(t, func() { NewPoolWithFunc(g, NamedThread(1), func(int) {}) })
	require.False(t, g.IsThreadProcessingTasks(NamedThread(5)))
	require.False(t, g.IsThreadProcessingTasks(AnyThread))
}

func TestTaskGraph_gameThreadWait(t *testing.T) {
	g := newTestGraph(t)
	var onGame, processing atomic.Int32
	var events []*GraphEvent
	for i := 0; i < 100; i++ {
		a := g.Dispatch(AnyThread, nil)
		events = append(events, g.Dispatch(GameThread, func(tc *TaskContext) {
			if tc.Thread() == GameThread {
				onGame.Add(1)
			}
			if tc.Graph().IsThreadProcessingTasks(GameThread) {
				processing.Add(1)
			}
		}, a))
	}
	require.False(t, g.IsThreadProcessingTasks(GameThread))
	g.WaitUntilTasksComplete(events, GameThread)
	require.False(t, g.IsThreadProcessingTasks(GameThread))
	require.EqualValues(t, 100, onGame.Load())
	require.EqualValues(t, 100, processing.Load())
}

func TestTaskGraph_waitFromGameTask(t *testing.T) {
	g := newTestGraph(t)
	var sum atomic.Int32
	outer := g.Dispatch(GameThread, func(tc *TaskContext) {
		// blocks the game thread, the children run on workers
		var children []*GraphEvent
		for i := 0; i < 10; i++ {
			children = append(children, tc.Dispatch(AnyThread, func(*TaskContext) { sum.Add(1) }))
		}
		tc.Wait(children...)
		sum.Add(100)
	})
	g.WaitUntilTasksComplete([]*GraphEvent{outer}, GameThread)
	require.EqualValues(t, 110, sum.Load())
}

func TestTaskGraph_ProcessThreadUntilRequestReturn(t *testing.T) {
	g := newTestGraph(t)
	var count atomic.Int32
	for i := 0; i < 50; i++ {
		g.DispatchAndForget(GameThread, func(*TaskContext) { count.Add(1) })
	}
	g.RequestReturn(GameThread)

	done := make(chan struct{})
	go func() {
		defer close(done)
		release, err := g.AttachToThread(GameThread)
		if !assert.NoError(t, err) {
			return
		}
		defer release()
		g.ProcessThreadUntilRequestReturn(GameThread)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal(`game thread did not return`)
	}
	require.EqualValues(t, 50, count.Load())
	require.False(t, g.IsThreadProcessingTasks(GameThread))
}

func TestTaskGraph_ProcessThreadUntilIdle(t *testing.T) {
	g := newTestGraph(t)
	var count atomic.Int32
	for i := 0; i < 10; i++ {
		g.DispatchAndForget(GameThread|HighTaskPriority, func(*TaskContext) { count.Add(1) })
	}
	g.ProcessThreadUntilIdle(GameThread)
	require.EqualValues(t, 10, count.Load())
	// empty queue returns immediately
	g.ProcessThreadUntilIdle(GameThread)
}

func TestTaskGraph_AttachToThread(t *testing.T) {
	g := newTestGraph(t, WithNamedThread(NamedThreadConfig{Name: `render`}))

	_, err := g.AttachToThread(NamedThread(1))
	require.ErrorIs(t, err, ErrNotExternalThread)
	_, err = g.AttachToThread(NamedThread(2))
	require.ErrorIs(t, err, ErrUnknownThread)

	release, err := g.AttachToThread(GameThread)
	require.NoError(t, err)
	_, err = g.AttachToThread(GameThread)
	require.ErrorIs(t, err, ErrAlreadyAttached)

	var found bool
	for _, info := range g.Threads() {
		if info.Target == GameThread && info.Kind == ThreadKindNamed {
			found = true
			require.Equal(t, `game`, info.Name)
		}
	}
	require.True(t, found)

	release()
	release()
	release, err = g.AttachToThread(GameThread)
	require.NoError(t, err)
	release()
}

func TestTaskGraph_ownedNamedThread(t *testing.T) {
	g, err := New(WithLogger(nil), WithWorkers(2), WithNamedThread(NamedThreadConfig{Name: `render`}))
	require.NoError(t, err)
	render, ok := g.NamedThreadByName(`render`)
	require.True(t, ok)
	require.Equal(t, NamedThread(1), render)

	var thread atomic.Uint32
	ev := g.Dispatch(render, func(tc *TaskContext) { thread.Store(uint32(tc.Thread())) })
	g.Wait(ev)
	require.Equal(t, render, ThreadTarget(thread.Load()))

	require.Eventually(t, func() bool {
		for _, info := range g.Threads() {
			if info.Name == `render` {
				return info.Kind == ThreadKindNamed && info.Worker == -1
			}
		}
		return false
	}, 5*time.Second, time.Millisecond)

	g.Shutdown()
	g.Shutdown()
	require.Empty(t, g.Threads())
}

func TestTaskGraph_Shutdown_drains(t *testing.T) {
	g, err := New(WithLogger(nil), WithWorkers(2))
	require.NoError(t, err)
	var count atomic.Int32
	for i := 0; i < 1000; i++ {
		g.DispatchAndForget(AnyThread, func(*TaskContext) { count.Add(1) })
	}
	g.Shutdown()
	require.EqualValues(t, 1000, count.Load())
	require.Empty(t, g.Threads())
}

func TestTaskGraph_Shutdown_releasedDuringShutdown(t *testing.T) {
	for _, tc := range [...]struct {
		name   string
		target ThreadTarget
	}{
		{`background dependent`, AnyBackgroundThreadNormalTask},
		{`high dependent`, AnyHighThreadHighTask},
		{`owned named thread dependent`, NamedThread(1)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			g, err := New(WithLogger(nil), WithWorkers(2), WithNamedThread(NamedThreadConfig{Name: `render`}))
			require.NoError(t, err)

			var ran, chained atomic.Bool
			a := g.Dispatch(AnyNormalThreadNormalTask, func(*TaskContext) { time.Sleep(100 * time.Millisecond) })
			b := g.Dispatch(tc.target, func(*TaskContext) { ran.Store(true) }, a)
			// back onto the class that may already have gone idle
			c := g.Dispatch(AnyNormalThreadNormalTask, func(*TaskContext) { chained.Store(true) }, b)
			time.Sleep(10 * time.Millisecond)

			g.Shutdown()
			require.True(t, ran.Load())
			require.True(t, chained.Load())
			require.Equal(t, EventComplete, b.State())
			require.Equal(t, EventComplete, c.State())
			require.Empty(t, g.Threads())
		})
	}
}

func TestTaskGraph_Shutdown_ignoresUnreleased(t *testing.T) {
	g, err := New(WithLogger(nil), WithWorkers(2))
	require.NoError(t, err)
	held := g.CreateHeldTask(AnyThread, nil)
	pending := g.Dispatch(AnyThread, nil, g.NewEvent())
	g.DispatchAndForget(GameThread, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		g.Shutdown()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal(`shutdown waited on tasks that can never run`)
	}
	require.False(t, held.Event().IsComplete())
	require.False(t, pending.IsComplete())
}

func TestTaskGraph_concurrentNamedThreadWaits(t *testing.T) {
	g := newTestGraph(t)
	for round := 0; round < 100; round++ {
		var events []*GraphEvent
		for i := 0; i < 10; i++ {
			events = append(events, g.Dispatch(GameThread, nil, g.Dispatch(AnyThread, nil)))
		}
		var wg sync.WaitGroup
		start := make(chan struct{})
		for w := 0; w < 3; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				g.WaitUntilTasksComplete(events, GameThread)
			}()
		}
		close(start)
		done := make(chan struct{})
		go func() {
			defer close(done)
			wg.Wait()
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal(`concurrent waits did not return`)
		}
		require.True(t, allComplete(events))
		require.False(t, g.IsThreadProcessingTasks(GameThread))
	}
}

func TestTaskGraph_SetIgnoredWorkers(t *testing.T) {
	g := newTestGraph(t)
	var count atomic.Int32
	for _, ignored := range []int{0, 2, 1, 10} {
		g.SetIgnoredWorkers(ignored)
		var events []*GraphEvent
		for i := 0; i < 200; i++ {
			events = append(events, g.Dispatch(AnyThread, func(*TaskContext) { count.Add(1) }))
		}
		g.Wait(events...)
	}
	require.EqualValues(t, 800, count.Load())
	require.EqualValues(t, 3, g.classes[normalClass].ignored.Load(), `at least one worker stays active`)
}

func TestTaskGraph_hangWarning(t *testing.T) {
	var buf bytes.Buffer
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(&buf)),
		stumpy.L.WithLevel(logiface.LevelWarning),
	).Logger()
	g := newTestGraph(t, WithLogger(logger), WithHangWarning(5*time.Millisecond))
	held := g.CreateHeldTask(AnyThread, nil)
	go func() {
		time.Sleep(50 * time.Millisecond)
		held.Unlock()
	}()
	g.Wait(held.Event())
	require.Contains(t, buf.String(), `still waiting for tasks to complete`)
}

func TestTaskGraph_Submit(t *testing.T) {
	g := newTestGraph(t)
	var wg sync.WaitGroup
	var count atomic.Int32
	wg.Add(100)
	for i := 0; i < 100; i++ {
		g.Submit(func() {
			defer wg.Done()
			count.Add(1)
		})
	}
	wg.Wait()
	require.EqualValues(t, 100, count.Load())
}
