package taskgraph

import (
	"time"

	"github.com/alphadose/taskgraph/lockfree"
)

// signal is an auto-reset event: a Trigger releases at most one Wait, and a
// Trigger with no waiter is remembered until the next Wait.
type signal struct {
	c chan struct{}
}

func newSignal() *signal {
	return &signal{c: make(chan struct{}, 1)}
}

func (s *signal) Trigger() {
	select {
	case s.c <- struct{}{}:
	default:
	}
}

func (s *signal) Wait() {
	<-s.c
}

// WaitTimeout reports whether the signal was triggered within d.
func (s *signal) WaitTimeout(d time.Duration) bool {
	select {
	case <-s.c:
		return true
	default:
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.c:
		return true
	case <-timer.C:
		return false
	}
}

func (s *signal) reset() {
	select {
	case <-s.c:
	default:
	}
}

// signalPool recycles signals used by blocking waits.
type signalPool struct {
	free *lockfree.Stack[signal]
}

func newSignalPool(links *lockfree.LinkPool) *signalPool {
	return &signalPool{free: lockfree.NewStack[signal](links)}
}

func (p *signalPool) get() *signal {
	if s := p.free.Pop(); s != nil {
		return s
	}
	return newSignal()
}

func (p *signalPool) put(s *signal) {
	s.reset()
	p.free.Push(s)
}
