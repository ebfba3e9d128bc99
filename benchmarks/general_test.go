package test

import (
	"sync"
	"testing"
	"time"

	"github.com/alphadose/taskgraph"
	"github.com/gammazero/workerpool"
	"github.com/panjf2000/ants/v2"
)

func demoFunc() {
	time.Sleep(time.Duration(BenchParam) * time.Microsecond)
}

func BenchmarkGolangScheduler(b *testing.B) {
	var wg sync.WaitGroup

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		wg.Add(RunTimes)
		for j := 0; j < RunTimes; j++ {
			go func() {
				demoFunc()
				wg.Done()
			}()
		}
		wg.Wait()
	}
	b.StopTimer()
}

func BenchmarkTaskGraph(b *testing.B) {
	g, err := taskgraph.New(taskgraph.WithLogger(nil), taskgraph.WithWorkers(Workers))
	if err != nil {
		b.Fatal(err)
	}
	defer g.Shutdown()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		events := make([]*taskgraph.GraphEvent, RunTimes)
		for j := range events {
			events[j] = g.Dispatch(taskgraph.AnyThread, func(*taskgraph.TaskContext) { demoFunc() })
		}
		g.Wait(events...)
	}
	b.StopTimer()
}

func BenchmarkAntsPool(b *testing.B) {
	var wg sync.WaitGroup
	p, _ := ants.NewPool(PoolSize, ants.WithExpiryDuration(DefaultExpiredTime))
	defer p.Release()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		wg.Add(RunTimes)
		for j := 0; j < RunTimes; j++ {
			_ = p.Submit(func() {
				demoFunc()
				wg.Done()
			})
		}
		wg.Wait()
	}
	b.StopTimer()
}

func BenchmarkGammaZeroPool(b *testing.B) {
	var wg sync.WaitGroup
	p := workerpool.New(Workers)
	defer p.Stop()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		wg.Add(RunTimes)
		for j := 0; j < RunTimes; j++ {
			p.Submit(func() {
				demoFunc()
				wg.Done()
			})
		}
		wg.Wait()
	}
	b.StopTimer()
}
