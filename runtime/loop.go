package runtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// tickLoop drives a callback from a clock ticker and runs at most one
// worker at a time. The tick goroutine never waits for a worker.
type tickLoop struct {
	ticker   *clock.Ticker
	inFlight atomic.Bool
	stopping atomic.Bool
	workers  sync.WaitGroup

	stopOnce sync.Once
	done     chan struct{}
	exited   chan struct{}
}

func newTickLoop(clk clock.Clock, interval time.Duration) *tickLoop {
	return &tickLoop{
		ticker: clk.Ticker(interval),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// run starts the tick goroutine.
func (l *tickLoop) run(ctx context.Context, onTick func()) {
	go func() {
		defer close(l.exited)
		for {
			select {
			case <-l.done:
				return
			case <-ctx.Done():
				return
			case <-l.ticker.C:
				if l.stopping.Load() {
					return
				}
				onTick()
			}
		}
	}()
}

// acquire claims the worker slot. It fails while a worker is running or
// once stopping has begun.
func (l *tickLoop) acquire() bool {
	if l.stopping.Load() {
		return false
	}
	return l.inFlight.CompareAndSwap(false, true)
}

func (l *tickLoop) release() {
	l.inFlight.Store(false)
}

// spawn runs fn on a worker goroutine. The slot must have been acquired
// and is released when fn returns.
func (l *tickLoop) spawn(fn func()) {
	l.workers.Add(1)
	go func() {
		defer l.workers.Done()
		defer l.release()
		fn()
	}()
}

// stop halts ticking and waits for the in-flight worker. Idempotent.
func (l *tickLoop) stop() {
	l.stopOnce.Do(func() {
		l.stopping.Store(true)
		l.ticker.Stop()
		close(l.done)
	})
	<-l.exited
	l.workers.Wait()
}

// interval returns the tick period for fps frames per second.
func interval(fps int) time.Duration {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return time.Second / time.Duration(fps)
}
