package queue

import (
	"errors"
	"sync"

	"github.com/charmbracelet/log"
)

// ErrQueueClosed is returned when tasks are posted to a closed loop.
var ErrQueueClosed = errors.New("queue is closed")

// Loop is an unbounded FIFO of tasks drained by one goroutine.
type Loop struct {
	tasks    []func()
	closed   bool
	mu       sync.Mutex
	notEmpty *sync.Cond

	// Closed once the worker goroutine has exited
	done chan struct{}

	stats Stats
}

// Stats tracks loop throughput.
type Stats struct {
	TotalPosted int64
	TotalRun    int64
	Panics      int64
	PeakSize    int
}

// NewLoop creates a loop and starts its worker goroutine.
func NewLoop() *Loop {
	l := &Loop{done: make(chan struct{})}
	l.notEmpty = sync.NewCond(&l.mu)
	go l.run()
	return l
}

// Post enqueues fn without blocking.
func (l *Loop) Post(fn func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrQueueClosed
	}
	l.tasks = append(l.tasks, fn)
	l.stats.TotalPosted++
	if len(l.tasks) > l.stats.PeakSize {
		l.stats.PeakSize = len(l.tasks)
	}
	l.notEmpty.Signal()
	return nil
}

// Call enqueues fn and waits until it has run. It must never be called from
// a task running on the same loop.
func (l *Loop) Call(fn func()) error {
	ran := make(chan struct{})
	err := l.Post(func() {
		defer close(ran)
		fn()
	})
	if err != nil {
		return err
	}
	select {
	case <-ran:
		return nil
	case <-l.done:
		// The worker drains everything before exiting, so the task ran.
		<-ran
		return nil
	}
}

// Close stops accepting tasks, runs the ones already queued and waits for
// the worker to exit.
func (l *Loop) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		l.notEmpty.Broadcast()
	}
	l.mu.Unlock()
	<-l.done
}

// Done is closed after the worker exits.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Stats returns a copy of the loop counters.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *Loop) run() {
	defer close(l.done)

	for {
		l.mu.Lock()
		for len(l.tasks) == 0 && !l.closed {
			l.notEmpty.Wait()
		}
		if len(l.tasks) == 0 && l.closed {
			l.mu.Unlock()
			return
		}
		fn := l.tasks[0]
		l.tasks[0] = nil
		l.tasks = l.tasks[1:]
		l.mu.Unlock()

		l.exec(fn)
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("queue: task panicked", "panic", r)
			l.mu.Lock()
			l.stats.Panics++
			l.mu.Unlock()
		}
	}()
	fn()
	l.mu.Lock()
	l.stats.TotalRun++
	l.mu.Unlock()
}
