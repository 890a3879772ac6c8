package service

import (
	"errors"
	"log"
	"sync"
	"time"
)

// ErrThrottleFull is returned when the outbound queue is at capacity; the
// caller decides whether to drop or report.
var ErrThrottleFull = errors.New("throttle queue full")

// Throttle serializes outbound channel sends. The upstream penalizes rapid
// bursts, so consecutive executions are spaced by a growing multiple of the
// base interval: the first task of a window runs immediately, each further
// task in the same window waits one more interval step, capped at maxSteps.
// The window resets after idleReset of no executions.
type Throttle struct {
	interval  time.Duration
	idleReset time.Duration
	maxSteps  int

	tasks chan func()
	done  chan struct{}

	mu       sync.Mutex
	window   int
	lastExec time.Time
}

func NewThrottle(interval, idleReset time.Duration, queueSize, maxSteps int) *Throttle {
	if queueSize <= 0 {
		queueSize = 256
	}
	if maxSteps <= 0 {
		maxSteps = 8
	}
	return &Throttle{
		interval:  interval,
		idleReset: idleReset,
		maxSteps:  maxSteps,
		tasks:     make(chan func(), queueSize),
		done:      make(chan struct{}),
	}
}

// Schedule enqueues a task for serial execution. It never blocks: a full
// queue returns ErrThrottleFull so backpressure stays bounded.
func (t *Throttle) Schedule(task func()) error {
	select {
	case t.tasks <- task:
		return nil
	default:
		return ErrThrottleFull
	}
}

// QueueDepth reports how many tasks are waiting.
func (t *Throttle) QueueDepth() int {
	return len(t.tasks)
}

// Run executes tasks one at a time until Shutdown.
func (t *Throttle) Run() {
	for {
		select {
		case task := <-t.tasks:
			t.waitTurn()
			t.execute(task)
		case <-t.done:
			return
		}
	}
}

func (t *Throttle) Shutdown() {
	close(t.done)
}

func (t *Throttle) waitTurn() {
	t.mu.Lock()
	if !t.lastExec.IsZero() && time.Since(t.lastExec) >= t.idleReset {
		t.window = 0
	}
	steps := t.window
	if steps > t.maxSteps {
		steps = t.maxSteps
	}
	var until time.Time
	if steps > 0 {
		until = t.lastExec.Add(time.Duration(steps) * t.interval)
	}
	t.mu.Unlock()

	// The delay is the only suspension point; the lock is never held
	// across it.
	if wait := time.Until(until); wait > 0 {
		select {
		case <-time.After(wait):
		case <-t.done:
		}
	}
}

func (t *Throttle) execute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Throttle] task panicked: %v", r)
		}
	}()
	defer func() {
		t.mu.Lock()
		t.lastExec = time.Now()
		t.window++
		t.mu.Unlock()
	}()
	task()
}
