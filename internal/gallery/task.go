package gallery

import (
	"context"
	"sync"
	"time"
)

// TickFunc runs one iteration of a Task. Returning false stops the task.
// tick is 0 for the delayed first run and counts interval ticks from 1.
type TickFunc func(ctx context.Context, tick int) bool

type TaskOptions struct {
	Interval time.Duration
	// FirstDelay schedules an extra run shortly after Start, independent of
	// the interval ticks.
	FirstDelay time.Duration
	// MaxTicks bounds the number of interval ticks; zero means unbounded.
	MaxTicks int
	Run      TickFunc
}

// Task is a restartable periodic job.
type Task struct {
	interval   time.Duration
	firstDelay time.Duration
	maxTicks   int
	run        TickFunc

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewTask(opts TaskOptions) *Task {
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second
	}
	return &Task{
		interval:   interval,
		firstDelay: opts.FirstDelay,
		maxTicks:   opts.MaxTicks,
		run:        opts.Run,
	}
}

// Start launches the task, stopping a previous run first. Of concurrent
// Starts, the last one installed owns the running loop.
func (t *Task) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	t.mu.Lock()
	prevCancel, prevDone := t.cancel, t.done
	t.cancel, t.done = cancel, done
	t.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
		<-prevDone
	}
	go t.loop(ctx, done)
}

// Stop cancels the current run and waits for it to return.
func (t *Task) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (t *Task) Active() bool {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()

	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

func (t *Task) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	if t.run == nil {
		return
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	var first <-chan time.Time
	if t.firstDelay > 0 {
		timer := time.NewTimer(t.firstDelay)
		defer timer.Stop()
		first = timer.C
	}

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-first:
			first = nil
			if !t.run(ctx, 0) {
				return
			}
		case <-ticker.C:
			ticks++
			if !t.run(ctx, ticks) {
				return
			}
			if t.maxTicks > 0 && ticks >= t.maxTicks {
				return
			}
		}
	}
}
