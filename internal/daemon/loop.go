package daemon

import (
	"context"
	"log"
	"time"

	"github.com/cwygoda/fetchd/internal/domain"
)

// Loop owns the scheduler and is the single goroutine allowed to mutate it.
// A fixed ticker drives Reconcile; Dispatch serializes host-initiated
// operations onto the same goroutine, so the scheduler never sees concurrent
// calls.
type Loop struct {
	sched *domain.Scheduler
	tick  time.Duration
	cmds  chan func(*domain.Scheduler)
}

// New creates a Loop reconciling sched every tick.
func New(sched *domain.Scheduler, tick time.Duration) *Loop {
	return &Loop{
		sched: sched,
		tick:  tick,
		cmds:  make(chan func(*domain.Scheduler), 16),
	}
}

// Run drives the loop until the context is cancelled.
func (l *Loop) Run(ctx context.Context) {
	log.Printf("control loop started, reconciling every %s", l.tick)
	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("control loop shutting down")
			return
		case <-ticker.C:
			l.sched.Reconcile(ctx)
		case fn := <-l.cmds:
			fn(l.sched)
		}
	}
}

// Dispatch runs fn on the control goroutine and waits for it to finish.
// Returns the context's error if the loop is gone or the caller gives up.
func (l *Loop) Dispatch(ctx context.Context, fn func(*domain.Scheduler)) error {
	done := make(chan struct{})
	wrapped := func(s *domain.Scheduler) {
		defer close(done)
		fn(s)
	}
	select {
	case l.cmds <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
