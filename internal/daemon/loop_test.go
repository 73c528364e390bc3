package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/cwygoda/fetchd/internal/domain"
)

type stubStore struct{}

func (stubStore) ListRows(ctx context.Context) ([]domain.Row, error)  { return nil, nil }
func (stubStore) GetRow(ctx context.Context, o string) (*domain.Row, error) {
	return nil, nil
}
func (stubStore) InsertRow(ctx context.Context, row domain.Row) error { return nil }
func (stubStore) UpdateRow(ctx context.Context, o string, c map[string]any) error {
	return nil
}
func (stubStore) DeleteRows(ctx context.Context, origins []string) error { return nil }
func (stubStore) SaveConfig(ctx context.Context, v map[string]string) error {
	return nil
}
func (stubStore) LoadConfig(ctx context.Context) (map[string]string, error) {
	return nil, nil
}

// gatedDownloader blocks each download until its origin gate receives a result.
type gatedDownloader struct {
	gates map[string]chan error
}

func (d *gatedDownloader) Download(ctx context.Context, origin string, opts domain.Options, report domain.ProgressFunc) error {
	return <-d.gates[origin]
}

func runningCount(t *testing.T, loop *Loop) int {
	t.Helper()
	var n int
	if err := loop.Dispatch(context.Background(), func(s *domain.Scheduler) {
		n = len(s.Running())
	}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	return n
}

func waitForRunning(t *testing.T, loop *Loop, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runningCount(t, loop) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("running = %d, want %d", runningCount(t, loop), want)
}

func TestLoop_DispatchRunsCommand(t *testing.T) {
	sched := domain.NewScheduler(domain.SchedulerParams{
		Store:      stubStore{},
		Downloader: &gatedDownloader{gates: map[string]chan error{}},
	})
	loop := New(sched, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	ran := false
	if err := loop.Dispatch(ctx, func(s *domain.Scheduler) { ran = true }); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if !ran {
		t.Error("dispatched command did not run")
	}
}

func TestLoop_TickPromotesPending(t *testing.T) {
	dl := &gatedDownloader{gates: map[string]chan error{
		"a": make(chan error, 1),
		"b": make(chan error, 1),
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := domain.NewScheduler(domain.SchedulerParams{
		Store:         stubStore{},
		Downloader:    dl,
		MaxConcurrent: 1,
		RunContext:    ctx,
	})
	loop := New(sched, 10*time.Millisecond)
	go loop.Run(ctx)

	err := loop.Dispatch(ctx, func(s *domain.Scheduler) {
		if _, e := s.Submit(ctx, domain.SubmitSpec{Origin: "a"}); e != nil {
			t.Errorf("Submit(a) error = %v", e)
		}
		if _, e := s.Submit(ctx, domain.SubmitSpec{Origin: "b"}); e != nil {
			t.Errorf("Submit(b) error = %v", e)
		}
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	waitForRunning(t, loop, 1)

	// Finish the first job; a later tick should promote the second.
	dl.gates["a"] <- nil
	waitForRunning(t, loop, 1)

	var origins []string
	loop.Dispatch(ctx, func(s *domain.Scheduler) {
		for _, job := range s.Running() {
			origins = append(origins, job.Origin)
		}
	})
	deadline := time.Now().Add(2 * time.Second)
	for len(origins) != 1 || origins[0] != "b" {
		if time.Now().After(deadline) {
			t.Fatalf("running origins = %v, want [b]", origins)
		}
		time.Sleep(5 * time.Millisecond)
		origins = nil
		loop.Dispatch(ctx, func(s *domain.Scheduler) {
			for _, job := range s.Running() {
				origins = append(origins, job.Origin)
			}
		})
	}
	dl.gates["b"] <- nil
}

func TestLoop_DispatchCancelledContext(t *testing.T) {
	sched := domain.NewScheduler(domain.SchedulerParams{
		Store:      stubStore{},
		Downloader: &gatedDownloader{gates: map[string]chan error{}},
	})
	loop := New(sched, time.Hour)
	// Loop is not running, so Dispatch can only give up with the caller.

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Fill the command buffer so the send blocks.
	for i := 0; i < cap(loop.cmds); i++ {
		loop.cmds <- func(*domain.Scheduler) {}
	}
	if err := loop.Dispatch(ctx, func(*domain.Scheduler) {}); err != context.Canceled {
		t.Errorf("Dispatch() error = %v, want context.Canceled", err)
	}
}

func TestLoop_RunStopsOnCancel(t *testing.T) {
	sched := domain.NewScheduler(domain.SchedulerParams{
		Store:      stubStore{},
		Downloader: &gatedDownloader{gates: map[string]chan error{}},
	})
	loop := New(sched, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
