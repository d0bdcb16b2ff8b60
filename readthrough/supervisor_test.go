package readthrough

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestSupervisor_CapturesErrorsAndPanics(t *testing.T) {
	sup := NewSupervisor(nil, 4)
	boom := errors.New("boom")

	sup.Go(context.Background(), "fails", func(context.Context) error { return boom })
	sup.Go(context.Background(), "panics", func(context.Context) error { panic("bad payload") })
	sup.Go(context.Background(), "ok", func(context.Context) error { return nil })

	err := sup.Wait()
	if !errors.Is(err, boom) || !errors.Is(err, ErrTaskPanicked) {
		t.Fatalf("Wait() = %v", err)
	}
	st := sup.Stats()
	if st.Started != 3 || st.Failed != 2 || st.Panicked != 1 {
		t.Errorf("Stats() = %+v", st)
	}
	if err := sup.Wait(); err != nil {
		t.Errorf("second Wait() = %v, want nil", err)
	}
}

func TestSupervisor_DetachedFromCallerCancellation(t *testing.T) {
	sup := NewSupervisor(nil, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var taskErr error
	sup.Go(ctx, "detached", func(ctx context.Context) error {
		taskErr = ctx.Err()
		return nil
	})
	_ = sup.Wait()
	if taskErr != nil {
		t.Fatalf("task saw ctx.Err() = %v", taskErr)
	}
}

func TestSupervisor_DropsOverflow(t *testing.T) {
	sup := NewSupervisor(nil, 1)
	release := make(chan struct{})
	if !sup.Go(context.Background(), "slow", func(context.Context) error { <-release; return nil }) {
		t.Fatal("first task dropped")
	}
	if sup.Go(context.Background(), "overflow", func(context.Context) error { return nil }) {
		t.Fatal("overflow task started")
	}
	close(release)
	_ = sup.Wait()
	if st := sup.Stats(); st.Dropped != 1 {
		t.Errorf("Dropped = %d", st.Dropped)
	}
}

func TestSupervisor_GoAndWaitConcurrently(t *testing.T) {
	sup := NewSupervisor(nil, 8)
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range 50 {
				sup.Go(context.Background(), "refresh", func(context.Context) error { return nil })
			}
		}()
		go func() {
			defer wg.Done()
			for range 50 {
				_ = sup.Wait()
			}
		}()
	}
	wg.Wait()
	if err := sup.Wait(); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	st := sup.Stats()
	if st.Started+st.Dropped != 200 {
		t.Errorf("Started+Dropped = %d, want 200", st.Started+st.Dropped)
	}
}

func TestSupervisor_CloseRefusesNewTasks(t *testing.T) {
	sup := NewSupervisor(nil, 2)
	release := make(chan struct{})
	finished := make(chan struct{})
	sup.Go(context.Background(), "running", func(context.Context) error {
		<-release
		close(finished)
		return nil
	})

	closed := make(chan error, 1)
	go func() { closed <- sup.Close() }()
	close(release)
	if err := <-closed; err != nil {
		t.Fatalf("Close() = %v", err)
	}
	select {
	case <-finished:
	default:
		t.Fatal("Close() returned before the running task finished")
	}

	if sup.Go(context.Background(), "late", func(context.Context) error { return nil }) {
		t.Fatal("task started after Close")
	}
	if st := sup.Stats(); st.Started != 1 || st.Dropped != 1 {
		t.Errorf("Stats() = %+v", st)
	}
}
