package runtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCoordinator_SerializesWork(t *testing.T) {
	c := NewCoordinator(nil)
	defer c.Close()

	var active, overlaps atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Do(context.Background(), func(context.Context) error {
				if active.Add(1) > 1 {
					overlaps.Add(1)
				}
				time.Sleep(time.Millisecond)
				active.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if n := overlaps.Load(); n != 0 {
		t.Fatalf("%d jobs observed another job running", n)
	}
}

func TestCoordinator_PropagatesError(t *testing.T) {
	c := NewCoordinator(nil)
	defer c.Close()

	boom := errors.New("boom")
	err := c.Do(context.Background(), func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestCoordinator_ClosedRejectsWork(t *testing.T) {
	c := NewCoordinator(nil)
	c.Close()

	err := c.Do(context.Background(), func(context.Context) error { return nil })
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestCoordinator_AdmittedWorkOutlivesCancel(t *testing.T) {
	c := NewCoordinator(nil)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var sawCancel error
	err := c.Do(ctx, func(jobCtx context.Context) error {
		cancel()
		sawCancel = jobCtx.Err()
		return nil
	})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if sawCancel != nil {
		t.Fatalf("running job saw cancellation: %v", sawCancel)
	}
}

func TestCoordinator_CancelledWhileQueued(t *testing.T) {
	c := NewCoordinator(nil)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Do(ctx, func(context.Context) error {
		t.Error("cancelled job must not run")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}
