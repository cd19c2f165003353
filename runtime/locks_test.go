package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLockCoordinator_AcquireRelease(t *testing.T) {
	c := NewLockCoordinator()
	ctx := context.Background()

	if err := c.AcquireAll(ctx, []string{"repo/main"}); err != nil {
		t.Fatalf("AcquireAll failed: %v", err)
	}
	c.ReleaseAll([]string{"repo/main"})

	if err := c.AcquireAll(ctx, []string{"repo/main"}); err != nil {
		t.Fatalf("re-acquire after release failed: %v", err)
	}
}

func TestLockCoordinator_MutualExclusion(t *testing.T) {
	c := NewLockCoordinator()
	ctx := context.Background()

	if err := c.AcquireAll(ctx, []string{"repo/main"}); err != nil {
		t.Fatalf("AcquireAll failed: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		if err := c.AcquireAll(ctx, []string{"repo/main"}); err != nil {
			t.Errorf("waiter failed: %v", err)
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired while first still holds")
	case <-time.After(50 * time.Millisecond):
	}

	c.ReleaseAll([]string{"repo/main"})
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never granted after release")
	}
}

func TestLockCoordinator_FIFO(t *testing.T) {
	c := NewLockCoordinator()
	ctx := context.Background()

	if err := c.AcquireAll(ctx, []string{"lock"}); err != nil {
		t.Fatalf("AcquireAll failed: %v", err)
	}

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	ready := make(chan struct{}, 3)

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ready <- struct{}{}
			if err := c.AcquireAll(ctx, []string{"lock"}); err != nil {
				t.Errorf("waiter %d failed: %v", i, err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			c.ReleaseAll([]string{"lock"})
		}(i)
		<-ready
		// Give each waiter time to enqueue so queue order is the spawn
		// order.
		time.Sleep(20 * time.Millisecond)
	}

	c.ReleaseAll([]string{"lock"})
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("grant order = %v, want FIFO", order)
		}
	}
}

func TestLockCoordinator_Timeout(t *testing.T) {
	c := NewLockCoordinator()
	c.MaxWait = 30 * time.Millisecond
	ctx := context.Background()

	if err := c.AcquireAll(ctx, []string{"lock"}); err != nil {
		t.Fatalf("AcquireAll failed: %v", err)
	}

	err := c.AcquireAll(ctx, []string{"lock"})
	if !errors.Is(err, ErrLockTimeout) {
		t.Errorf("err = %v, want ErrLockTimeout", err)
	}

	// The holder is unaffected; release still works and the lock stays
	// usable.
	c.ReleaseAll([]string{"lock"})
	if err := c.AcquireAll(ctx, []string{"lock"}); err != nil {
		t.Errorf("lock unusable after waiter timeout: %v", err)
	}
}

func TestLockCoordinator_ContextCancelled(t *testing.T) {
	c := NewLockCoordinator()
	bg := context.Background()

	if err := c.AcquireAll(bg, []string{"lock"}); err != nil {
		t.Fatalf("AcquireAll failed: %v", err)
	}

	ctx, cancel := context.WithCancel(bg)
	done := make(chan error, 1)
	go func() { done <- c.AcquireAll(ctx, []string{"lock"}) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter never returned")
	}
}

func TestLockCoordinator_RollbackOnPartialFailure(t *testing.T) {
	c := NewLockCoordinator()
	c.MaxWait = 30 * time.Millisecond
	ctx := context.Background()

	// Hold "b" so acquiring {a, b} fails halfway.
	if err := c.AcquireAll(ctx, []string{"b"}); err != nil {
		t.Fatalf("AcquireAll failed: %v", err)
	}

	if err := c.AcquireAll(ctx, []string{"a", "b"}); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("err = %v, want ErrLockTimeout", err)
	}

	// "a" must have been rolled back.
	if err := c.AcquireAll(ctx, []string{"a"}); err != nil {
		t.Errorf("lock %q should have been released on rollback: %v", "a", err)
	}
}

func TestLockCoordinator_DedupAndSortedOrder(t *testing.T) {
	c := NewLockCoordinator()
	ctx := context.Background()

	if err := c.AcquireAll(ctx, []string{"z", "a", "z", "", "a"}); err != nil {
		t.Fatalf("AcquireAll failed: %v", err)
	}
	// Duplicates were collapsed: a single release per name frees them.
	c.ReleaseAll([]string{"a", "z"})

	if err := c.AcquireAll(ctx, []string{"a", "z"}); err != nil {
		t.Errorf("locks should be free again: %v", err)
	}
}

func TestDedupSorted(t *testing.T) {
	got := dedupSorted([]string{"z", "a", "z", "", "m", "a"})
	want := []string{"a", "m", "z"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
