package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/keelci/keel/metrics"
)

// ErrLockTimeout indicates a lock could not be acquired within the
// bounded wait.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// defaultLockWait bounds how long a build blocks on one lock before
// failing.
const defaultLockWait = 15 * time.Minute

// LockCoordinator serializes phases and builds that declare conflicting
// named locks. At most one holder exists per lock name; waiters are
// granted in FIFO order per name. AcquireAll takes names in sorted
// order so concurrent builds with overlapping lock sets cannot
// deadlock.
type LockCoordinator struct {
	mu      sync.Mutex
	held    map[string]bool
	waiters map[string][]chan struct{}

	// MaxWait bounds each individual acquisition; zero means the
	// default.
	MaxWait time.Duration
	// Collector records lock wait time, may be nil.
	Collector *metrics.Collector
}

// NewLockCoordinator creates a coordinator with no held locks.
func NewLockCoordinator() *LockCoordinator {
	return &LockCoordinator{
		held:    map[string]bool{},
		waiters: map[string][]chan struct{}{},
	}
}

// AcquireAll acquires every named lock, blocking until each is
// available. Names are deduplicated and acquired in sorted order. On
// failure (timeout or context cancellation) every lock already taken by
// this call is released before returning.
func (c *LockCoordinator) AcquireAll(ctx context.Context, names []string) error {
	sorted := dedupSorted(names)

	for i, name := range sorted {
		if err := c.acquire(ctx, name); err != nil {
			c.ReleaseAll(sorted[:i])
			return err
		}
	}
	return nil
}

// ReleaseAll releases the named locks, waking the next FIFO waiter of
// each. Releasing a lock not held is a no-op.
func (c *LockCoordinator) ReleaseAll(names []string) {
	for _, name := range dedupSorted(names) {
		c.release(name)
	}
}

func (c *LockCoordinator) acquire(ctx context.Context, name string) error {
	c.mu.Lock()
	if !c.held[name] {
		c.held[name] = true
		c.mu.Unlock()
		return nil
	}

	// Queue position is grant order: FIFO per name.
	grant := make(chan struct{})
	c.waiters[name] = append(c.waiters[name], grant)
	c.mu.Unlock()

	maxWait := c.MaxWait
	if maxWait == 0 {
		maxWait = defaultLockWait
	}
	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	start := time.Now()
	select {
	case <-grant:
		// The releaser already transferred ownership to us.
		c.Collector.LockWaited(time.Since(start))
		return nil
	case <-timer.C:
		c.abandon(name, grant)
		return fmt.Errorf("%w: %q after %s", ErrLockTimeout, name, maxWait)
	case <-ctx.Done():
		c.abandon(name, grant)
		return ctx.Err()
	}
}

func (c *LockCoordinator) release(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	queue := c.waiters[name]
	if len(queue) == 0 {
		delete(c.held, name)
		return
	}
	// Hand the lock to the oldest waiter without releasing it in
	// between, so a newcomer cannot jump the queue.
	next := queue[0]
	c.waiters[name] = queue[1:]
	close(next)
}

// abandon removes a waiter that gave up. If the grant raced with the
// removal and ownership was already transferred, pass it on.
func (c *LockCoordinator) abandon(name string, grant chan struct{}) {
	c.mu.Lock()
	queue := c.waiters[name]
	for i, w := range queue {
		if w == grant {
			c.waiters[name] = append(queue[:i:i], queue[i+1:]...)
			c.mu.Unlock()
			return
		}
	}
	c.mu.Unlock()

	// Not in the queue: the grant fired concurrently. We own the lock
	// but no longer want it.
	c.release(name)
}

func dedupSorted(names []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
