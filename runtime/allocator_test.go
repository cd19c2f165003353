package runtime

import (
	"sync"
	"testing"
)

func TestAllocator_ReusesHandle(t *testing.T) {
	a := NewAllocator()

	first, created := a.Allocate("linux", "linux-large")
	if !created {
		t.Error("first Allocate should create")
	}
	if first.ID == "" {
		t.Error("handle needs an ID")
	}
	if first.Label != "linux-large" {
		t.Errorf("Label = %q", first.Label)
	}

	second, created := a.Allocate("linux", "linux-large")
	if created {
		t.Error("second Allocate should reuse")
	}
	if second.ID != first.ID {
		t.Errorf("handle changed: %q vs %q", second.ID, first.ID)
	}
}

func TestAllocator_DistinctVariants(t *testing.T) {
	a := NewAllocator()
	x, _ := a.Allocate("x", "")
	y, _ := a.Allocate("y", "")
	if x.ID == y.ID {
		t.Error("distinct variants should get distinct handles")
	}
}

func TestAllocator_Release(t *testing.T) {
	a := NewAllocator()
	first, _ := a.Allocate("x", "")
	a.Release("x")

	if _, ok := a.Lookup("x"); ok {
		t.Error("released handle should be gone")
	}
	second, created := a.Allocate("x", "")
	if !created || second.ID == first.ID {
		t.Error("allocation after release should create a fresh handle")
	}
}

func TestAllocator_ConcurrentAllocate(t *testing.T) {
	a := NewAllocator()
	const n = 32

	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, _ := a.Allocate("shared", "")
			ids[i] = h.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent allocations diverged: %q vs %q", ids[i], ids[0])
		}
	}
}
