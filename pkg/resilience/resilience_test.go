package resilience

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBackoffDoublesUpToCap(t *testing.T) {
	b := NewBackoff()
	b.JitterFrac = 0 // deterministic
	got := make([]time.Duration, 6)
	for i := range got {
		got[i] = b.Next()
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("delay %d: got %v, want %v", i, got[i], w)
		}
	}
}

func TestBackoffResetReturnsToInitial(t *testing.T) {
	b := NewBackoff()
	b.JitterFrac = 0
	b.Next()
	b.Next()
	b.Reset()
	if got := b.Next(); got != time.Second {
		t.Fatalf("expected reset to return to initial delay, got %v", got)
	}
}

func TestBackoffJitterStaysWithinBounds(t *testing.T) {
	b := NewBackoff()
	for i := 0; i < 50; i++ {
		d := b.Next()
		if d < 0 || d > b.Max+time.Second {
			t.Fatalf("jittered delay out of plausible bounds: %v", d)
		}
	}
}

func TestCoalescerCollapsesConcurrentCalls(t *testing.T) {
	var c Coalescer
	var executions int64

	var wg sync.WaitGroup
	results := make([]int, 10)
	start := make(chan struct{})
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			<-start
			v, err := c.Do("device-put", func() (any, error) {
				atomic.AddInt64(&executions, 1)
				time.Sleep(20 * time.Millisecond)
				return 42, nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[idx] = v.(int)
		}(i)
	}
	close(start)
	wg.Wait()

	if executions != 1 {
		t.Fatalf("expected exactly one underlying execution, got %d", executions)
	}
	for _, r := range results {
		if r != 42 {
			t.Fatalf("expected every caller to see the shared result, got %d", r)
		}
	}
}

func TestCoalescerRunsAgainAfterPriorCallCompletes(t *testing.T) {
	var c Coalescer
	var executions int64
	for i := 0; i < 3; i++ {
		_, err := c.Do("command-fetch", func() (any, error) {
			atomic.AddInt64(&executions, 1)
			return nil, nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if executions != 3 {
		t.Fatalf("expected sequential calls to each run, got %d", executions)
	}
}
