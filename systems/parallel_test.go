package systems

import (
	"sync/atomic"
	"testing"
)

func TestPool_ForCoversRange(t *testing.T) {
	tests := []struct {
		name      string
		workers   int
		threshold int
		n         int
	}{
		{"inline below threshold", 4, 100, 50},
		{"parallel", 4, 8, 1000},
		{"uneven chunks", 3, 1, 10},
		{"more workers than items", 8, 1, 3},
		{"single worker", 1, 1, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPool(tt.workers, tt.threshold)
			defer p.Stop()

			hits := make([]int32, tt.n)
			p.For(tt.n, func(start, end int) {
				for i := start; i < end; i++ {
					atomic.AddInt32(&hits[i], 1)
				}
			})
			for i, h := range hits {
				if h != 1 {
					t.Fatalf("index %d visited %d times", i, h)
				}
			}
		})
	}
}

func TestPool_ForWorkerIndex(t *testing.T) {
	p := NewPool(4, 1)
	defer p.Stop()

	var bad int32
	for round := 0; round < 3; round++ {
		p.ForWorker(100, func(w, start, end int) {
			if w < 0 || w >= p.Workers() {
				atomic.AddInt32(&bad, 1)
			}
		})
	}
	if bad != 0 {
		t.Errorf("%d chunks saw an out-of-range worker index", bad)
	}
}

func TestPool_Nil(t *testing.T) {
	var p *Pool
	sum := 0
	p.For(10, func(start, end int) {
		for i := start; i < end; i++ {
			sum += i
		}
	})
	if sum != 45 {
		t.Errorf("sum = %d, want 45", sum)
	}
	if p.Workers() != 1 {
		t.Errorf("nil pool workers = %d", p.Workers())
	}
	p.Stop()
}

func TestPool_StopRestart(t *testing.T) {
	p := NewPool(2, 1)
	p.For(10, func(int, int) {})
	p.Stop()
	p.Stop()

	n := int32(0)
	p.For(10, func(start, end int) { atomic.AddInt32(&n, int32(end-start)) })
	p.Stop()
	if n != 10 {
		t.Errorf("after restart visited %d, want 10", n)
	}
}
