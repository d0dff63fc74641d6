package systems

import (
	"runtime"
	"sync"
)

// DefaultParallelThreshold is the minimum loop length dispatched to workers.
// Below this, single-threaded is faster due to goroutine overhead.
const DefaultParallelThreshold = 64

// workChunk represents a range of loop iterations for a worker to process.
type workChunk struct {
	start, end int
	fn         func(worker, start, end int)
}

// Pool runs data-parallel loops on persistent worker goroutines. Loop bodies
// must only write to per-iteration slots; For returns after every chunk has
// completed. A Pool is driven by a single goroutine and For is not reentrant.
type Pool struct {
	numWorkers int
	threshold  int

	// Worker pool channels
	workChan chan workChunk // sends work to workers
	doneChan chan struct{}  // workers signal completion
	stopChan chan struct{}  // signals workers to exit
	wg       sync.WaitGroup // tracks active workers
	running  bool           // true if workers are running
}

// NewPool creates a pool. workers <= 0 uses GOMAXPROCS; threshold <= 0 uses
// DefaultParallelThreshold. Workers are started lazily on the first parallel loop.
func NewPool(workers, threshold int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if threshold <= 0 {
		threshold = DefaultParallelThreshold
	}
	return &Pool{numWorkers: workers, threshold: threshold}
}

// Workers returns the number of worker goroutines (and scratch slots needed by
// ForWorker callers).
func (p *Pool) Workers() int {
	if p == nil {
		return 1
	}
	return p.numWorkers
}

// start launches persistent worker goroutines.
func (p *Pool) start() {
	if p.running {
		return
	}

	p.workChan = make(chan workChunk, p.numWorkers)
	p.doneChan = make(chan struct{}, p.numWorkers)
	p.stopChan = make(chan struct{})
	p.running = true

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop signals all workers to exit and waits for them.
func (p *Pool) Stop() {
	if p == nil || !p.running {
		return
	}

	close(p.stopChan)
	p.wg.Wait()
	close(p.workChan)
	close(p.doneChan)
	p.running = false
}

// worker runs in a goroutine, processing chunks until stopped.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case chunk, ok := <-p.workChan:
			if !ok {
				return
			}
			chunk.fn(id, chunk.start, chunk.end)
			p.doneChan <- struct{}{}
		}
	}
}

// For runs fn over [0, n) in contiguous chunks.
func (p *Pool) For(n int, fn func(start, end int)) {
	p.ForWorker(n, func(_, start, end int) { fn(start, end) })
}

// ForWorker is like For but passes the index of the worker running the chunk,
// in [0, Workers()), so callers can keep per-worker scratch buffers.
func (p *Pool) ForWorker(n int, fn func(worker, start, end int)) {
	if n <= 0 {
		return
	}
	// Single-threaded for small loops
	if p == nil || n < p.threshold || p.numWorkers == 1 {
		fn(0, 0, n)
		return
	}

	if !p.running {
		p.start()
	}

	chunkSize := (n + p.numWorkers - 1) / p.numWorkers

	// Dispatch chunks to workers
	chunksDispatched := 0
	for w := 0; w < p.numWorkers; w++ {
		start := w * chunkSize
		end := start + chunkSize
		if end > n {
			end = n
		}
		if start >= end {
			continue
		}

		p.workChan <- workChunk{start: start, end: end, fn: fn}
		chunksDispatched++
	}

	// Wait for all chunks to complete
	for i := 0; i < chunksDispatched; i++ {
		<-p.doneChan
	}
}
