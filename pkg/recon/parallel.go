package recon

import (
	"runtime"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// parallelFor splits the index range [0, n) into contiguous chunks and runs
// fn over them on workers goroutines. Chunks are disjoint, so fn may write
// freely to per-index output regions without synchronization.
func parallelFor(n, workers int, fn func(start, end int)) {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		fn(0, n)
		return
	}

	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > n {
			end = n
		}
		if start >= end {
			break
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(start, end)
	}
	wg.Wait()
}

// parallelSum runs fn over chunks of [0, n) like parallelFor, but hands each
// worker a private zero-initialized accumulator of the given size and sums
// the accumulators into dst once all workers have finished. Accumulation
// into shared state therefore never happens concurrently: workers touch only
// their own buffer, and the final reduction is sequential.
func parallelSum(n, workers, size int, dst []float64, fn func(start, end int, acc []float64)) {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		fn(0, n, dst)
		return
	}

	chunk := (n + workers - 1) / workers
	accs := make([][]float64, 0, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > n {
			end = n
		}
		if start >= end {
			break
		}
		acc := make([]float64, size)
		accs = append(accs, acc)
		wg.Add(1)
		go func(start, end int, acc []float64) {
			defer wg.Done()
			fn(start, end, acc)
		}(start, end, acc)
	}
	wg.Wait()

	for _, acc := range accs {
		floats.Add(dst, acc)
	}
}
