// Package parallel provides goroutine fan-out for the per-timestep
// kernel work. The recurrence is sequential along time, but within one
// timestep the batch and hidden axes are independent and can be split
// across workers.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig returns sensible defaults based on CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 64,
	}
}

// Sequential returns a config that disables fan-out entirely.
// Deterministic single-goroutine execution, mainly for tests.
func Sequential() Config {
	return Config{Enabled: false, NumWorkers: 1, MinChunkSize: 1}
}

// For executes f(i) for i in [0, n) with optional parallelism.
// Falls back to sequential execution if parallelism is disabled or n is
// too small to amortize goroutine startup.
func For(n int, f func(i int), cfg Config) {
	if !cfg.Enabled || n < cfg.MinChunkSize {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	var wg sync.WaitGroup
	chunkSize := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize)

	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				f(i)
			}
		}(start, end)
	}
	wg.Wait()
}

// ForRows splits work over the rows of a (rows, width) block, giving
// each worker whole rows. f receives the row index. This is the
// batch-axis pattern inside one recurrence timestep: the per-row work
// (width elements of gate math) is the natural chunk.
func ForRows(rows, width int, f func(row int), cfg Config) {
	if !cfg.Enabled || rows*width < cfg.MinChunkSize {
		for r := 0; r < rows; r++ {
			f(r)
		}
		return
	}
	// Rows are the unit of work; never split a row across workers.
	cfgRows := cfg
	cfgRows.MinChunkSize = 1
	For(rows, f, cfgRows)
}
