package parallel_test

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/strandml/strand/internal/parallel"
)

func TestForVisitsEveryIndexOnce(t *testing.T) {
	configs := map[string]parallel.Config{
		"sequential": parallel.Sequential(),
		"default":    parallel.DefaultConfig(),
		"tiny chunk": {Enabled: true, NumWorkers: 4, MinChunkSize: 1},
	}
	for name, cfg := range configs {
		t.Run(name, func(t *testing.T) {
			const n = 1000
			counts := make([]int32, n)
			parallel.For(n, func(i int) {
				atomic.AddInt32(&counts[i], 1)
			}, cfg)
			for i, c := range counts {
				assert.Equal(t, int32(1), c, "index %d", i)
			}
		})
	}
}

func TestForZeroItems(t *testing.T) {
	called := false
	parallel.For(0, func(int) { called = true }, parallel.DefaultConfig())
	assert.False(t, called)
}

func TestForRowsVisitsEveryRowOnce(t *testing.T) {
	const rows, width = 37, 19
	counts := make([]int32, rows)
	parallel.ForRows(rows, width, func(r int) {
		atomic.AddInt32(&counts[r], 1)
	}, parallel.Config{Enabled: true, NumWorkers: 8, MinChunkSize: 4})
	for r, c := range counts {
		assert.Equal(t, int32(1), c, "row %d", r)
	}
}

func TestSmallWorkStaysSequential(t *testing.T) {
	// Below MinChunkSize the fan-out must not spawn goroutines, so
	// ordering is deterministic.
	var order []int
	parallel.For(8, func(i int) {
		order = append(order, i)
	}, parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 64})
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, order)
}
