// Package main provides the Strand ML CLI.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/strandml/strand/backend/cpu"
	"github.com/strandml/strand/backend/webgpu"
	"github.com/strandml/strand/rnn"
	"github.com/strandml/strand/tensor"
)

const version = "v0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	switch os.Args[1] {
	case "version":
		fmt.Printf("Strand ML %s\n", version)
	case "bench":
		if err := bench(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "bench:", err)
			os.Exit(1)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Println("Strand ML - fused recurrent layers for Go")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Commands:")
	fmt.Println("  version    Show version")
	fmt.Println("  bench      Time layer forward and backward passes")
}

func bench(args []string) error {
	fs := flag.NewFlagSet("bench", flag.ExitOnError)
	cell := fs.String("cell", "gru", "cell type: gru or lnlstm")
	timeSteps := fs.Int("time", 64, "sequence length")
	batch := fs.Int("batch", 32, "batch size")
	inputSize := fs.Int("input", 128, "input feature width")
	hiddenSize := fs.Int("hidden", 256, "hidden state width")
	iters := fs.Int("iters", 10, "timed iterations")
	gpu := fs.Bool("gpu", false, "offload matmuls to WebGPU when available")
	if err := fs.Parse(args); err != nil {
		return err
	}

	backend := tensor.Backend(cpu.New())
	if *gpu {
		gb, err := webgpu.New()
		if err != nil {
			fmt.Fprintln(os.Stderr, "falling back to CPU:", err)
		} else {
			backend = gb
		}
	}

	rng := rand.New(rand.NewSource(42))
	x := tensor.Randn[float32](tensor.Shape{*timeSteps, *batch, *inputSize}, rng, tensor.CPU)
	dOut := tensor.Randn[float32](tensor.Shape{*timeSteps, *batch, *hiddenSize}, rng, tensor.CPU)

	var forward func() *tensor.RawTensor
	var backward func(*tensor.RawTensor)
	switch *cell {
	case "gru":
		layer, err := rnn.NewGRU[float32](*inputSize, *hiddenSize, rnn.GRUConfig{Backend: backend, Seed: 42})
		if err != nil {
			return err
		}
		forward = func() *tensor.RawTensor {
			out, _ := layer.Forward(x, nil)
			return out
		}
		backward = func(g *tensor.RawTensor) {
			layer.Backward(g, nil)
			for _, p := range layer.Parameters() {
				p.ZeroGrad()
			}
		}
	case "lnlstm":
		layer, err := rnn.NewLayerNormLSTM[float32](*inputSize, *hiddenSize, rnn.LayerNormLSTMConfig{Backend: backend, Seed: 42})
		if err != nil {
			return err
		}
		forward = func() *tensor.RawTensor {
			out, _, _ := layer.Forward(x, nil)
			return out
		}
		backward = func(g *tensor.RawTensor) {
			layer.Backward(g, nil, nil)
			for _, p := range layer.Parameters() {
				p.ZeroGrad()
			}
		}
	default:
		return fmt.Errorf("unknown cell %q (want gru or lnlstm)", *cell)
	}

	fmt.Printf("cell=%s backend=%s time=%d batch=%d input=%d hidden=%d\n",
		*cell, backend.Name(), *timeSteps, *batch, *inputSize, *hiddenSize)

	// Warm up once so shader compilation and allocator growth are not timed.
	forward()
	backward(dOut)

	var fwdTotal, bwdTotal time.Duration
	for i := 0; i < *iters; i++ {
		start := time.Now()
		forward()
		fwdTotal += time.Since(start)

		start = time.Now()
		backward(dOut)
		bwdTotal += time.Since(start)
	}

	fmt.Printf("forward:  %v/iter\n", fwdTotal/time.Duration(*iters))
	fmt.Printf("backward: %v/iter\n", bwdTotal/time.Duration(*iters))
	return nil
}
