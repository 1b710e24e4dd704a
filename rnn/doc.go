// Copyright 2025 Strand ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package rnn provides fused recurrent layers: a GRU and a
// layer-normalized LSTM, each with an exact analytic backward pass.
//
// # Overview
//
// Both layers process time-major sequences (time, batch, feature) and
// support:
//   - DropConnect on the recurrent weight matrix
//   - Zoneout on the hidden state
//   - variable-length batches via per-sequence lengths
//   - batch-first input as a configuration option
//
// A training-mode forward records the activations its backward pass
// needs; Backward consumes that record and accumulates parameter
// gradients:
//
//	layer, err := rnn.NewGRU[float32](128, 256, rnn.GRUConfig{Zoneout: 0.1})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	output, state := layer.Forward(x, nil)
//	grads := layer.Backward(dOutput, nil)
package rnn
