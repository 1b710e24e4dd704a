// Copyright 2025 Strand ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package rnn

import (
	"github.com/strandml/strand/internal/rnn"
	"github.com/strandml/strand/tensor"
)

// Parameter is a learnable tensor together with its accumulated
// gradient.
type Parameter = rnn.Parameter

// NewParameter creates a parameter around an initialized tensor.
func NewParameter(name string, raw *tensor.RawTensor) *Parameter {
	return rnn.NewParameter(name, raw)
}

// InputGradients holds the gradients a backward pass produces for the
// layer inputs.
type InputGradients = rnn.InputGradients

// GRU

// GRU is a fused GRU layer with built-in DropConnect and Zoneout.
type GRU[T tensor.Float] = rnn.GRU[T]

// GRUConfig configures a GRU layer.
type GRUConfig = rnn.GRUConfig

// NewGRU creates a GRU layer and initializes its parameters.
//
// Example:
//
//	layer, err := rnn.NewGRU[float32](128, 256, rnn.GRUConfig{
//	    Dropout: 0.1,
//	    Zoneout: 0.05,
//	})
func NewGRU[T tensor.Float](inputSize, hiddenSize int, cfg GRUConfig) (*GRU[T], error) {
	return rnn.NewGRU[T](inputSize, hiddenSize, cfg)
}

// LayerNormLSTM

// LayerNormLSTM is a fused LSTM layer that layer-normalizes the input,
// recurrent, and output activations.
type LayerNormLSTM[T tensor.Float] = rnn.LayerNormLSTM[T]

// LayerNormLSTMConfig configures a LayerNormLSTM layer.
type LayerNormLSTMConfig = rnn.LayerNormLSTMConfig

// DefaultForgetBias is the forget gate bias used when the config does
// not override it.
const DefaultForgetBias = rnn.DefaultForgetBias

// NewLayerNormLSTM creates a LayerNormLSTM layer and initializes its
// parameters.
//
// Example:
//
//	layer, err := rnn.NewLayerNormLSTM[float32](128, 256, rnn.LayerNormLSTMConfig{
//	    ForgetBias: 1.0,
//	})
func NewLayerNormLSTM[T tensor.Float](inputSize, hiddenSize int, cfg LayerNormLSTMConfig) (*LayerNormLSTM[T], error) {
	return rnn.NewLayerNormLSTM[T](inputSize, hiddenSize, cfg)
}
