// Copyright 2025 Strand ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package optim

import (
	"github.com/strandml/strand/internal/optim"
	"github.com/strandml/strand/internal/rnn"
	"github.com/strandml/strand/tensor"
)

// Optimizer defines the common interface for all optimizers.
type Optimizer = optim.Optimizer

// SGD (stochastic gradient descent)

// SGD represents the SGD optimizer with optional momentum.
type SGD[T tensor.Float] = optim.SGD[T]

// SGDConfig contains configuration for the SGD optimizer.
type SGDConfig = optim.SGDConfig

// NewSGD creates a new SGD optimizer.
//
// Example:
//
//	layer, _ := rnn.NewGRU[float32](128, 256, rnn.GRUConfig{})
//	optimizer := optim.NewSGD[float32](layer.Parameters(), optim.SGDConfig{
//	    LR:       0.01,
//	    Momentum: 0.9,
//	})
func NewSGD[T tensor.Float](params []*rnn.Parameter, config SGDConfig) *SGD[T] {
	return optim.NewSGD[T](params, config)
}

// Adam (adaptive moment estimation)

// Adam represents the Adam optimizer.
type Adam[T tensor.Float] = optim.Adam[T]

// AdamConfig contains configuration for the Adam optimizer.
type AdamConfig = optim.AdamConfig

// NewAdam creates a new Adam optimizer with bias correction.
//
// Example:
//
//	optimizer := optim.NewAdam[float32](layer.Parameters(), optim.AdamConfig{
//	    LR: 0.001,
//	})
func NewAdam[T tensor.Float](params []*rnn.Parameter, config AdamConfig) *Adam[T] {
	return optim.NewAdam[T](params, config)
}
