// Copyright 2025 Strand ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides optimization algorithms for training the
// recurrent layers.
//
// # Overview
//
// This package contains:
//   - SGD: stochastic gradient descent with momentum
//   - Adam: adaptive moment estimation with bias correction
//
// Optimizers read the gradients the layers accumulate during Backward
// and update parameters in place:
//
//	optimizer := optim.NewSGD[float32](layer.Parameters(), optim.SGDConfig{LR: 0.01})
//	for step := 0; step < steps; step++ {
//	    output, _ := layer.Forward(x, nil)
//	    layer.Backward(lossGrad(output), nil)
//	    optimizer.Step()
//	    optimizer.ZeroGrad()
//	}
package optim
