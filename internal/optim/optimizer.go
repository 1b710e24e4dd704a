// Package optim implements gradient descent algorithms for training
// recurrent layers.
//
// This package provides:
//   - Optimizer interface: base interface for all optimizers
//   - SGD: stochastic gradient descent with momentum
//   - Adam: adaptive moment estimation
//
// Optimizers read the gradients accumulated on each parameter by the
// layer backward passes and update the parameter data in place.
//
// Example usage:
//
//	optimizer := optim.NewSGD[float32](layer.Parameters(), optim.SGDConfig{
//	    LR: 0.01,
//	})
//
//	for step := range steps {
//	    output, _ := layer.Forward(input, nil)
//	    layer.Backward(lossGrad(output), nil)
//	    optimizer.Step()
//	    optimizer.ZeroGrad()
//	}
package optim

import (
	"github.com/strandml/strand/internal/rnn"
	"github.com/strandml/strand/internal/tensor"
)

// Optimizer is the base interface for all optimization algorithms.
type Optimizer interface {
	// Step applies one update to all parameters from their accumulated
	// gradients. Parameters with no gradient are skipped.
	Step()

	// ZeroGrad clears all parameter gradients. Call between training
	// iterations so the next backward pass accumulates from zero.
	ZeroGrad()

	// GetLR returns the current learning rate.
	GetLR() float64
}

// gradData returns the accumulated gradient of a parameter, or nil when
// the parameter took no part in the last backward pass.
func gradData[T tensor.Float](param *rnn.Parameter) []T {
	if param == nil {
		return nil
	}
	grad := param.Grad()
	if grad == nil || grad.IsEmpty() {
		return nil
	}
	return tensor.Data[T](grad)
}
