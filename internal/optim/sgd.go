package optim

import (
	"fmt"

	"github.com/strandml/strand/internal/rnn"
	"github.com/strandml/strand/internal/tensor"
)

// SGD implements stochastic gradient descent with optional momentum.
//
// Update rule without momentum:
//
//	param = param - lr * gradient
//
// Update rule with momentum:
//
//	velocity = momentum * velocity + gradient
//	param = param - lr * velocity
//
// Example:
//
//	optimizer := optim.NewSGD[float32](layer.Parameters(), optim.SGDConfig{
//	    LR:       0.01,
//	    Momentum: 0.9,
//	})
type SGD[T tensor.Float] struct {
	params     []*rnn.Parameter
	lr         float64
	momentum   float64
	velocities map[*rnn.Parameter]*tensor.RawTensor
}

// SGDConfig holds configuration for the SGD optimizer.
type SGDConfig struct {
	LR       float64 // Learning rate (default: 0.01)
	Momentum float64 // Momentum factor (default: 0.0, range: [0, 1))
}

// NewSGD creates a new SGD optimizer over the given parameters.
func NewSGD[T tensor.Float](params []*rnn.Parameter, config SGDConfig) *SGD[T] {
	if config.LR == 0 {
		config.LR = 0.01
	}
	return &SGD[T]{
		params:     params,
		lr:         config.LR,
		momentum:   config.Momentum,
		velocities: make(map[*rnn.Parameter]*tensor.RawTensor),
	}
}

// Step performs a single optimization step.
//
// Parameters with no accumulated gradient are skipped.
func (s *SGD[T]) Step() {
	for _, param := range s.params {
		grad := gradData[T](param)
		if grad == nil {
			continue
		}
		data := tensor.Data[T](param.Tensor())
		lr := T(s.lr)

		if s.momentum == 0 {
			for i := range data {
				data[i] -= lr * grad[i]
			}
			continue
		}

		velocity, ok := s.velocities[param]
		if !ok {
			velocity = tensor.Zeros[T](param.Tensor().Shape(), param.Tensor().Device())
			s.velocities[param] = velocity
		}
		vData := tensor.Data[T](velocity)
		mom := T(s.momentum)
		for i := range data {
			vData[i] = mom*vData[i] + grad[i]
			data[i] -= lr * vData[i]
		}
	}
}

// ZeroGrad clears gradients for all parameters.
func (s *SGD[T]) ZeroGrad() {
	for _, param := range s.params {
		param.ZeroGrad()
	}
}

// GetLR returns the current learning rate.
func (s *SGD[T]) GetLR() float64 {
	return s.lr
}

// SetLR updates the learning rate. Useful for scheduling.
func (s *SGD[T]) SetLR(lr float64) {
	s.lr = lr
}

// StateDict returns the optimizer state for serialization.
//
// For SGD with momentum this exports the velocity buffer of each
// parameter, keyed "velocity.{param_index}". Without momentum the map
// is empty.
func (s *SGD[T]) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor)
	if s.momentum == 0 {
		return stateDict
	}
	for i, param := range s.params {
		velocity, ok := s.velocities[param]
		if !ok {
			continue
		}
		stateDict[fmt.Sprintf("velocity.%d", i)] = velocity
	}
	return stateDict
}

// LoadStateDict restores velocity buffers saved by StateDict. Missing
// entries are initialized lazily on the next Step. Returns an error if
// a velocity shape does not match its parameter.
func (s *SGD[T]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	if s.momentum == 0 {
		return nil
	}
	s.velocities = make(map[*rnn.Parameter]*tensor.RawTensor)
	for i, param := range s.params {
		velocity, ok := stateDict[fmt.Sprintf("velocity.%d", i)]
		if !ok {
			continue
		}
		if !velocity.Shape().Equal(param.Tensor().Shape()) {
			return fmt.Errorf("velocity shape mismatch for parameter %d: expected %v, got %v",
				i, param.Tensor().Shape(), velocity.Shape())
		}
		s.velocities[param] = velocity
	}
	return nil
}
