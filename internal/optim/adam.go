package optim

import (
	"math"

	"github.com/strandml/strand/internal/rnn"
	"github.com/strandml/strand/internal/tensor"
)

// Adam implements the Adam (adaptive moment estimation) optimizer.
//
// Update rule:
//
//	m_t = beta1 * m_{t-1} + (1-beta1) * gradient       // first moment
//	v_t = beta2 * v_{t-1} + (1-beta2) * gradient²      // second moment
//	m_hat = m_t / (1 - beta1^t)                        // bias correction
//	v_hat = v_t / (1 - beta2^t)                        // bias correction
//	param = param - lr * m_hat / (sqrt(v_hat) + eps)
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014)
type Adam[T tensor.Float] struct {
	params []*rnn.Parameter
	lr     float64
	beta1  float64
	beta2  float64
	eps    float64
	t      int // timestep for bias correction
	m      map[*rnn.Parameter]*tensor.RawTensor
	v      map[*rnn.Parameter]*tensor.RawTensor
}

// AdamConfig holds configuration for the Adam optimizer.
type AdamConfig struct {
	LR    float64    // Learning rate (default: 0.001)
	Betas [2]float64 // Running average coefficients (default: [0.9, 0.999])
	Eps   float64    // Numerical stability term (default: 1e-8)
}

// NewAdam creates a new Adam optimizer over the given parameters.
func NewAdam[T tensor.Float](params []*rnn.Parameter, config AdamConfig) *Adam[T] {
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}
	return &Adam[T]{
		params: params,
		lr:     config.LR,
		beta1:  config.Betas[0],
		beta2:  config.Betas[1],
		eps:    config.Eps,
		m:      make(map[*rnn.Parameter]*tensor.RawTensor),
		v:      make(map[*rnn.Parameter]*tensor.RawTensor),
	}
}

// Step performs a single Adam update.
//
// Parameters with no accumulated gradient are skipped.
func (a *Adam[T]) Step() {
	a.t++
	biasCorrection1 := 1.0 - math.Pow(a.beta1, float64(a.t))
	biasCorrection2 := 1.0 - math.Pow(a.beta2, float64(a.t))

	for _, param := range a.params {
		grad := gradData[T](param)
		if grad == nil {
			continue
		}
		m, ok := a.m[param]
		if !ok {
			m = tensor.Zeros[T](param.Tensor().Shape(), param.Tensor().Device())
			a.m[param] = m
		}
		v, ok := a.v[param]
		if !ok {
			v = tensor.Zeros[T](param.Tensor().Shape(), param.Tensor().Device())
			a.v[param] = v
		}
		a.updateParameter(param, grad, m, v, biasCorrection1, biasCorrection2)
	}
}

func (a *Adam[T]) updateParameter(param *rnn.Parameter, grad []T, m, v *tensor.RawTensor, biasCorrection1, biasCorrection2 float64) {
	mData := tensor.Data[T](m)
	vData := tensor.Data[T](v)
	data := tensor.Data[T](param.Tensor())
	for i := range data {
		g := float64(grad[i])
		mi := a.beta1*float64(mData[i]) + (1.0-a.beta1)*g
		vi := a.beta2*float64(vData[i]) + (1.0-a.beta2)*g*g
		mData[i] = T(mi)
		vData[i] = T(vi)
		mHat := mi / biasCorrection1
		vHat := vi / biasCorrection2
		data[i] -= T(a.lr * mHat / (math.Sqrt(vHat) + a.eps))
	}
}

// ZeroGrad clears gradients for all parameters.
func (a *Adam[T]) ZeroGrad() {
	for _, param := range a.params {
		param.ZeroGrad()
	}
}

// GetLR returns the current learning rate.
func (a *Adam[T]) GetLR() float64 {
	return a.lr
}

// SetLR updates the learning rate. Useful for scheduling.
func (a *Adam[T]) SetLR(lr float64) {
	a.lr = lr
}

// GetTimestep returns the current timestep.
func (a *Adam[T]) GetTimestep() int {
	return a.t
}
