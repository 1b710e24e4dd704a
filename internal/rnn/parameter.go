package rnn

import (
	"github.com/strandml/strand/internal/tensor"
)

// Parameter is a learnable tensor of a recurrent layer together with
// its accumulated gradient.
//
// Gradients are written by the layer's Backward call and consumed by an
// optimizer; ZeroGrad should be called between training iterations to
// avoid mixing gradients across batches.
type Parameter struct {
	name string
	raw  *tensor.RawTensor
	grad *tensor.RawTensor
}

// NewParameter creates a parameter around an initialized tensor.
func NewParameter(name string, raw *tensor.RawTensor) *Parameter {
	return &Parameter{name: name, raw: raw}
}

// Name returns the parameter name (e.g. "recurrent_kernel").
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *tensor.RawTensor {
	return p.raw
}

// Grad returns the accumulated gradient, or nil before any backward.
func (p *Parameter) Grad() *tensor.RawTensor {
	return p.grad
}

// ZeroGrad clears the accumulated gradient.
func (p *Parameter) ZeroGrad() {
	p.grad = nil
}

// AccumulateGrad adds g into the parameter's gradient, adopting it
// directly when no gradient has been recorded yet.
func (p *Parameter) AccumulateGrad(g *tensor.RawTensor) {
	if p.grad == nil {
		p.grad = g
		return
	}
	addInto(p.grad, g)
}

// addInto computes dst += src elementwise for same-shape tensors.
func addInto(dst, src *tensor.RawTensor) {
	switch dst.DType() {
	case tensor.Float64:
		d := dst.AsFloat64()
		for i, v := range src.AsFloat64() {
			d[i] += v
		}
	default:
		d := dst.AsFloat32()
		for i, v := range src.AsFloat32() {
			d[i] += v
		}
	}
}
