package checkpoint

import (
	"fmt"

	"github.com/strandml/strand/internal/rnn"
	"github.com/strandml/strand/internal/tensor"
)

// StateDict collects the parameters of a layer into a name-to-tensor
// map suitable for Save.
func StateDict(params []*rnn.Parameter) map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor, len(params))
	for _, p := range params {
		stateDict[p.Name()] = p.Tensor()
	}
	return stateDict
}

// Restore copies saved tensors back into the given parameters.
//
// Every parameter must be present in the state dictionary with a
// matching shape and dtype; extra entries are ignored.
func Restore(params []*rnn.Parameter, stateDict map[string]*tensor.RawTensor) error {
	for _, p := range params {
		saved, ok := stateDict[p.Name()]
		if !ok {
			return fmt.Errorf("%w: %q", ErrTensorMissing, p.Name())
		}
		dst := p.Tensor()
		if saved.DType() != dst.DType() {
			return fmt.Errorf("tensor %q: dtype %s does not match parameter dtype %s",
				p.Name(), saved.DType(), dst.DType())
		}
		if !saved.Shape().Equal(dst.Shape()) {
			return fmt.Errorf("tensor %q: shape %v does not match parameter shape %v",
				p.Name(), saved.Shape(), dst.Shape())
		}
		copy(dst.Bytes(), saved.Bytes())
	}
	return nil
}
