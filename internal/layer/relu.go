package layer

import (
	"github.com/FlavioCFOliveira/deepconv/internal/activations"
	"github.com/FlavioCFOliveira/deepconv/internal/tensor"
)

// ReLU applies the rectified linear unit elementwise.
type ReLU struct {
	act activations.ReLU

	// Saved input for backward pass
	savedInput *tensor.Tensor
}

// NewReLU creates a ReLU layer.
func NewReLU() *ReLU {
	return &ReLU{}
}

// Name returns the layer type.
func (r *ReLU) Name() string { return "ReLU" }

// Forward computes max(0, x).
func (r *ReLU) Forward(x *tensor.Tensor, _ bool) (*tensor.Tensor, error) {
	out := tensor.New(x.Shape()...)
	od := out.Data()
	for i, v := range x.Data() {
		od[i] = r.act.Activate(v)
	}
	r.savedInput = x
	return out, nil
}

// Backward passes the gradient where the input was positive.
func (r *ReLU) Backward(dout *tensor.Tensor) (*tensor.Tensor, error) {
	if r.savedInput == nil {
		return nil, ErrNoForward
	}
	if !dout.Shape().Equal(r.savedInput.Shape()) {
		return nil, &tensor.ShapeError{Op: "ReLU.Backward", Want: r.savedInput.Shape(), Got: dout.Shape()}
	}
	dx := tensor.New(dout.Shape()...)
	dxd, in := dx.Data(), r.savedInput.Data()
	for i, g := range dout.Data() {
		dxd[i] = g * r.act.Derivative(in[i])
	}
	return dx, nil
}
