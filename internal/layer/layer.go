// Package layer provides neural network layer implementations.
package layer

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/FlavioCFOliveira/deepconv/internal/param"
	"github.com/FlavioCFOliveira/deepconv/internal/tensor"
)

// ErrNoForward is returned by Backward when no forward pass has been cached.
var ErrNoForward = errors.New("backward called before forward")

// Layer is a neural network layer.
//
// Every layer receives the training flag; only layers whose behaviour differs
// between training and inference (Dropout) look at it.
type Layer interface {
	Forward(x *tensor.Tensor, train bool) (*tensor.Tensor, error)
	Backward(dout *tensor.Tensor) (*tensor.Tensor, error)
	Name() string
}

// Trainable is a layer that owns a weight and a bias and produces gradients for them.
type Trainable interface {
	Layer
	Weight() *param.Slot
	Bias() *param.Slot
	// Grads returns the gradients computed by the last Backward call.
	Grads() (dW, db *tensor.Tensor)
}

// Affine is a fully connected layer: out = x·W + b.
// Input of any rank is flattened to (N, features) first.
type Affine struct {
	w *param.Slot // (in, out)
	b *param.Slot // (out)

	// Saved state for backward pass
	inShape tensor.Shape
	x       *mat.Dense

	dW *tensor.Tensor
	db *tensor.Tensor
}

// NewAffine creates a fully connected layer reading its parameters from w and b.
func NewAffine(w, b *param.Slot) *Affine {
	ws, bs := w.Value().Shape(), b.Value().Shape()
	if len(ws) != 2 || len(bs) != 1 || bs[0] != ws[1] {
		panic(fmt.Sprintf("layer: affine weight %v and bias %v are incompatible", []int(ws), []int(bs)))
	}
	return &Affine{w: w, b: b}
}

// Name returns the layer type.
func (a *Affine) Name() string { return "Affine" }

// Weight returns the weight slot.
func (a *Affine) Weight() *param.Slot { return a.w }

// Bias returns the bias slot.
func (a *Affine) Bias() *param.Slot { return a.b }

// Grads returns the gradients of the last backward pass.
func (a *Affine) Grads() (*tensor.Tensor, *tensor.Tensor) { return a.dW, a.db }

// Forward computes x·W + b.
func (a *Affine) Forward(x *tensor.Tensor, _ bool) (*tensor.Tensor, error) {
	w := a.w.Value()
	in, out := w.Dim(0), w.Dim(1)
	if x.Rank() < 2 || x.Rows() == 0 || x.Len()/x.Rows() != in {
		return nil, &tensor.ShapeError{Op: "Affine.Forward", Want: tensor.Shape{-1, in}, Got: x.Shape()}
	}
	x2, err := x.Reshape(x.Rows(), in)
	if err != nil {
		return nil, err
	}
	xm, _ := x2.Matrix()
	wm, _ := w.Matrix()

	var y mat.Dense
	y.Mul(xm, wm)
	bias := a.b.Value().Data()
	for r := 0; r < x.Rows(); r++ {
		row := y.RawRowView(r)
		for o := 0; o < out; o++ {
			row[o] += bias[o]
		}
	}

	a.inShape = x.Shape()
	a.x = xm
	return tensor.FromMatrix(&y), nil
}

// Backward computes dx = dout·Wᵀ, dW = xᵀ·dout and db = Σ dout over the batch.
func (a *Affine) Backward(dout *tensor.Tensor) (*tensor.Tensor, error) {
	if a.x == nil {
		return nil, ErrNoForward
	}
	w := a.w.Value()
	rows, _ := a.x.Dims()
	if dout.Rank() != 2 || dout.Dim(0) != rows || dout.Dim(1) != w.Dim(1) {
		return nil, &tensor.ShapeError{Op: "Affine.Backward", Want: tensor.Shape{rows, w.Dim(1)}, Got: dout.Shape()}
	}
	dm, _ := dout.Matrix()
	wm, _ := w.Matrix()

	var dx, dW mat.Dense
	dx.Mul(dm, wm.T())
	dW.Mul(a.x.T(), dm)

	db := tensor.New(w.Dim(1))
	sumRows(db.Data(), dm)

	a.dW = tensor.FromMatrix(&dW)
	a.db = db
	return tensor.FromMatrix(&dx).Reshape(a.inShape...)
}

// sumRows accumulates the rows of m into dst.
func sumRows(dst []float64, m *mat.Dense) {
	rows, _ := m.Dims()
	for r := 0; r < rows; r++ {
		floats.Add(dst, m.RawRowView(r))
	}
}
