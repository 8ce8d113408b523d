package layer

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/FlavioCFOliveira/deepconv/internal/tensor"
)

// Dropout implements dropout regularization.
// During training, each input is kept when a uniform draw exceeds the ratio and
// zeroed otherwise. During inference every input is scaled by (1 - ratio), so
// the expected activation matches training.
type Dropout struct {
	// Probability of dropping a neuron
	ratio float64

	// RNG for dropout masks
	rng *rand.Rand

	// Saved state for backward pass
	mask     []float64
	shape    tensor.Shape
	training bool
	ready    bool
}

// NewDropout creates a new dropout layer.
// ratio is the probability of dropping a neuron; seed fixes the mask sequence.
func NewDropout(ratio float64, seed uint64) *Dropout {
	if ratio < 0 || ratio >= 1 {
		panic(fmt.Sprintf("layer: dropout ratio %v outside [0, 1)", ratio))
	}
	return &Dropout{
		ratio: ratio,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// Name returns the layer type.
func (d *Dropout) Name() string { return "Dropout" }

// Ratio returns the dropout probability.
func (d *Dropout) Ratio() float64 { return d.ratio }

// Forward masks x when train is set and scales it otherwise.
func (d *Dropout) Forward(x *tensor.Tensor, train bool) (*tensor.Tensor, error) {
	out := tensor.New(x.Shape()...)
	od, in := out.Data(), x.Data()

	if !train {
		keep := 1 - d.ratio
		for i, v := range in {
			od[i] = v * keep
		}
	} else {
		if cap(d.mask) < len(in) {
			d.mask = make([]float64, len(in))
		}
		d.mask = d.mask[:len(in)]
		for i, v := range in {
			if d.rng.Float64() > d.ratio {
				d.mask[i] = 1
				od[i] = v
			} else {
				d.mask[i] = 0
				od[i] = 0
			}
		}
	}

	d.shape = x.Shape()
	d.training = train
	d.ready = true
	return out, nil
}

// Backward applies the same mask (or scale) used by the last forward pass.
func (d *Dropout) Backward(dout *tensor.Tensor) (*tensor.Tensor, error) {
	if !d.ready {
		return nil, ErrNoForward
	}
	if !dout.Shape().Equal(d.shape) {
		return nil, &tensor.ShapeError{Op: "Dropout.Backward", Want: d.shape, Got: dout.Shape()}
	}
	dx := tensor.New(d.shape...)
	dxd := dx.Data()
	if !d.training {
		keep := 1 - d.ratio
		for i, g := range dout.Data() {
			dxd[i] = g * keep
		}
		return dx, nil
	}
	for i, g := range dout.Data() {
		dxd[i] = g * d.mask[i]
	}
	return dx, nil
}
