package layer

import (
	"fmt"

	"github.com/FlavioCFOliveira/deepconv/internal/tensor"
)

// Pooling implements 2D max pooling over (N, C, H, W) input.
// Stores argmax indices for correct gradient flow during backward pass.
type Pooling struct {
	poolH   int
	poolW   int
	stride  int
	padding int

	// Saved state for backward pass
	inShape  tensor.Shape
	outShape tensor.Shape
	argmax   []int // flat input index of each output's max, -1 when it fell on padding
}

// NewPooling creates a max pooling layer.
// poolH, poolW: size of pooling window
// stride: stride for pooling
// padding: zero padding size
func NewPooling(poolH, poolW, stride, padding int) *Pooling {
	if poolH <= 0 || poolW <= 0 || stride <= 0 || padding < 0 {
		panic(fmt.Sprintf("layer: invalid pooling %dx%d stride %d padding %d", poolH, poolW, stride, padding))
	}
	return &Pooling{poolH: poolH, poolW: poolW, stride: stride, padding: padding}
}

// Name returns the layer type.
func (p *Pooling) Name() string { return "Pooling" }

// Forward takes the maximum of every window.
func (p *Pooling) Forward(x *tensor.Tensor, _ bool) (*tensor.Tensor, error) {
	if x.Rank() != 4 || x.Rows() == 0 {
		return nil, &tensor.ShapeError{Op: "Pooling.Forward", Want: tensor.Shape{-1, -1, -1, -1}, Got: x.Shape()}
	}
	n, ch, h, w := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)
	outH, outW := OutputSize(h, w, p.poolH, p.poolW, p.stride, p.padding)
	if outH <= 0 || outW <= 0 {
		return nil, &tensor.ShapeError{Op: "Pooling.Forward", Want: tensor.Shape{n, ch, p.poolH, p.poolW}, Got: x.Shape()}
	}

	out := tensor.New(n, ch, outH, outW)
	od, in := out.Data(), x.Data()
	argmax := make([]int, out.Len())

	pos := 0
	for plane := 0; plane < n*ch; plane++ {
		base := plane * h * w
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				best, bestIdx, seen := 0.0, -1, false
				for ky := 0; ky < p.poolH; ky++ {
					ih := oh*p.stride - p.padding + ky
					for kx := 0; kx < p.poolW; kx++ {
						iw := ow*p.stride - p.padding + kx
						// Padding counts as a zero entry with no input position.
						v, idx := 0.0, -1
						if ih >= 0 && ih < h && iw >= 0 && iw < w {
							idx = base + ih*w + iw
							v = in[idx]
						}
						if !seen || v > best {
							best, bestIdx, seen = v, idx, true
						}
					}
				}
				od[pos] = best
				argmax[pos] = bestIdx
				pos++
			}
		}
	}

	p.inShape = x.Shape()
	p.outShape = out.Shape()
	p.argmax = argmax
	return out, nil
}

// Backward routes each output gradient to the input position that won the max.
func (p *Pooling) Backward(dout *tensor.Tensor) (*tensor.Tensor, error) {
	if p.argmax == nil {
		return nil, ErrNoForward
	}
	if !dout.Shape().Equal(p.outShape) {
		return nil, &tensor.ShapeError{Op: "Pooling.Backward", Want: p.outShape, Got: dout.Shape()}
	}
	dx := tensor.New(p.inShape...)
	dxd, dd := dx.Data(), dout.Data()
	for i, idx := range p.argmax {
		if idx >= 0 {
			dxd[idx] += dd[i]
		}
	}
	return dx, nil
}
