package layer

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/FlavioCFOliveira/deepconv/internal/param"
	"github.com/FlavioCFOliveira/deepconv/internal/tensor"
)

// Convolution implements a 2D convolutional layer over (N, C, H, W) input.
// The input is unrolled with im2col and multiplied by the reshaped filters.
type Convolution struct {
	w *param.Slot // (FN, C, FH, FW)
	b *param.Slot // (FN)

	stride  int
	padding int

	// Saved state for backward pass
	inShape tensor.Shape
	outH    int
	outW    int
	col     *mat.Dense // (N*OH*OW, C*FH*FW)

	dW *tensor.Tensor
	db *tensor.Tensor
}

// NewConvolution creates a convolutional layer reading its filters from w and b.
// stride: stride for convolution
// padding: zero padding size
func NewConvolution(w, b *param.Slot, stride, padding int) *Convolution {
	ws, bs := w.Value().Shape(), b.Value().Shape()
	if len(ws) != 4 || len(bs) != 1 || bs[0] != ws[0] {
		panic(fmt.Sprintf("layer: convolution weight %v and bias %v are incompatible", []int(ws), []int(bs)))
	}
	if stride <= 0 || padding < 0 {
		panic(fmt.Sprintf("layer: invalid convolution stride %d / padding %d", stride, padding))
	}
	return &Convolution{w: w, b: b, stride: stride, padding: padding}
}

// Name returns the layer type.
func (c *Convolution) Name() string { return "Convolution" }

// Weight returns the filter slot.
func (c *Convolution) Weight() *param.Slot { return c.w }

// Bias returns the bias slot.
func (c *Convolution) Bias() *param.Slot { return c.b }

// Grads returns the gradients of the last backward pass.
func (c *Convolution) Grads() (*tensor.Tensor, *tensor.Tensor) { return c.dW, c.db }

// Stride returns the stride.
func (c *Convolution) Stride() int { return c.stride }

// Padding returns the padding.
func (c *Convolution) Padding() int { return c.padding }

// OutputSize calculates the output spatial dimensions for an input of h×w.
// A kernel larger than the padded input yields 0.
func OutputSize(h, w, kh, kw, stride, padding int) (int, int) {
	return outputDim(h, kh, stride, padding), outputDim(w, kw, stride, padding)
}

func outputDim(in, k, stride, padding int) int {
	// Output size: (input + 2*padding - kernel) / stride + 1
	span := in + 2*padding - k
	if span < 0 {
		return 0
	}
	return span/stride + 1
}

// Forward convolves x with the current filters.
// x: (N, C, H, W); returns (N, FN, OH, OW).
func (c *Convolution) Forward(x *tensor.Tensor, _ bool) (*tensor.Tensor, error) {
	w := c.w.Value()
	fn, ch, fh, fw := w.Dim(0), w.Dim(1), w.Dim(2), w.Dim(3)
	if x.Rank() != 4 || x.Dim(1) != ch || x.Rows() == 0 {
		return nil, &tensor.ShapeError{Op: "Convolution.Forward", Want: tensor.Shape{-1, ch, -1, -1}, Got: x.Shape()}
	}
	n, h, wd := x.Dim(0), x.Dim(2), x.Dim(3)
	outH, outW := OutputSize(h, wd, fh, fw, c.stride, c.padding)
	if outH <= 0 || outW <= 0 {
		return nil, &tensor.ShapeError{Op: "Convolution.Forward", Want: tensor.Shape{-1, ch, fh - 2*c.padding, fw - 2*c.padding}, Got: x.Shape()}
	}

	colWidth := ch * fh * fw
	colHeight := n * outH * outW
	col := mat.NewDense(colHeight, colWidth, nil)
	im2col(col.RawMatrix().Data, x.Data(), n, ch, h, wd, fh, fw, outH, outW, c.stride, c.padding)

	filters := mat.NewDense(fn, colWidth, w.Data())
	var prod mat.Dense
	prod.Mul(col, filters.T())

	// Rearrange (N*OH*OW, FN) into (N, FN, OH, OW) and add bias.
	bias := c.b.Value().Data()
	out := tensor.New(n, fn, outH, outW)
	od := out.Data()
	spatial := outH * outW
	for r := 0; r < colHeight; r++ {
		img, pos := r/spatial, r%spatial
		row := prod.RawRowView(r)
		for f := 0; f < fn; f++ {
			od[(img*fn+f)*spatial+pos] = row[f] + bias[f]
		}
	}

	c.inShape = x.Shape()
	c.outH, c.outW = outH, outW
	c.col = col
	return out, nil
}

// Backward computes the input gradient and stores dW and db.
// dout: (N, FN, OH, OW)
func (c *Convolution) Backward(dout *tensor.Tensor) (*tensor.Tensor, error) {
	if c.col == nil {
		return nil, ErrNoForward
	}
	w := c.w.Value()
	fn, ch, fh, fw := w.Dim(0), w.Dim(1), w.Dim(2), w.Dim(3)
	n, h, wd := c.inShape[0], c.inShape[2], c.inShape[3]
	want := tensor.Shape{n, fn, c.outH, c.outW}
	if !dout.Shape().Equal(want) {
		return nil, &tensor.ShapeError{Op: "Convolution.Backward", Want: want, Got: dout.Shape()}
	}

	// Rearrange (N, FN, OH, OW) into (N*OH*OW, FN).
	spatial := c.outH * c.outW
	colHeight := n * spatial
	d2 := mat.NewDense(colHeight, fn, nil)
	dd := dout.Data()
	for r := 0; r < colHeight; r++ {
		img, pos := r/spatial, r%spatial
		row := d2.RawRowView(r)
		for f := 0; f < fn; f++ {
			row[f] = dd[(img*fn+f)*spatial+pos]
		}
	}

	db := tensor.New(fn)
	sumRows(db.Data(), d2)

	var dW mat.Dense
	dW.Mul(d2.T(), c.col)
	dWt, err := tensor.FromMatrix(&dW).Reshape(fn, ch, fh, fw)
	if err != nil {
		return nil, err
	}

	filters := mat.NewDense(fn, ch*fh*fw, w.Data())
	var dcol mat.Dense
	dcol.Mul(d2, filters)

	dx := tensor.New(n, ch, h, wd)
	col2im(dx.Data(), dcol.RawMatrix().Data, n, ch, h, wd, fh, fw, c.outH, c.outW, c.stride, c.padding)

	c.dW = dWt
	c.db = db
	return dx, nil
}

// im2col unrolls every receptive field of input into one row of colBuf.
// Rows are ordered (n, oh, ow); columns (c, kh, kw). Padding reads as zero.
func im2col(colBuf, input []float64, n, ch, h, w, kh, kw, outH, outW, stride, padding int) {
	colWidth := ch * kh * kw
	colIdx := 0
	for img := 0; img < n; img++ {
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				hStart := oh*stride - padding
				wStart := ow*stride - padding
				bufIdx := colIdx * colWidth
				for c := 0; c < ch; c++ {
					for y := 0; y < kh; y++ {
						for x := 0; x < kw; x++ {
							ih, iw := hStart+y, wStart+x
							if ih >= 0 && ih < h && iw >= 0 && iw < w {
								colBuf[bufIdx] = input[((img*ch+c)*h+ih)*w+iw]
							} else {
								colBuf[bufIdx] = 0
							}
							bufIdx++
						}
					}
				}
				colIdx++
			}
		}
	}
}

// col2im is the adjoint of im2col: it scatters column gradients back onto the
// input grid, summing overlapping receptive fields and dropping padding.
func col2im(dst, colBuf []float64, n, ch, h, w, kh, kw, outH, outW, stride, padding int) {
	colWidth := ch * kh * kw
	colIdx := 0
	for img := 0; img < n; img++ {
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				hStart := oh*stride - padding
				wStart := ow*stride - padding
				bufIdx := colIdx * colWidth
				for c := 0; c < ch; c++ {
					for y := 0; y < kh; y++ {
						for x := 0; x < kw; x++ {
							ih, iw := hStart+y, wStart+x
							if ih >= 0 && ih < h && iw >= 0 && iw < w {
								dst[((img*ch+c)*h+ih)*w+iw] += colBuf[bufIdx]
							}
							bufIdx++
						}
					}
				}
				colIdx++
			}
		}
	}
}
