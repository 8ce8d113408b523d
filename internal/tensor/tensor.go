// Package tensor provides the dense float64 array shared by layers and parameters.
package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Tensor is a row-major multi-dimensional array of float64 values.
type Tensor struct {
	shape Shape
	data  []float64
}

// New returns a zero-filled tensor with the given shape.
func New(shape ...int) *Tensor {
	s := Shape(shape).Clone()
	if err := s.Validate(); err != nil {
		panic(fmt.Sprintf("tensor.New: %v", err))
	}
	return &Tensor{shape: s, data: make([]float64, s.NumElements())}
}

// Zeros is an alias of New kept for readability at call sites.
func Zeros(shape ...int) *Tensor {
	return New(shape...)
}

// FromSlice wraps data in a tensor of the given shape. The slice is not copied.
func FromSlice(data []float64, shape ...int) (*Tensor, error) {
	s := Shape(shape).Clone()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.NumElements() != len(data) {
		return nil, &ShapeError{Op: "FromSlice", Want: s, Got: Shape{len(data)}}
	}
	return &Tensor{shape: s, data: data}, nil
}

// Must panics if err is non-nil and returns t otherwise.
func Must(t *Tensor, err error) *Tensor {
	if err != nil {
		panic(err)
	}
	return t
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() Shape {
	return t.shape.Clone()
}

// Dim returns the size of dimension i.
func (t *Tensor) Dim(i int) int {
	return t.shape[i]
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	return len(t.shape)
}

// Len returns the number of elements.
func (t *Tensor) Len() int {
	return len(t.data)
}

// Data returns the underlying storage. Writes are visible to every holder of t.
func (t *Tensor) Data() []float64 {
	return t.data
}

// Rows returns the size of the leading (batch) dimension.
func (t *Tensor) Rows() int {
	if len(t.shape) == 0 {
		return 1
	}
	return t.shape[0]
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	data := make([]float64, len(t.data))
	copy(data, t.data)
	return &Tensor{shape: t.shape.Clone(), data: data}
}

// Reshape returns a tensor sharing t's storage with a new shape.
// A single -1 dimension is inferred from the element count.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	s := Shape(shape).Clone()
	infer := -1
	known := 1
	for i, d := range s {
		if d == -1 {
			if infer >= 0 {
				return nil, &ShapeError{Op: "Reshape", Want: s, Got: t.shape}
			}
			infer = i
			continue
		}
		known *= d
	}
	if infer >= 0 {
		if known == 0 || len(t.data)%known != 0 {
			return nil, &ShapeError{Op: "Reshape", Want: s, Got: t.shape}
		}
		s[infer] = len(t.data) / known
	}
	if err := s.Validate(); err != nil || s.NumElements() != len(t.data) {
		return nil, &ShapeError{Op: "Reshape", Want: s, Got: t.shape}
	}
	return &Tensor{shape: s, data: t.data}, nil
}

// CopyFrom overwrites t's values with src's. Shapes must match exactly.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if !t.shape.Equal(src.shape) {
		return &ShapeError{Op: "CopyFrom", Want: t.shape, Got: src.shape}
	}
	copy(t.data, src.data)
	return nil
}

// Equal reports whether both tensors have the same shape and bit-identical values.
func (t *Tensor) Equal(o *Tensor) bool {
	if !t.shape.Equal(o.shape) {
		return false
	}
	for i, v := range t.data {
		if math.Float64bits(v) != math.Float64bits(o.data[i]) {
			return false
		}
	}
	return true
}

// Slice returns rows [start, end) of the leading dimension, sharing storage.
func (t *Tensor) Slice(start, end int) (*Tensor, error) {
	if len(t.shape) == 0 || start < 0 || end > t.shape[0] || start >= end {
		return nil, fmt.Errorf("tensor: slice [%d:%d] out of range for shape %v: %w", start, end, t.shape, ErrShape)
	}
	rowLen := len(t.data) / t.shape[0]
	s := t.shape.Clone()
	s[0] = end - start
	return &Tensor{shape: s, data: t.data[start*rowLen : end*rowLen]}, nil
}

// RowArgmax returns, for each row of a rank-2 tensor, the index of its largest value.
func (t *Tensor) RowArgmax() ([]int, error) {
	if len(t.shape) != 2 || t.shape[1] == 0 {
		return nil, &ShapeError{Op: "RowArgmax", Want: Shape{-1, -1}, Got: t.shape}
	}
	rows, cols := t.shape[0], t.shape[1]
	idx := make([]int, rows)
	for r := 0; r < rows; r++ {
		idx[r] = floats.MaxIdx(t.data[r*cols : (r+1)*cols])
	}
	return idx, nil
}

// Matrix returns a gonum view over a rank-2 tensor. The view shares storage.
func (t *Tensor) Matrix() (*mat.Dense, error) {
	if len(t.shape) != 2 {
		return nil, &ShapeError{Op: "Matrix", Want: Shape{-1, -1}, Got: t.shape}
	}
	return mat.NewDense(t.shape[0], t.shape[1], t.data), nil
}

// FromMatrix wraps the storage of a dense matrix into a rank-2 tensor.
func FromMatrix(m *mat.Dense) *Tensor {
	raw := m.RawMatrix()
	if raw.Stride == raw.Cols {
		return &Tensor{shape: Shape{raw.Rows, raw.Cols}, data: raw.Data[:raw.Rows*raw.Cols]}
	}
	out := New(raw.Rows, raw.Cols)
	for r := 0; r < raw.Rows; r++ {
		copy(out.data[r*raw.Cols:(r+1)*raw.Cols], raw.Data[r*raw.Stride:r*raw.Stride+raw.Cols])
	}
	return out
}

// String implements fmt.Stringer with a short summary.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", []int(t.shape))
}
