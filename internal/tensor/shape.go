package tensor

import (
	"errors"
	"fmt"
)

// ErrShape is matched by every ShapeError.
var ErrShape = errors.New("shape mismatch")

// Shape represents the dimensions of a tensor.
type Shape []int

// NumElements returns the total number of elements.
func (s Shape) NumElements() int {
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Validate checks that no dimension is negative. Zero-sized batches are allowed
// so callers can report empty input themselves.
func (s Shape) Validate() error {
	for i, dim := range s {
		if dim < 0 {
			return fmt.Errorf("invalid dimension at index %d: %d (must be >= 0)", i, dim)
		}
	}
	return nil
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// ShapeError reports an operation that received a tensor it cannot reconcile.
// A -1 in Want means "any size".
type ShapeError struct {
	Op   string
	Want Shape
	Got  Shape
}

// Error implements the error interface.
func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: want shape %v, got %v", e.Op, []int(e.Want), []int(e.Got))
}

// Is makes errors.Is(err, ErrShape) hold for every ShapeError.
func (e *ShapeError) Is(target error) bool {
	return target == ErrShape
}
