// Package loss provides the classification loss placed after the network.
package loss

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/FlavioCFOliveira/deepconv/internal/activations"
	"github.com/FlavioCFOliveira/deepconv/internal/tensor"
)

// ErrInvalidTarget reports a class label outside [0, classes) or not integral.
var ErrInvalidTarget = errors.New("invalid target")

// eps keeps log() finite when a probability underflows to zero.
const eps = 1e-7

// SoftmaxWithLoss turns class scores into probabilities and measures their
// cross entropy against the targets.
//
// Targets are either class labels of shape (N) or one-hot rows of shape (N, K).
type SoftmaxWithLoss struct {
	// Saved state for backward pass
	y      *tensor.Tensor // softmax output (N, K)
	labels []int
	oneHot *tensor.Tensor
	loss   float64
}

// NewSoftmaxWithLoss creates the loss layer.
func NewSoftmaxWithLoss() *SoftmaxWithLoss {
	return &SoftmaxWithLoss{}
}

// Name returns the layer type.
func (s *SoftmaxWithLoss) Name() string { return "SoftmaxWithLoss" }

// Loss returns the value computed by the last Forward call.
func (s *SoftmaxWithLoss) Loss() float64 { return s.loss }

// Probabilities returns the softmax output of the last Forward call.
func (s *SoftmaxWithLoss) Probabilities() *tensor.Tensor { return s.y }

// Forward computes the mean cross-entropy of softmax(scores) against targets.
func (s *SoftmaxWithLoss) Forward(scores, targets *tensor.Tensor) (float64, error) {
	if scores.Rank() != 2 || scores.Rows() == 0 {
		return 0, &tensor.ShapeError{Op: "SoftmaxWithLoss.Forward", Want: tensor.Shape{-1, -1}, Got: scores.Shape()}
	}
	n, k := scores.Dim(0), scores.Dim(1)

	var oneHot *tensor.Tensor
	switch {
	case targets.Rank() == 2 && targets.Shape().Equal(scores.Shape()):
		oneHot = targets
	case targets.Rank() == 1 && targets.Dim(0) == n:
	default:
		return 0, &tensor.ShapeError{Op: "SoftmaxWithLoss.Forward", Want: tensor.Shape{n}, Got: targets.Shape()}
	}
	labels, err := Labels(targets, k)
	if err != nil {
		return 0, err
	}

	y := tensor.New(n, k)
	yd, sd := y.Data(), scores.Data()
	for r := 0; r < n; r++ {
		activations.Softmax(yd[r*k:(r+1)*k], sd[r*k:(r+1)*k])
	}

	s.y = y
	s.labels = labels
	s.oneHot = oneHot
	s.loss = CrossEntropyError(y, labels)
	return s.loss, nil
}

// Backward returns dL/dscores scaled by dout (1 for a plain backward pass).
func (s *SoftmaxWithLoss) Backward(dout float64) (*tensor.Tensor, error) {
	if s.y == nil {
		return nil, errors.New("loss: backward called before forward")
	}
	n, k := s.y.Dim(0), s.y.Dim(1)
	dx := s.y.Clone()
	dd := dx.Data()
	if s.oneHot != nil {
		floats.Sub(dd, s.oneHot.Data())
	} else {
		for r, label := range s.labels {
			dd[r*k+label]--
		}
	}
	floats.Scale(dout/float64(n), dd)
	return dx, nil
}

// CrossEntropyError returns -mean(log(y[i, label_i] + eps)).
func CrossEntropyError(y *tensor.Tensor, labels []int) float64 {
	k := y.Dim(1)
	yd := y.Data()
	sum := 0.0
	for r, label := range labels {
		sum += math.Log(yd[r*k+label] + eps)
	}
	return -sum / float64(len(labels))
}

// Labels converts targets to class indices. One-hot rows reduce to their argmax;
// label vectors must hold integral values in [0, classes).
func Labels(targets *tensor.Tensor, classes int) ([]int, error) {
	if targets.Rank() > 1 {
		return targets.RowArgmax()
	}
	labels := make([]int, targets.Len())
	for i, v := range targets.Data() {
		if v != math.Trunc(v) || v < 0 || int(v) >= classes {
			return nil, fmt.Errorf("loss: label %v at row %d: %w", v, i, ErrInvalidTarget)
		}
		labels[i] = int(v)
	}
	return labels, nil
}
