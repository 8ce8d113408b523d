// Package activations provides elementwise activation functions and the
// row-wise softmax used by the classifier head.
package activations

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Activation is an activation function with derivative.
type Activation interface {
	// Activate computes f(x)
	Activate(x float64) float64

	// Derivative computes f'(x)
	Derivative(x float64) float64
}

// ReLU activation function.
type ReLU struct{}

// Activate computes max(0, x)
func (r ReLU) Activate(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

// Derivative returns 1 if x > 0, else 0
func (r ReLU) Derivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

// Softmax writes softmax(x) into dst. dst and x may alias.
// The row maximum is subtracted first for numerical stability.
func Softmax(dst, x []float64) []float64 {
	maxVal := floats.Max(x)
	for i, v := range x {
		dst[i] = math.Exp(v - maxVal)
	}
	floats.Scale(1/floats.Sum(dst[:len(x)]), dst[:len(x)])
	return dst[:len(x)]
}
