// Package opt provides optimization algorithms.
//
// Optimizers update a parameter mapping in place from a gradient mapping with
// the same keys, so the network sees new values without any rewiring.
package opt

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/FlavioCFOliveira/deepconv/internal/param"
)

// Optimizer updates network parameters based on gradients.
type Optimizer interface {
	// Update applies one step: params are modified in place.
	Update(params, grads param.Mapping) error

	LearningRate() float64
	SetLearningRate(lr float64)
}

// checkPair verifies that every parameter has a gradient of the same length.
func checkPair(params, grads param.Mapping) error {
	for _, k := range params.Keys() {
		g, ok := grads[k]
		if !ok {
			return fmt.Errorf("opt: no gradient for %q: %w", k, param.ErrParameterMismatch)
		}
		if g.Len() != params[k].Len() {
			return fmt.Errorf("opt: gradient %q has %d elements, want %d: %w", k, g.Len(), params[k].Len(), param.ErrParameterMismatch)
		}
	}
	return nil
}

// SGD (Stochastic Gradient Descent) optimizer.
type SGD struct {
	LR float64
}

// NewSGD creates an SGD optimizer.
func NewSGD(lr float64) *SGD {
	return &SGD{LR: lr}
}

// Update applies params -= lr * grads.
func (s *SGD) Update(params, grads param.Mapping) error {
	if err := checkPair(params, grads); err != nil {
		return err
	}
	for k, p := range params {
		floats.AddScaled(p.Data(), -s.LR, grads[k].Data())
	}
	return nil
}

// LearningRate returns the current learning rate.
func (s *SGD) LearningRate() float64 { return s.LR }

// SetLearningRate sets the learning rate.
func (s *SGD) SetLearningRate(lr float64) { s.LR = lr }

// Momentum is SGD with a velocity term.
type Momentum struct {
	LR       float64
	Momentum float64

	v map[string][]float64
}

// NewMomentum creates a momentum optimizer.
func NewMomentum(lr, momentum float64) *Momentum {
	return &Momentum{LR: lr, Momentum: momentum}
}

// Update applies v = momentum*v - lr*g; p += v.
func (m *Momentum) Update(params, grads param.Mapping) error {
	if err := checkPair(params, grads); err != nil {
		return err
	}
	if m.v == nil {
		m.v = make(map[string][]float64, len(params))
	}
	for k, p := range params {
		v, ok := m.v[k]
		if !ok {
			v = make([]float64, p.Len())
			m.v[k] = v
		}
		floats.Scale(m.Momentum, v)
		floats.AddScaled(v, -m.LR, grads[k].Data())
		floats.Add(p.Data(), v)
	}
	return nil
}

// LearningRate returns the current learning rate.
func (m *Momentum) LearningRate() float64 { return m.LR }

// SetLearningRate sets the learning rate.
func (m *Momentum) SetLearningRate(lr float64) { m.LR = lr }

// Adam optimizer for faster convergence.
type Adam struct {
	LR      float64
	Beta1   float64 // Exponential decay rate for first moment
	Beta2   float64 // Exponential decay rate for second moment
	Epsilon float64 // Small constant for numerical stability

	iter int
	m    map[string][]float64
	v    map[string][]float64
}

// NewAdam creates a new Adam optimizer with default values.
func NewAdam(lr float64) *Adam {
	return &Adam{
		LR:      lr,
		Beta1:   0.9,
		Beta2:   0.999,
		Epsilon: 1e-7,
	}
}

// Update applies one bias-corrected Adam step.
func (a *Adam) Update(params, grads param.Mapping) error {
	if err := checkPair(params, grads); err != nil {
		return err
	}
	if a.m == nil {
		a.m = make(map[string][]float64, len(params))
		a.v = make(map[string][]float64, len(params))
	}
	a.iter++
	t := float64(a.iter)
	lrT := a.LR * math.Sqrt(1-math.Pow(a.Beta2, t)) / (1 - math.Pow(a.Beta1, t))

	for k, p := range params {
		m, ok := a.m[k]
		if !ok {
			m = make([]float64, p.Len())
			a.m[k] = m
			a.v[k] = make([]float64, p.Len())
		}
		v := a.v[k]
		pd, g := p.Data(), grads[k].Data()
		for i := range pd {
			m[i] += (1 - a.Beta1) * (g[i] - m[i])
			v[i] += (1 - a.Beta2) * (g[i]*g[i] - v[i])
			pd[i] -= lrT * m[i] / (math.Sqrt(v[i]) + a.Epsilon)
		}
	}
	return nil
}

// LearningRate returns the current learning rate.
func (a *Adam) LearningRate() float64 { return a.LR }

// SetLearningRate sets the learning rate.
func (a *Adam) SetLearningRate(lr float64) { a.LR = lr }

// New returns an optimizer by name: "sgd", "momentum" or "adam".
func New(name string, lr float64) (Optimizer, error) {
	switch name {
	case "sgd", "SGD":
		return NewSGD(lr), nil
	case "momentum", "Momentum":
		return NewMomentum(lr, 0.9), nil
	case "adam", "Adam":
		return NewAdam(lr), nil
	default:
		return nil, fmt.Errorf("opt: unknown optimizer %q", name)
	}
}
