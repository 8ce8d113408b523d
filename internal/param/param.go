// Package param owns the named trainable tensors of a network.
//
// Layers never keep a tensor of their own: they hold a *Slot from the Store and
// read its value on every pass. Loading or optimizing parameters therefore
// only has to touch the Store.
package param

import (
	"errors"
	"fmt"
	"sort"

	"github.com/FlavioCFOliveira/deepconv/internal/tensor"
)

// ErrParameterMismatch is matched by every MismatchError.
var ErrParameterMismatch = errors.New("parameter mismatch")

// Mapping maps a logical parameter name ("W1", "b1", ...) to its tensor.
type Mapping map[string]*tensor.Tensor

// Keys returns the mapping's names in sorted order.
func (m Mapping) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Slot is a named, shared reference to one parameter tensor.
type Slot struct {
	name  string
	value *tensor.Tensor
}

// Name returns the slot's logical name.
func (s *Slot) Name() string {
	return s.name
}

// Value returns the current tensor. Callers may mutate it in place.
func (s *Slot) Value() *tensor.Tensor {
	return s.value
}

// Store is an insertion-ordered set of parameter slots.
type Store struct {
	order []string
	slots map[string]*Slot
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{slots: make(map[string]*Slot)}
}

// Add registers t under name and returns its slot. Adding a name twice panics:
// names are fixed by the architecture and a duplicate is a programming error.
func (s *Store) Add(name string, t *tensor.Tensor) *Slot {
	if _, ok := s.slots[name]; ok {
		panic(fmt.Sprintf("param: duplicate parameter %q", name))
	}
	slot := &Slot{name: name, value: t}
	s.slots[name] = slot
	s.order = append(s.order, name)
	return slot
}

// Slot returns the slot registered under name, or nil.
func (s *Store) Slot(name string) *Slot {
	return s.slots[name]
}

// Names returns parameter names in registration order.
func (s *Store) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of parameters.
func (s *Store) Len() int {
	return len(s.order)
}

// NumElements returns the total number of scalar parameters.
func (s *Store) NumElements() int {
	n := 0
	for _, name := range s.order {
		n += s.slots[name].value.Len()
	}
	return n
}

// Mapping returns the live tensors keyed by name. The map is new but the
// tensors are shared, so in-place updates through it reach every layer.
func (s *Store) Mapping() Mapping {
	m := make(Mapping, len(s.order))
	for _, name := range s.order {
		m[name] = s.slots[name].value
	}
	return m
}

// Check verifies that m has exactly the store's keys and shapes.
func (s *Store) Check(m Mapping) error {
	for _, name := range s.order {
		t, ok := m[name]
		if !ok {
			return &MismatchError{Key: name, Reason: "missing"}
		}
		if t == nil {
			return &MismatchError{Key: name, Reason: "nil tensor"}
		}
		want := s.slots[name].value.Shape()
		if !want.Equal(t.Shape()) {
			return &MismatchError{Key: name, Reason: fmt.Sprintf("shape %v, want %v", []int(t.Shape()), []int(want))}
		}
	}
	for _, name := range m.Keys() {
		if _, ok := s.slots[name]; !ok {
			return &MismatchError{Key: name, Reason: "unexpected"}
		}
	}
	return nil
}

// Assign copies every tensor of m into the store's tensors in place.
// Nothing is written unless m passes Check.
func (s *Store) Assign(m Mapping) error {
	if err := s.Check(m); err != nil {
		return err
	}
	for _, name := range s.order {
		if err := s.slots[name].value.CopyFrom(m[name]); err != nil {
			return err
		}
	}
	return nil
}

// MismatchError reports a mapping that does not fit the store.
type MismatchError struct {
	Key    string
	Reason string
}

// Error implements the error interface.
func (e *MismatchError) Error() string {
	return fmt.Sprintf("parameter %q: %s", e.Key, e.Reason)
}

// Is makes errors.Is(err, ErrParameterMismatch) hold.
func (e *MismatchError) Is(target error) bool {
	return target == ErrParameterMismatch
}
