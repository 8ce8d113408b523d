package net

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/FlavioCFOliveira/deepconv/internal/param"
	"github.com/FlavioCFOliveira/deepconv/internal/tensor"
)

// paramsVersion is bumped whenever the encoded layout changes.
const paramsVersion = 1

// savedTensor is the gob form of one named parameter.
type savedTensor struct {
	Name  string
	Shape []int
	Data  []float64
}

// savedParams is the gob form of a whole parameter mapping.
type savedParams struct {
	Version int
	Tensors []savedTensor
}

// SaveParams writes every parameter to path, replacing any existing file.
func (n *Network) SaveParams(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := n.Encode(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// LoadParams reads parameters from path into the network. The file must hold
// exactly this network's names and shapes; otherwise nothing is changed.
func (n *Network) LoadParams(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return n.Decode(file)
}

// Encode writes the parameters to an io.Writer using gob encoding.
func (n *Network) Encode(w io.Writer) error {
	sp := savedParams{Version: paramsVersion}
	for _, name := range n.params.Names() {
		t := n.params.Slot(name).Value()
		sp.Tensors = append(sp.Tensors, savedTensor{
			Name:  name,
			Shape: t.Shape(),
			Data:  t.Data(),
		})
	}
	if err := gob.NewEncoder(w).Encode(sp); err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}
	return nil
}

// Decode reads parameters written by Encode and copies them into the
// network's tensors in place. Layers see the new values immediately.
func (n *Network) Decode(r io.Reader) error {
	var sp savedParams
	if err := gob.NewDecoder(r).Decode(&sp); err != nil {
		return fmt.Errorf("failed to decode params: %w", err)
	}
	if sp.Version != paramsVersion {
		return fmt.Errorf("unsupported params version %d", sp.Version)
	}

	m := make(param.Mapping, len(sp.Tensors))
	for _, st := range sp.Tensors {
		if _, dup := m[st.Name]; dup {
			return &param.MismatchError{Key: st.Name, Reason: "duplicate"}
		}
		t, err := tensor.FromSlice(st.Data, st.Shape...)
		if err != nil {
			return &param.MismatchError{Key: st.Name, Reason: err.Error()}
		}
		m[st.Name] = t
	}
	return n.params.Assign(m)
}
