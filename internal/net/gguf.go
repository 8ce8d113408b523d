package net

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// GGUF Constants
const (
	GGUFMagic   = 0x46554747 // "GGUF" in little-endian
	GGUFVersion = 3
)

// GGUF Value Types
type GGUFType uint32

const (
	GGUFTypeUint32 GGUFType = 4
	GGUFTypeString GGUFType = 8
)

// GGML Tensor Types
type GGMLType uint32

const (
	GGMLTypeF32 GGMLType = 0
	GGMLTypeF16 GGMLType = 1
)

// countingWriter tracks the number of bytes written so sections can be aligned.
type countingWriter struct {
	w io.Writer
	n uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += uint64(n)
	return n, err
}

// GGUFWriter helps writing GGUF files
type GGUFWriter struct {
	w         *countingWriter
	alignment uint64
}

func NewGGUFWriter(w io.Writer) *GGUFWriter {
	return &GGUFWriter{
		w:         &countingWriter{w: w},
		alignment: 32, // Default alignment
	}
}

func (gw *GGUFWriter) WriteHeader(kvCount, tensorCount uint64) error {
	if err := binary.Write(gw.w, binary.LittleEndian, uint32(GGUFMagic)); err != nil {
		return err
	}
	if err := binary.Write(gw.w, binary.LittleEndian, uint32(GGUFVersion)); err != nil {
		return err
	}
	if err := binary.Write(gw.w, binary.LittleEndian, tensorCount); err != nil {
		return err
	}
	return binary.Write(gw.w, binary.LittleEndian, kvCount)
}

func (gw *GGUFWriter) WriteString(s string) error {
	if err := binary.Write(gw.w, binary.LittleEndian, uint64(len(s))); err != nil {
		return err
	}
	_, err := gw.w.Write([]byte(s))
	return err
}

func (gw *GGUFWriter) WriteKV(key string, valType GGUFType, value interface{}) error {
	if err := gw.WriteString(key); err != nil {
		return err
	}
	if err := binary.Write(gw.w, binary.LittleEndian, uint32(valType)); err != nil {
		return err
	}

	switch valType {
	case GGUFTypeUint32:
		return binary.Write(gw.w, binary.LittleEndian, value.(uint32))
	case GGUFTypeString:
		return gw.WriteString(value.(string))
	default:
		return fmt.Errorf("unsupported GGUF type: %v", valType)
	}
}

func (gw *GGUFWriter) WriteTensorInfo(name string, shape []uint64, ggmlType GGMLType, offset uint64) error {
	if err := gw.WriteString(name); err != nil {
		return err
	}
	rank := uint32(len(shape))
	if err := binary.Write(gw.w, binary.LittleEndian, rank); err != nil {
		return err
	}
	// GGUF dimensions are in reverse order (last dimension first)
	for i := 0; i < int(rank); i++ {
		if err := binary.Write(gw.w, binary.LittleEndian, shape[rank-1-uint32(i)]); err != nil {
			return err
		}
	}
	if err := binary.Write(gw.w, binary.LittleEndian, uint32(ggmlType)); err != nil {
		return err
	}
	return binary.Write(gw.w, binary.LittleEndian, offset)
}

// Pad writes zero bytes up to the next alignment boundary.
func (gw *GGUFWriter) Pad() error {
	if rem := gw.w.n % gw.alignment; rem != 0 {
		_, err := gw.w.Write(make([]byte, gw.alignment-rem))
		return err
	}
	return nil
}

func (gw *GGUFWriter) aligned(size uint64) uint64 {
	return (size + gw.alignment - 1) / gw.alignment * gw.alignment
}

// SaveGGUF exports the parameters to a GGUF v3 file as F32 or F16 tensors.
// The export is one-way: LoadParams reads only the gob format.
func (n *Network) SaveGGUF(path string, ggmlType GGMLType) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := n.WriteGGUF(file, ggmlType); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// WriteGGUF writes the GGUF export to w.
func (n *Network) WriteGGUF(w io.Writer, ggmlType GGMLType) error {
	var elemSize uint64
	switch ggmlType {
	case GGMLTypeF32:
		elemSize = 4
	case GGMLTypeF16:
		elemSize = 2
	default:
		return fmt.Errorf("unsupported tensor type: %v", ggmlType)
	}

	gw := NewGGUFWriter(w)
	names := n.params.Names()
	kvs := []struct {
		key   string
		typ   GGUFType
		value interface{}
	}{
		{"general.architecture", GGUFTypeString, "deepconvnet"},
		{"general.alignment", GGUFTypeUint32, uint32(gw.alignment)},
		{"deepconvnet.hidden_size", GGUFTypeUint32, uint32(n.cfg.HiddenSize)},
		{"deepconvnet.output_size", GGUFTypeUint32, uint32(n.cfg.OutputSize)},
	}

	if err := gw.WriteHeader(uint64(len(kvs)), uint64(len(names))); err != nil {
		return fmt.Errorf("failed to write GGUF header: %w", err)
	}
	for _, kv := range kvs {
		if err := gw.WriteKV(kv.key, kv.typ, kv.value); err != nil {
			return fmt.Errorf("failed to write %s: %w", kv.key, err)
		}
	}

	var offset uint64
	for _, name := range names {
		t := n.params.Slot(name).Value()
		shape := make([]uint64, 0, t.Rank())
		for _, d := range t.Shape() {
			shape = append(shape, uint64(d))
		}
		if err := gw.WriteTensorInfo(name, shape, ggmlType, offset); err != nil {
			return fmt.Errorf("failed to write tensor info %s: %w", name, err)
		}
		offset += gw.aligned(uint64(t.Len()) * elemSize)
	}
	if err := gw.Pad(); err != nil {
		return err
	}

	for _, name := range names {
		data := n.params.Slot(name).Value().Data()
		var err error
		if ggmlType == GGMLTypeF16 {
			buf := make([]uint16, len(data))
			for i, v := range data {
				buf[i] = Float32ToFloat16(float32(v))
			}
			err = binary.Write(gw.w, binary.LittleEndian, buf)
		} else {
			buf := make([]float32, len(data))
			for i, v := range data {
				buf[i] = float32(v)
			}
			err = binary.Write(gw.w, binary.LittleEndian, buf)
		}
		if err != nil {
			return fmt.Errorf("failed to write tensor %s: %w", name, err)
		}
		if err := gw.Pad(); err != nil {
			return err
		}
	}
	return nil
}

// Float32ToFloat16 converts a float32 to float16 (represented as uint16)
func Float32ToFloat16(f float32) uint16 {
	bits := math.Float32bits(f)
	s := uint16((bits >> 16) & 0x8000)
	e := int16((bits >> 23) & 0xFF)
	m := bits & 0x7FFFFF

	if e == 0 {
		// Zero or denormal
		return s
	} else if e == 0xFF {
		// Inf or NaN
		if m == 0 {
			return s | 0x7C00
		}
		return s | 0x7C00 | uint16(m>>13) | 1
	}

	e -= 127 - 15
	if e >= 31 {
		// Overflow to Inf
		return s | 0x7C00
	} else if e <= 0 {
		// Underflow to denormal or zero
		if e < -10 {
			return s
		}
		m |= 0x800000
		m >>= uint32(1 - e)
		return s | uint16(m>>13)
	}

	return s | uint16(e<<10) | uint16(m>>13)
}
