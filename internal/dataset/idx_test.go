package dataset

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idxImages(count, rows, cols int, pixels []byte) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, []uint32{idxImagesMagic, uint32(count), uint32(rows), uint32(cols)})
	buf.Write(pixels)
	return buf.Bytes()
}

func idxLabels(labels []byte) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, []uint32{idxLabelsMagic, uint32(len(labels))})
	buf.Write(labels)
	return buf.Bytes()
}

func TestReadIDX(t *testing.T) {
	pixels := []byte{0, 255, 128, 64, 1, 2, 3, 4}
	rows, cols, got, err := ReadIDXImages(bytes.NewReader(idxImages(2, 2, 2, pixels)))
	require.NoError(t, err)
	assert.Equal(t, 2, rows)
	assert.Equal(t, 2, cols)
	assert.Equal(t, pixels, got)

	labels, err := ReadIDXLabels(bytes.NewReader(idxLabels([]byte{5, 9})))
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 9}, labels)
}

func TestReadIDXBadMagic(t *testing.T) {
	// A full 16-byte header so the magic number is what fails.
	_, _, _, err := ReadIDXImages(bytes.NewReader(idxLabels(make([]byte, 8))))
	assert.ErrorContains(t, err, "invalid magic number")

	_, err = ReadIDXLabels(bytes.NewReader(idxImages(1, 1, 1, []byte{0})))
	assert.ErrorContains(t, err, "invalid magic number")
}

func TestReadIDXTruncated(t *testing.T) {
	data := idxImages(2, 2, 2, []byte{1, 2, 3})
	_, _, _, err := ReadIDXImages(bytes.NewReader(data))
	assert.Error(t, err)
}

func TestLoadIDXGzip(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "images.idx3-ubyte.gz")
	lblPath := filepath.Join(dir, "labels.idx1-ubyte")

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err := zw.Write(idxImages(3, 1, 2, []byte{0, 255, 255, 0, 51, 51}))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(imgPath, gz.Bytes(), 0o644))
	require.NoError(t, os.WriteFile(lblPath, idxLabels([]byte{1, 2, 0}), 0o644))

	ds, err := LoadIDX(imgPath, lblPath, Options{Normalize: true, OneHot: true, Classes: 3})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1, 1, 2}, []int(ds.Images.Shape()))
	assert.InDeltaSlice(t, []float64{0, 1, 1, 0, 0.2, 0.2}, ds.Images.Data(), 1e-12)
	assert.Equal(t, []float64{0, 1, 0, 0, 0, 1, 1, 0, 0}, ds.Labels.Data())
}

func TestLoadIDXCountMismatch(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "images")
	lblPath := filepath.Join(dir, "labels")
	require.NoError(t, os.WriteFile(imgPath, idxImages(2, 1, 1, []byte{1, 2}), 0o644))
	require.NoError(t, os.WriteFile(lblPath, idxLabels([]byte{1}), 0o644))

	_, err := LoadIDX(imgPath, lblPath, DefaultOptions())
	assert.ErrorContains(t, err, "2 images but 1 labels")
}

func TestReadIDXImagesRejectsBadDimensions(t *testing.T) {
	tests := []struct {
		name              string
		count, rows, cols int
	}{
		{"zero count", 0, 28, 28},
		{"zero rows", 3, 0, 28},
		{"zero cols", 3, 28, 0},
		{"product overflows int", 3, 1 << 31, 1 << 31},
		{"product wraps to zero", 1 << 31, 1 << 31, 1 << 31},
		{"over size limit", 1 << 21, 28, 28},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rows, cols int
			var pixels []byte
			var err error
			assert.NotPanics(t, func() {
				rows, cols, pixels, err = ReadIDXImages(bytes.NewReader(idxImages(tt.count, tt.rows, tt.cols, nil)))
			})
			assert.Error(t, err)
			assert.Nil(t, pixels)
			assert.Zero(t, rows)
			assert.Zero(t, cols)
		})
	}
}

func TestReadIDXLabelsRejectsBadCount(t *testing.T) {
	for _, count := range []uint32{0, maxIDXBytes + 1, 1<<32 - 1} {
		var buf bytes.Buffer
		binary.Write(&buf, binary.BigEndian, []uint32{idxLabelsMagic, count})
		_, err := ReadIDXLabels(&buf)
		assert.ErrorContains(t, err, "invalid label count", "count %d", count)
	}
}
