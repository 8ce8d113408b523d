package dataset

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
)

// IDX magic numbers for unsigned-byte images and labels.
const (
	idxImagesMagic = 2051
	idxLabelsMagic = 2049
)

// maxIDXBytes bounds the payload a header may ask for. The full MNIST
// training set is about 47 MiB.
const maxIDXBytes = 1 << 30

// LoadIDX loads an MNIST image/label file pair. Files ending in .gz are
// decompressed on the fly.
func LoadIDX(imagesPath, labelsPath string, opts Options) (*Dataset, error) {
	var rows, cols int
	var pixels, labels []byte

	err := withFile(imagesPath, func(r io.Reader) (err error) {
		rows, cols, pixels, err = ReadIDXImages(r)
		return err
	})
	if err != nil {
		return nil, err
	}
	err = withFile(labelsPath, func(r io.Reader) (err error) {
		labels, err = ReadIDXLabels(r)
		return err
	})
	if err != nil {
		return nil, err
	}
	return build(pixels, labels, 1, rows, cols, opts)
}

func withFile(path string, fn func(io.Reader) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var r io.Reader = file
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return fmt.Errorf("failed to open gzip stream %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}
	if err := fn(r); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// ReadIDXImages reads an IDX image stream.
//
//	magic number: 0x00000803 (2051)
//	number of images: 4 bytes
//	number of rows: 4 bytes
//	number of cols: 4 bytes
//	pixel data: unsigned bytes (0-255)
func ReadIDXImages(r io.Reader) (rows, cols int, pixels []byte, err error) {
	var hdr [4]uint32
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return 0, 0, nil, fmt.Errorf("failed to read header: %w", err)
	}
	if hdr[0] != idxImagesMagic {
		return 0, 0, nil, fmt.Errorf("invalid magic number: got %d, want %d", hdr[0], idxImagesMagic)
	}
	count, h, w := uint64(hdr[1]), uint64(hdr[2]), uint64(hdr[3])
	if count == 0 || h == 0 || w == 0 {
		return 0, 0, nil, fmt.Errorf("invalid dimensions %dx%dx%d", count, h, w)
	}
	// Each factor is below 2^32, so h*w fits and the division cannot overflow.
	if h*w > maxIDXBytes || count > maxIDXBytes/(h*w) {
		return 0, 0, nil, fmt.Errorf("image data %dx%dx%d exceeds %d bytes", count, h, w, maxIDXBytes)
	}
	pixels = make([]byte, count*h*w)
	if _, err := io.ReadFull(r, pixels); err != nil {
		return 0, 0, nil, fmt.Errorf("failed to read pixels: %w", err)
	}
	return int(h), int(w), pixels, nil
}

// ReadIDXLabels reads an IDX label stream.
//
//	magic number: 0x00000801 (2049)
//	number of labels: 4 bytes
//	label data: unsigned bytes (0-9)
func ReadIDXLabels(r io.Reader) ([]byte, error) {
	var hdr [2]uint32
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if hdr[0] != idxLabelsMagic {
		return nil, fmt.Errorf("invalid magic number: got %d, want %d", hdr[0], idxLabelsMagic)
	}
	if hdr[1] == 0 || hdr[1] > maxIDXBytes {
		return nil, fmt.Errorf("invalid label count %d", hdr[1])
	}
	labels := make([]byte, hdr[1])
	if _, err := io.ReadFull(r, labels); err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	return labels, nil
}
