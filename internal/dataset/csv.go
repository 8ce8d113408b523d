package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
)

// LoadCSV loads images from a CSV file in the common MNIST layout: the label
// in the first column followed by rows*cols pixel values in [0, 255].
// hasHeader skips the first line if true.
func LoadCSV(filename string, rows, cols int, hasHeader bool, opts Options) (*Dataset, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return ReadCSV(file, rows, cols, hasHeader, opts)
}

// ReadCSV is LoadCSV over an io.Reader.
func ReadCSV(r io.Reader, rows, cols int, hasHeader bool, opts Options) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 1 + rows*cols
	reader.ReuseRecord = true

	var pixels, labels []byte
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv: %w", err)
		}
		line++
		if hasHeader && line == 1 {
			continue
		}
		for j, valStr := range record {
			val, err := strconv.ParseFloat(valStr, 64)
			if err != nil {
				return nil, fmt.Errorf("failed to parse value at row %d, col %d: %w", line, j, err)
			}
			if val < 0 || val > 255 || val != math.Trunc(val) {
				return nil, fmt.Errorf("value %v at row %d, col %d is not a byte", val, line, j)
			}
			if j == 0 {
				labels = append(labels, byte(val))
			} else {
				pixels = append(pixels, byte(val))
			}
		}
	}

	if len(labels) == 0 {
		return nil, fmt.Errorf("csv file has no data rows")
	}
	return build(pixels, labels, 1, rows, cols, opts)
}
