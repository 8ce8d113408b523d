// Package dataset loads MNIST-style image data into network-ready tensors.
package dataset

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/FlavioCFOliveira/deepconv/internal/tensor"
)

// Options control how raw pixels and labels are converted.
type Options struct {
	// Normalize scales pixels from [0, 255] to [0, 1].
	Normalize bool
	// OneHot stores labels as (N, Classes) rows instead of (N) class indices.
	OneHot  bool
	Classes int
	// Limit keeps only the first Limit samples when positive.
	Limit int
}

// DefaultOptions matches the usual MNIST preprocessing.
func DefaultOptions() Options {
	return Options{Normalize: true, Classes: 10}
}

// Dataset represents a collection of images and their labels.
type Dataset struct {
	// Images has shape (N, C, H, W).
	Images *tensor.Tensor
	// Labels has shape (N) or (N, Classes) when one-hot encoded.
	Labels *tensor.Tensor
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	return d.Images.Rows()
}

// build converts raw pixel bytes and label bytes into a Dataset.
func build(pixels []byte, labels []byte, channels, rows, cols int, opts Options) (*Dataset, error) {
	size := channels * rows * cols
	if size == 0 || len(pixels)%size != 0 {
		return nil, fmt.Errorf("dataset: %d pixel bytes do not divide into %dx%dx%d images", len(pixels), channels, rows, cols)
	}
	n := len(pixels) / size
	if n != len(labels) {
		return nil, fmt.Errorf("dataset: %d images but %d labels", n, len(labels))
	}
	if n == 0 {
		return nil, fmt.Errorf("dataset: no samples")
	}
	if opts.Limit > 0 && opts.Limit < n {
		n = opts.Limit
	}
	if opts.Classes <= 0 {
		opts.Classes = 10
	}

	scale := 1.0
	if opts.Normalize {
		scale = 1.0 / 255.0
	}
	images := tensor.New(n, channels, rows, cols)
	id := images.Data()
	for i := range id {
		id[i] = float64(pixels[i]) * scale
	}

	var lt *tensor.Tensor
	if opts.OneHot {
		lt = tensor.New(n, opts.Classes)
	} else {
		lt = tensor.New(n)
	}
	ld := lt.Data()
	for i := 0; i < n; i++ {
		l := int(labels[i])
		if l >= opts.Classes {
			return nil, fmt.Errorf("dataset: label %d at sample %d exceeds %d classes", l, i, opts.Classes)
		}
		if opts.OneHot {
			ld[i*opts.Classes+l] = 1
		} else {
			ld[i] = float64(l)
		}
	}
	return &Dataset{Images: images, Labels: lt}, nil
}

// Batch gathers the samples at idx into new tensors.
func (d *Dataset) Batch(idx []int) (*tensor.Tensor, *tensor.Tensor) {
	ishape := d.Images.Shape()
	lshape := d.Labels.Shape()
	ishape[0], lshape[0] = len(idx), len(idx)

	x, t := tensor.New(ishape...), tensor.New(lshape...)
	iLen := d.Images.Len() / d.Images.Rows()
	lLen := d.Labels.Len() / d.Labels.Rows()
	src, lsrc := d.Images.Data(), d.Labels.Data()
	xd, td := x.Data(), t.Data()
	for j, i := range idx {
		copy(xd[j*iLen:(j+1)*iLen], src[i*iLen:(i+1)*iLen])
		copy(td[j*lLen:(j+1)*lLen], lsrc[i*lLen:(i+1)*lLen])
	}
	return x, t
}

// Batches returns the index lists of consecutive mini-batches over a
// permutation of the samples. The last batch may be shorter.
func (d *Dataset) Batches(batchSize int, rng *rand.Rand) [][]int {
	n := d.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if rng != nil {
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	var out [][]int
	for start := 0; start < n; start += batchSize {
		end := start + batchSize
		if end > n {
			end = n
		}
		out = append(out, order[start:end])
	}
	return out
}

// Split returns the first ratio of the samples and the rest as two datasets
// sharing storage with d.
func (d *Dataset) Split(ratio float64) (*Dataset, *Dataset, error) {
	n := d.Len()
	cut := int(float64(n) * ratio)
	if cut <= 0 || cut >= n {
		return nil, nil, fmt.Errorf("dataset: split ratio %v leaves an empty part of %d samples", ratio, n)
	}
	ai, _ := d.Images.Slice(0, cut)
	al, _ := d.Labels.Slice(0, cut)
	bi, _ := d.Images.Slice(cut, n)
	bl, _ := d.Labels.Slice(cut, n)
	return &Dataset{Images: ai, Labels: al}, &Dataset{Images: bi, Labels: bl}, nil
}
