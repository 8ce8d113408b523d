// Package net provides the deep convolutional network and its training helpers.
package net

import (
	"errors"
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/FlavioCFOliveira/deepconv/internal/layer"
	"github.com/FlavioCFOliveira/deepconv/internal/loss"
	"github.com/FlavioCFOliveira/deepconv/internal/param"
	"github.com/FlavioCFOliveira/deepconv/internal/tensor"
)

// ErrInvalidInput reports an empty batch or a non-positive batch size.
var ErrInvalidInput = errors.New("invalid input")

// Network is a deep convolutional classifier:
//
//	conv - relu - conv - relu - pool -
//	conv - relu - conv - relu - pool -
//	conv - relu - conv - relu - pool -
//	affine - relu - dropout - affine - dropout - softmax
//
// A Network is not safe for concurrent use; calls must be serialized.
type Network struct {
	cfg    Config
	params *param.Store

	layers    []layer.Layer
	trainable []layer.Trainable // in pipeline order, one per W/b pair
	lastLayer *loss.SoftmaxWithLoss
}

// New builds a network with freshly initialized parameters.
func New(cfg Config) (*Network, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := &Network{
		cfg:       cfg,
		params:    initParams(cfg),
		lastLayer: loss.NewSoftmaxWithLoss(),
	}
	n.buildLayers()
	return n, nil
}

// WeightName returns the key of the i-th (0-based) trainable layer's weight.
func WeightName(i int) string { return fmt.Sprintf("W%d", i+1) }

// BiasName returns the key of the i-th (0-based) trainable layer's bias.
func BiasName(i int) string { return fmt.Sprintf("b%d", i+1) }

// initParams draws He-normal weights, σ = sqrt(2/fan_in), and zero biases.
func initParams(cfg Config) *param.Store {
	src := rand.NewSource(cfg.Seed)
	store := param.NewStore()

	heNormal := func(fanIn int, shape ...int) *tensor.Tensor {
		t := tensor.New(shape...)
		dist := distuv.Normal{Mu: 0, Sigma: math.Sqrt(2.0 / float64(fanIn)), Src: src}
		data := t.Data()
		for i := range data {
			data[i] = dist.Rand()
		}
		return t
	}

	channels := cfg.InputDim[0]
	for i, p := range cfg.Conv {
		fanIn := channels * p.FilterSize * p.FilterSize
		store.Add(WeightName(i), heNormal(fanIn, p.FilterNum, channels, p.FilterSize, p.FilterSize))
		store.Add(BiasName(i), tensor.New(p.FilterNum))
		channels = p.FilterNum
	}

	flat := channels * cfg.FeatureSize * cfg.FeatureSize
	store.Add(WeightName(NumConv), heNormal(flat, flat, cfg.HiddenSize))
	store.Add(BiasName(NumConv), tensor.New(cfg.HiddenSize))
	store.Add(WeightName(NumConv+1), heNormal(cfg.HiddenSize, cfg.HiddenSize, cfg.OutputSize))
	store.Add(BiasName(NumConv+1), tensor.New(cfg.OutputSize))
	return store
}

// buildLayers assembles the pipeline and records the trainable handles
// alongside it, so nothing downstream depends on layer positions.
func (n *Network) buildLayers() {
	slot := func(name func(int) string, i int) *param.Slot { return n.params.Slot(name(i)) }

	add := func(l layer.Layer) {
		n.layers = append(n.layers, l)
		if t, ok := l.(layer.Trainable); ok {
			n.trainable = append(n.trainable, t)
		}
	}
	pool := func() layer.Layer {
		return layer.NewPooling(n.cfg.PoolSize, n.cfg.PoolSize, n.cfg.PoolStride, 0)
	}

	for i, p := range n.cfg.Conv {
		add(layer.NewConvolution(slot(WeightName, i), slot(BiasName, i), p.Stride, p.Pad))
		add(layer.NewReLU())
		if i%2 == 1 {
			add(pool())
		}
	}
	add(layer.NewAffine(slot(WeightName, NumConv), slot(BiasName, NumConv)))
	add(layer.NewReLU())
	add(layer.NewDropout(n.cfg.DropoutRatio, n.cfg.Seed+1))
	add(layer.NewAffine(slot(WeightName, NumConv+1), slot(BiasName, NumConv+1)))
	add(layer.NewDropout(n.cfg.DropoutRatio, n.cfg.Seed+2))
}

// Config returns the construction parameters.
func (n *Network) Config() Config { return n.cfg }

// Layers returns the network's layers slice.
func (n *Network) Layers() []layer.Layer { return n.layers }

// Trainable returns the trainable layers in pipeline order.
func (n *Network) Trainable() []layer.Trainable { return n.trainable }

// Params returns the live parameter tensors. Updating them in place updates
// the network.
func (n *Network) Params() param.Mapping { return n.params.Mapping() }

// Store returns the parameter store.
func (n *Network) Store() *param.Store { return n.params }

// TrainableIndices returns the pipeline positions of the trainable layers.
func (n *Network) TrainableIndices() []int {
	idx := make([]int, 0, len(n.trainable))
	next := 0
	for i, l := range n.layers {
		if next < len(n.trainable) && l == layer.Layer(n.trainable[next]) {
			idx = append(idx, i)
			next++
		}
	}
	return idx
}

// Predict returns class scores (N, OutputSize) for x of shape (N, C, H, W).
// train enables dropout masking.
func (n *Network) Predict(x *tensor.Tensor, train bool) (*tensor.Tensor, error) {
	if x.Rows() == 0 || x.Len() == 0 {
		return nil, fmt.Errorf("predict on empty batch: %w", ErrInvalidInput)
	}
	curr := x
	for i, l := range n.layers {
		out, err := l.Forward(curr, train)
		if err != nil {
			return nil, fmt.Errorf("layer %d (%s): %w", i, l.Name(), err)
		}
		curr = out
	}
	return curr, nil
}

// Loss runs a training-mode forward pass and returns the softmax cross-entropy.
func (n *Network) Loss(x, t *tensor.Tensor) (float64, error) {
	y, err := n.Predict(x, true)
	if err != nil {
		return 0, err
	}
	l, err := n.lastLayer.Forward(y, t)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", n.lastLayer.Name(), err)
	}
	return l, nil
}

// Accuracy returns the fraction of rows classified correctly.
//
// Only rows/batchSize full batches are evaluated; a trailing partial batch is
// skipped but still counted in the denominator, so the result undercounts when
// rows is not a multiple of batchSize.
func (n *Network) Accuracy(x, t *tensor.Tensor, batchSize int) (float64, error) {
	rows := x.Rows()
	if rows == 0 || x.Len() == 0 {
		return 0, fmt.Errorf("accuracy on empty batch: %w", ErrInvalidInput)
	}
	if batchSize <= 0 {
		return 0, fmt.Errorf("batch size %d: %w", batchSize, ErrInvalidInput)
	}
	if t.Rows() != rows {
		return 0, &tensor.ShapeError{Op: "Accuracy", Want: tensor.Shape{rows}, Got: t.Shape()}
	}
	labels, err := loss.Labels(t, n.cfg.OutputSize)
	if err != nil {
		return 0, err
	}

	matches := 0
	for b := 0; b < rows/batchSize; b++ {
		start := b * batchSize
		tx, err := x.Slice(start, start+batchSize)
		if err != nil {
			return 0, err
		}
		y, err := n.Predict(tx, false)
		if err != nil {
			return 0, err
		}
		pred, err := y.RowArgmax()
		if err != nil {
			return 0, err
		}
		for j, p := range pred {
			if p == labels[start+j] {
				matches++
			}
		}
	}
	return float64(matches) / float64(rows), nil
}

// Gradient backpropagates the loss of (x, t) and returns a fresh mapping of
// parameter gradients keyed like Params.
func (n *Network) Gradient(x, t *tensor.Tensor) (param.Mapping, error) {
	if x.Rows() == 0 || x.Len() == 0 {
		return nil, fmt.Errorf("gradient on empty batch: %w", ErrInvalidInput)
	}
	if _, err := n.Loss(x, t); err != nil {
		return nil, err
	}

	dout, err := n.lastLayer.Backward(1)
	if err != nil {
		return nil, err
	}
	for i := len(n.layers) - 1; i >= 0; i-- {
		l := n.layers[i]
		if dout, err = l.Backward(dout); err != nil {
			return nil, fmt.Errorf("layer %d (%s) backward: %w", i, l.Name(), err)
		}
	}

	grads := make(param.Mapping, 2*len(n.trainable))
	for i, l := range n.trainable {
		dW, db := l.Grads()
		grads[WeightName(i)] = dW
		grads[BiasName(i)] = db
	}
	return grads, nil
}

// Summary writes a table of layers, output shapes and parameter counts for a
// single input image. It runs one inference pass, which replaces every layer's
// cached forward state; call Loss or Gradient again before a backward pass.
func (n *Network) Summary(w io.Writer) error {
	c := n.cfg.InputDim
	curr := tensor.New(1, c[0], c[1], c[2])

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Layer (type)\tOutput Shape\tParam #")
	total := 0
	for i, l := range n.layers {
		out, err := l.Forward(curr, false)
		if err != nil {
			return fmt.Errorf("layer %d (%s): %w", i, l.Name(), err)
		}
		count := 0
		if t, ok := l.(layer.Trainable); ok {
			count = t.Weight().Value().Len() + t.Bias().Value().Len()
		}
		total += count
		fmt.Fprintf(tw, "%s_%d\t%v\t%d\n", l.Name(), i, []int(out.Shape()[1:]), count)
		curr = out
	}
	fmt.Fprintf(tw, "Total params: %d\t\t\n", total)
	return tw.Flush()
}
