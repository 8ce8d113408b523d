package net

import (
	"bytes"
	"io"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/FlavioCFOliveira/deepconv/internal/param"
	"github.com/FlavioCFOliveira/deepconv/internal/tensor"
)

// smallConfig keeps the architecture but shrinks it to 8x8 inputs:
// 8 -> 8 -> 8 -> pool 4 -> 4 -> 6 -> pool 3 -> 3 -> 3 -> pool 1.
func smallConfig() Config {
	return Config{
		InputDim: [3]int{1, 8, 8},
		Conv: [NumConv]ConvParam{
			{FilterNum: 2, FilterSize: 3, Pad: 1, Stride: 1},
			{FilterNum: 2, FilterSize: 3, Pad: 1, Stride: 1},
			{FilterNum: 3, FilterSize: 3, Pad: 1, Stride: 1},
			{FilterNum: 3, FilterSize: 3, Pad: 2, Stride: 1},
			{FilterNum: 4, FilterSize: 3, Pad: 1, Stride: 1},
			{FilterNum: 4, FilterSize: 3, Pad: 1, Stride: 1},
		},
		HiddenSize:   5,
		OutputSize:   3,
		FeatureSize:  1,
		PoolSize:     2,
		PoolStride:   2,
		DropoutRatio: 0.5,
		Seed:         7,
	}
}

func randomImages(seed uint64, shape ...int) *tensor.Tensor {
	rng := rand.New(rand.NewSource(seed))
	x := tensor.New(shape...)
	for i := range x.Data() {
		x.Data()[i] = rng.Float64()
	}
	return x
}

func newNet(t *testing.T, cfg Config) *Network {
	t.Helper()
	n, err := New(cfg)
	require.NoError(t, err)
	return n
}

func TestNewDefaultArchitecture(t *testing.T) {
	n := newNet(t, DefaultConfig())

	assert.Len(t, n.Layers(), 20)
	assert.Equal(t, []int{0, 2, 5, 7, 10, 12, 15, 18}, n.TrainableIndices())
	assert.Len(t, n.Trainable(), 8)

	names := []string{"Convolution", "ReLU", "Convolution", "ReLU", "Pooling"}
	for i, name := range names {
		assert.Equal(t, name, n.Layers()[i].Name())
	}
	assert.Equal(t, "Dropout", n.Layers()[19].Name())

	params := n.Params()
	require.Len(t, params, 16)
	want := map[string][]int{
		"W1": {16, 1, 3, 3}, "b1": {16},
		"W2": {16, 16, 3, 3}, "b2": {16},
		"W3": {32, 16, 3, 3}, "b3": {32},
		"W4": {32, 32, 3, 3}, "b4": {32},
		"W5": {64, 32, 3, 3}, "b5": {64},
		"W6": {64, 64, 3, 3}, "b6": {64},
		"W7": {64 * 4 * 4, 50}, "b7": {50},
		"W8": {50, 10}, "b8": {10},
	}
	for key, shape := range want {
		require.Contains(t, params, key)
		assert.Equal(t, shape, []int(params[key].Shape()), key)
	}
	for i := 0; i < 8; i++ {
		for _, v := range params[BiasName(i)].Data() {
			assert.Zero(t, v)
		}
	}
}

func TestHeInitScale(t *testing.T) {
	n := newNet(t, DefaultConfig())
	w := n.Params()["W7"].Data()

	var sum, sq float64
	for _, v := range w {
		sum += v
		sq += v * v
	}
	mean := sum / float64(len(w))
	std := math.Sqrt(sq/float64(len(w)) - mean*mean)
	assert.InDelta(t, 0, mean, 0.005)
	assert.InDelta(t, math.Sqrt(2.0/1024), std, 0.003)
}

func TestSeedDeterminism(t *testing.T) {
	a := newNet(t, smallConfig())
	b := newNet(t, smallConfig())
	for _, key := range a.Params().Keys() {
		assert.True(t, a.Params()[key].Equal(b.Params()[key]), key)
	}

	cfg := smallConfig()
	cfg.Seed = 8
	c := newNet(t, cfg)
	assert.False(t, a.Params()["W1"].Equal(c.Params()["W1"]))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := smallConfig()
	cfg.FeatureSize = 2
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPredict(t *testing.T) {
	n := newNet(t, DefaultConfig())
	x := randomImages(1, 2, 1, 28, 28)

	y1, err := n.Predict(x, false)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 10}, []int(y1.Shape()))

	y2, err := n.Predict(x, false)
	require.NoError(t, err)
	assert.True(t, y1.Equal(y2), "inference must be deterministic")

	_, err = n.Predict(x, true)
	require.NoError(t, err)
}

func TestPredictErrors(t *testing.T) {
	n := newNet(t, smallConfig())

	_, err := n.Predict(tensor.New(0, 1, 8, 8), false)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = n.Predict(tensor.New(2, 3, 8, 8), false)
	assert.ErrorIs(t, err, tensor.ErrShape)
	assert.ErrorContains(t, err, "layer 0 (Convolution)")
}

func TestLoss(t *testing.T) {
	cfg := smallConfig()
	cfg.DropoutRatio = 0
	n := newNet(t, cfg)
	x := randomImages(2, 4, 1, 8, 8)

	l, err := n.Loss(x, tensor.Must(tensor.FromSlice([]float64{0, 1, 2, 1}, 4)))
	require.NoError(t, err)
	assert.Greater(t, l, 0.0)

	// One-hot targets give the same loss.
	oneHot := tensor.Must(tensor.FromSlice([]float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
		0, 1, 0,
	}, 4, 3))
	l2, err := n.Loss(x, oneHot)
	require.NoError(t, err)
	assert.InDelta(t, l, l2, 1e-12)

	_, err = n.Loss(x, tensor.Must(tensor.FromSlice([]float64{0, 1, 5, 1}, 4)))
	assert.Error(t, err)
}

func TestLossUsesTrainingDropout(t *testing.T) {
	n := newNet(t, smallConfig())
	x := randomImages(8, 4, 1, 8, 8)
	labels := tensor.Must(tensor.FromSlice([]float64{0, 1, 2, 1}, 4))

	// Each call draws fresh dropout masks, so the loss changes between calls.
	seen := map[float64]bool{}
	for i := 0; i < 5; i++ {
		l, err := n.Loss(x, labels)
		require.NoError(t, err)
		seen[l] = true
	}
	assert.Greater(t, len(seen), 1)

	// Inference is mask-free and repeatable.
	y1, err := n.Predict(x, false)
	require.NoError(t, err)
	y2, err := n.Predict(x, false)
	require.NoError(t, err)
	assert.True(t, y1.Equal(y2))
}

func TestZeroImage(t *testing.T) {
	n := newNet(t, DefaultConfig())
	x := tensor.New(1, 1, 28, 28)
	labels := tensor.Must(tensor.FromSlice([]float64{0}, 1))

	scores, err := n.Predict(x, false)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 10}, []int(scores.Shape()))

	// Zero input and zero biases give equal scores, so the loss is ln 10.
	l, err := n.Loss(x, labels)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(l) || math.IsInf(l, 0))
	assert.GreaterOrEqual(t, l, 0.0)
	assert.InDelta(t, math.Log(10), l, 1e-5)

	grads, err := n.Gradient(x, labels)
	require.NoError(t, err)
	assert.Len(t, grads, 16)
}

func TestGradientKeysAndShapes(t *testing.T) {
	n := newNet(t, DefaultConfig())
	x := randomImages(3, 2, 1, 28, 28)
	labels := tensor.Must(tensor.FromSlice([]float64{3, 8}, 2))

	grads, err := n.Gradient(x, labels)
	require.NoError(t, err)
	params := n.Params()
	require.Len(t, grads, 16)
	for key, p := range params {
		require.Contains(t, grads, key)
		assert.Equal(t, p.Shape(), grads[key].Shape(), key)
	}
}

func TestGradientNumerical(t *testing.T) {
	cfg := smallConfig()
	cfg.DropoutRatio = 0
	n := newNet(t, cfg)
	x := randomImages(4, 3, 1, 8, 8)
	labels := tensor.Must(tensor.FromSlice([]float64{0, 2, 1}, 3))

	grads, err := n.Gradient(x, labels)
	require.NoError(t, err)
	// Copy out before further forward passes.
	analytic := make(param.Mapping, len(grads))
	for k, g := range grads {
		analytic[k] = g.Clone()
	}

	const h = 1e-5
	params := n.Params()
	for _, key := range params.Keys() {
		data := params[key].Data()
		for _, i := range []int{0, len(data) / 2, len(data) - 1} {
			orig := data[i]
			data[i] = orig + h
			lp, err := n.Loss(x, labels)
			require.NoError(t, err)
			data[i] = orig - h
			lm, err := n.Loss(x, labels)
			require.NoError(t, err)
			data[i] = orig

			numeric := (lp - lm) / (2 * h)
			assert.InDelta(t, numeric, analytic[key].Data()[i], 1e-6, "%s[%d]", key, i)
		}
	}
}

func TestGradientEmpty(t *testing.T) {
	n := newNet(t, smallConfig())
	_, err := n.Gradient(tensor.New(0, 1, 8, 8), tensor.New(0))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAccuracy(t *testing.T) {
	n := newNet(t, smallConfig())
	x := randomImages(5, 5, 1, 8, 8)

	y, err := n.Predict(x, false)
	require.NoError(t, err)
	pred, err := y.RowArgmax()
	require.NoError(t, err)
	labels := tensor.New(5)
	for i, p := range pred {
		labels.Data()[i] = float64(p)
	}

	acc, err := n.Accuracy(x, labels, 5)
	require.NoError(t, err)
	assert.Equal(t, 1.0, acc)

	acc, err = n.Accuracy(x, labels, 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, acc)

	// The trailing partial batch is skipped but still counted.
	acc, err = n.Accuracy(x, labels, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, acc, 1e-12)

	acc, err = n.Accuracy(x, labels, 10)
	require.NoError(t, err)
	assert.Zero(t, acc)

	// One-hot targets.
	oneHot := tensor.New(5, 3)
	for i, p := range pred {
		oneHot.Data()[i*3+p] = 1
	}
	acc, err = n.Accuracy(x, oneHot, 5)
	require.NoError(t, err)
	assert.Equal(t, 1.0, acc)

	// Wrong labels everywhere.
	for i, p := range pred {
		labels.Data()[i] = float64((p + 1) % 3)
	}
	acc, err = n.Accuracy(x, labels, 5)
	require.NoError(t, err)
	assert.Zero(t, acc)
}

func TestAccuracyErrors(t *testing.T) {
	n := newNet(t, smallConfig())
	x := randomImages(6, 2, 1, 8, 8)

	_, err := n.Accuracy(tensor.New(0, 1, 8, 8), tensor.New(0), 1)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = n.Accuracy(x, tensor.New(2), 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = n.Accuracy(x, tensor.New(3), 1)
	assert.ErrorIs(t, err, tensor.ErrShape)
}

func TestSaveLoadParams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.gob")
	a := newNet(t, smallConfig())
	require.NoError(t, a.SaveParams(path))

	cfg := smallConfig()
	cfg.Seed = 99
	b := newNet(t, cfg)
	require.NoError(t, b.LoadParams(path))

	for _, key := range a.Params().Keys() {
		assert.True(t, a.Params()[key].Equal(b.Params()[key]), key)
	}

	x := randomImages(7, 3, 1, 8, 8)
	ya, err := a.Predict(x, false)
	require.NoError(t, err)
	yb, err := b.Predict(x, false)
	require.NoError(t, err)
	assert.True(t, ya.Equal(yb))
}

func TestLoadParamsMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.gob")
	cfg := smallConfig()
	cfg.HiddenSize = 6
	other := newNet(t, cfg)
	require.NoError(t, other.SaveParams(path))

	n := newNet(t, smallConfig())
	before := make(param.Mapping)
	for k, v := range n.Params() {
		before[k] = v.Clone()
	}

	err := n.LoadParams(path)
	assert.ErrorIs(t, err, param.ErrParameterMismatch)
	for k, v := range n.Params() {
		assert.True(t, before[k].Equal(v), "%s changed after failed load", k)
	}

	assert.Error(t, n.LoadParams(filepath.Join(t.TempDir(), "missing.gob")))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	n := newNet(t, smallConfig())
	err := n.Decode(bytes.NewReader([]byte("not a gob stream")))
	assert.Error(t, err)
}

func TestSummary(t *testing.T) {
	n := newNet(t, DefaultConfig())
	var buf bytes.Buffer
	require.NoError(t, n.Summary(&buf))

	out := buf.String()
	assert.Contains(t, out, "Convolution_0")
	assert.Contains(t, out, "[64 4 4]")
	assert.Contains(t, out, "Total params:")
}

func TestGradientAfterSummary(t *testing.T) {
	cfg := smallConfig()
	cfg.DropoutRatio = 0
	n := newNet(t, cfg)
	x := randomImages(9, 2, 1, 8, 8)
	labels := tensor.Must(tensor.FromSlice([]float64{1, 2}, 2))

	before, err := n.Gradient(x, labels)
	require.NoError(t, err)

	// Summary replaces the cached forward state; Gradient recomputes it.
	require.NoError(t, n.Summary(io.Discard))
	after, err := n.Gradient(x, labels)
	require.NoError(t, err)
	for key, g := range before {
		assert.InDeltaSlice(t, g.Data(), after[key].Data(), 1e-12, key)
	}
}
