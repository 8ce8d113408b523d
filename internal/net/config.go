package net

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/FlavioCFOliveira/deepconv/internal/layer"
)

// ErrInvalidConfig is wrapped by every Config.Validate failure.
var ErrInvalidConfig = errors.New("invalid network config")

// NumConv is the number of convolution stages in the architecture.
const NumConv = 6

// ConvParam describes one convolution layer.
type ConvParam struct {
	FilterNum  int `json:"filter_num"`
	FilterSize int `json:"filter_size"`
	Pad        int `json:"pad"`
	Stride     int `json:"stride"`
}

// Config holds the construction parameters of a DeepConvNet.
type Config struct {
	// InputDim is (channels, height, width).
	InputDim   [3]int             `json:"input_dim"`
	Conv       [NumConv]ConvParam `json:"conv"`
	HiddenSize int                `json:"hidden_size"`
	OutputSize int                `json:"output_size"`

	// FeatureSize is the side of the last pooled feature map. It sizes the
	// first fully connected layer and must agree with the conv/pool schedule.
	FeatureSize int `json:"feature_size"`

	PoolSize     int     `json:"pool_size"`
	PoolStride   int     `json:"pool_stride"`
	DropoutRatio float64 `json:"dropout_ratio"`

	// Seed drives weight initialization and dropout masks.
	Seed uint64 `json:"seed"`
}

// DefaultConfig returns the 28×28 MNIST architecture.
func DefaultConfig() Config {
	return Config{
		InputDim: [3]int{1, 28, 28},
		Conv: [NumConv]ConvParam{
			{FilterNum: 16, FilterSize: 3, Pad: 1, Stride: 1},
			{FilterNum: 16, FilterSize: 3, Pad: 1, Stride: 1},
			{FilterNum: 32, FilterSize: 3, Pad: 1, Stride: 1},
			{FilterNum: 32, FilterSize: 3, Pad: 2, Stride: 1},
			{FilterNum: 64, FilterSize: 3, Pad: 1, Stride: 1},
			{FilterNum: 64, FilterSize: 3, Pad: 1, Stride: 1},
		},
		HiddenSize:   50,
		OutputSize:   10,
		FeatureSize:  4,
		PoolSize:     2,
		PoolStride:   2,
		DropoutRatio: 0.5,
		Seed:         42,
	}
}

// Validate checks every field and that FeatureSize matches the spatial size
// produced by the conv/pool schedule for InputDim.
func (c Config) Validate() error {
	for i, d := range c.InputDim {
		if d <= 0 {
			return fmt.Errorf("input dim %d is %d: %w", i, d, ErrInvalidConfig)
		}
	}
	for i, p := range c.Conv {
		if p.FilterNum <= 0 || p.FilterSize <= 0 || p.Stride <= 0 || p.Pad < 0 {
			return fmt.Errorf("conv %d: %+v: %w", i+1, p, ErrInvalidConfig)
		}
	}
	if c.HiddenSize <= 0 || c.OutputSize <= 0 {
		return fmt.Errorf("hidden %d / output %d: %w", c.HiddenSize, c.OutputSize, ErrInvalidConfig)
	}
	if c.PoolSize <= 0 || c.PoolStride <= 0 {
		return fmt.Errorf("pool %d stride %d: %w", c.PoolSize, c.PoolStride, ErrInvalidConfig)
	}
	if c.DropoutRatio < 0 || c.DropoutRatio >= 1 {
		return fmt.Errorf("dropout ratio %v: %w", c.DropoutRatio, ErrInvalidConfig)
	}
	h, w, err := c.featureMap()
	if err != nil {
		return err
	}
	if h != c.FeatureSize || w != c.FeatureSize {
		return fmt.Errorf("feature size %d but schedule yields %dx%d: %w", c.FeatureSize, h, w, ErrInvalidConfig)
	}
	return nil
}

// featureMap walks the conv/pool schedule and returns the final spatial size.
func (c Config) featureMap() (int, int, error) {
	h, w := c.InputDim[1], c.InputDim[2]
	for i, p := range c.Conv {
		h, w = layer.OutputSize(h, w, p.FilterSize, p.FilterSize, p.Stride, p.Pad)
		if h <= 0 || w <= 0 {
			return 0, 0, fmt.Errorf("conv %d collapses the feature map: %w", i+1, ErrInvalidConfig)
		}
		// A pool follows every second convolution.
		if i%2 == 1 {
			h, w = layer.OutputSize(h, w, c.PoolSize, c.PoolSize, c.PoolStride, 0)
			if h <= 0 || w <= 0 {
				return 0, 0, fmt.Errorf("pool after conv %d collapses the feature map: %w", i+1, ErrInvalidConfig)
			}
		}
	}
	return h, w, nil
}

// LoadConfig reads a JSON config. Missing fields keep their DefaultConfig value.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return c, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&c); err != nil {
		return c, fmt.Errorf("failed to decode config: %w", err)
	}
	return c, nil
}

// Save writes the config as indented JSON.
func (c Config) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return f.Close()
}
