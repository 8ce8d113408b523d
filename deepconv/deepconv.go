// Package deepconv is the public entry point to the deep convolutional
// classifier. It re-exports the types needed to build, train and persist a
// network without reaching into internal packages.
package deepconv

import (
	"github.com/FlavioCFOliveira/deepconv/internal/dataset"
	"github.com/FlavioCFOliveira/deepconv/internal/net"
	"github.com/FlavioCFOliveira/deepconv/internal/opt"
	"github.com/FlavioCFOliveira/deepconv/internal/param"
	"github.com/FlavioCFOliveira/deepconv/internal/tensor"
)

// Re-export common types and functions for easier access
type (
	Network   = net.Network
	Config    = net.Config
	ConvParam = net.ConvParam
	Tensor    = tensor.Tensor
	Params    = param.Mapping
	Optimizer = opt.Optimizer
	Dataset   = dataset.Dataset
	Trainer   = net.Trainer
	Callback  = net.Callback
)

// Errors
var (
	ErrInvalidInput      = net.ErrInvalidInput
	ErrInvalidConfig     = net.ErrInvalidConfig
	ErrParameterMismatch = param.ErrParameterMismatch
	ErrShape             = tensor.ErrShape
)

// Model creation
func New(cfg Config) (*Network, error) {
	return net.New(cfg)
}

func DefaultConfig() Config {
	return net.DefaultConfig()
}

func LoadConfig(path string) (Config, error) {
	return net.LoadConfig(path)
}

// Tensors
func NewTensor(shape ...int) *Tensor {
	return tensor.New(shape...)
}

func TensorFromSlice(data []float64, shape ...int) (*Tensor, error) {
	return tensor.FromSlice(data, shape...)
}

// Optimizers
func SGD(lr float64) Optimizer {
	return opt.NewSGD(lr)
}

func Momentum(lr, momentum float64) Optimizer {
	return opt.NewMomentum(lr, momentum)
}

func Adam(lr float64) Optimizer {
	return opt.NewAdam(lr)
}

func ReduceLROnPlateau(optimizer Optimizer, factor float64, patience int, threshold, minLR float64) *opt.ReduceLROnPlateau {
	return opt.NewReduceLROnPlateau(optimizer, factor, patience, threshold, minLR)
}

// Training
func NewTrainer(n *Network, optimizer Optimizer, cfg net.TrainerConfig, callbacks ...Callback) (*Trainer, error) {
	return net.NewTrainer(n, optimizer, cfg, callbacks...)
}

func DefaultTrainerConfig() net.TrainerConfig {
	return net.DefaultTrainerConfig()
}

// Callbacks
func Logger(interval int) net.Logger {
	return net.Logger{Interval: interval}
}

func ModelCheckpoint(filename string) Callback {
	return net.NewModelCheckpoint(filename)
}

func EarlyStopping(patience int, threshold float64) *net.EarlyStopping {
	return net.NewEarlyStopping(patience, threshold)
}

func SchedulerCallback(scheduler opt.Scheduler) Callback {
	return net.NewSchedulerCallback(scheduler)
}

// Datasets
func LoadIDX(imagesPath, labelsPath string, opts dataset.Options) (*Dataset, error) {
	return dataset.LoadIDX(imagesPath, labelsPath, opts)
}

func LoadCSV(filename string, rows, cols int, hasHeader bool, opts dataset.Options) (*Dataset, error) {
	return dataset.LoadCSV(filename, rows, cols, hasHeader, opts)
}

// Model Persistence
func Load(cfg Config, paramsPath string) (*Network, error) {
	n, err := net.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := n.LoadParams(paramsPath); err != nil {
		return nil, err
	}
	return n, nil
}
