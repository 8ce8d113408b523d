package net

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/exp/rand"

	"github.com/FlavioCFOliveira/deepconv/internal/dataset"
	"github.com/FlavioCFOliveira/deepconv/internal/opt"
	"github.com/FlavioCFOliveira/deepconv/internal/tensor"
)

// TrainerConfig controls a training run.
type TrainerConfig struct {
	Epochs    int
	BatchSize int
	// EvaluateSamples caps how many samples are used for the per-epoch
	// accuracy. Zero evaluates every sample.
	EvaluateSamples int
	// Seed drives mini-batch shuffling.
	Seed uint64
}

// DefaultTrainerConfig returns a short MNIST run.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		Epochs:          20,
		BatchSize:       100,
		EvaluateSamples: 1000,
		Seed:            1,
	}
}

// Trainer runs mini-batch gradient descent on a Network.
type Trainer struct {
	net       *Network
	opt       opt.Optimizer
	cfg       TrainerConfig
	callbacks []Callback
	rng       *rand.Rand
	logger    *log.Logger

	// History, one entry per mini-batch for TrainLoss and per epoch for the accuracies.
	TrainLoss []float64
	TrainAcc  []float64
	TestAcc   []float64
}

// NewTrainer creates a trainer. Callbacks are invoked in the order given.
func NewTrainer(n *Network, optimizer opt.Optimizer, cfg TrainerConfig, callbacks ...Callback) (*Trainer, error) {
	if cfg.Epochs <= 0 || cfg.BatchSize <= 0 || cfg.EvaluateSamples < 0 {
		return nil, fmt.Errorf("trainer: epochs %d batch %d evaluate %d: %w", cfg.Epochs, cfg.BatchSize, cfg.EvaluateSamples, ErrInvalidConfig)
	}
	return &Trainer{
		net:       n,
		opt:       optimizer,
		cfg:       cfg,
		callbacks: callbacks,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		logger:    log.Default(),
	}, nil
}

// SetLogger replaces the logger used for the final report.
func (t *Trainer) SetLogger(l *log.Logger) { t.logger = l }

// Step performs one gradient step on a mini-batch and returns its loss.
func (t *Trainer) Step(x, labels *tensor.Tensor) (float64, error) {
	grads, err := t.net.Gradient(x, labels)
	if err != nil {
		return 0, err
	}
	// Gradient ran the training forward pass; its loss is cached.
	l := t.net.lastLayer.Loss()
	if err := t.opt.Update(t.net.Params(), grads); err != nil {
		return 0, err
	}
	return l, nil
}

// Fit trains on train and reports accuracy on both sets after every epoch.
// It returns early with ctx's error when ctx is cancelled.
func (t *Trainer) Fit(ctx context.Context, train, test *dataset.Dataset) error {
	for _, cb := range t.callbacks {
		cb.OnTrainBegin(t.net)
	}
	defer func() {
		for _, cb := range t.callbacks {
			cb.OnTrainEnd(t.net)
		}
	}()

	batch := 0
	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		for _, cb := range t.callbacks {
			cb.OnEpochBegin(epoch, t.net)
		}

		var sum float64
		batches := train.Batches(t.cfg.BatchSize, t.rng)
		for _, idx := range batches {
			if err := ctx.Err(); err != nil {
				return err
			}
			for _, cb := range t.callbacks {
				cb.OnBatchBegin(batch, t.net)
			}
			x, labels := train.Batch(idx)
			l, err := t.Step(x, labels)
			if err != nil {
				return fmt.Errorf("epoch %d batch %d: %w", epoch, batch, err)
			}
			t.TrainLoss = append(t.TrainLoss, l)
			sum += l
			for _, cb := range t.callbacks {
				cb.OnBatchEnd(batch, l, t.net)
			}
			batch++
		}

		stats := EpochStats{Loss: sum / float64(len(batches))}
		var err error
		if stats.TrainAcc, err = t.evaluate(train); err != nil {
			return fmt.Errorf("epoch %d train accuracy: %w", epoch, err)
		}
		if test != nil {
			stats.HasTest = true
			if stats.TestAcc, err = t.evaluate(test); err != nil {
				return fmt.Errorf("epoch %d test accuracy: %w", epoch, err)
			}
		}
		t.TrainAcc = append(t.TrainAcc, stats.TrainAcc)
		t.TestAcc = append(t.TestAcc, stats.TestAcc)

		stop := false
		for _, cb := range t.callbacks {
			cb.OnEpochEnd(epoch, stats, t.net)
			if s, ok := cb.(Stopper); ok && s.ShouldStop() {
				stop = true
			}
		}
		if stop {
			break
		}
	}

	if test != nil {
		acc, err := t.net.Accuracy(test.Images, test.Labels, t.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("final test accuracy: %w", err)
		}
		t.logger.Printf("=============== Final Test Accuracy ===============")
		t.logger.Printf("test acc: %.4f", acc)
	}
	return nil
}

// evaluate returns accuracy over the first EvaluateSamples samples of d.
func (t *Trainer) evaluate(d *dataset.Dataset) (float64, error) {
	x, labels := d.Images, d.Labels
	if k := t.cfg.EvaluateSamples; k > 0 && k < d.Len() {
		var err error
		if x, err = x.Slice(0, k); err != nil {
			return 0, err
		}
		if labels, err = labels.Slice(0, k); err != nil {
			return 0, err
		}
	}
	return t.net.Accuracy(x, labels, t.cfg.BatchSize)
}
