package net

import (
	"log"
	"math"

	"github.com/FlavioCFOliveira/deepconv/internal/opt"
)

// Callback defines the interface for training callbacks.
type Callback interface {
	OnTrainBegin(n *Network)
	OnTrainEnd(n *Network)
	OnEpochBegin(epoch int, n *Network)
	OnEpochEnd(epoch int, stats EpochStats, n *Network)
	OnBatchBegin(batch int, n *Network)
	OnBatchEnd(batch int, loss float64, n *Network)
}

// Stopper is implemented by callbacks that can end training early.
type Stopper interface {
	ShouldStop() bool
}

// EpochStats summarizes one training epoch.
type EpochStats struct {
	Loss     float64 // mean mini-batch loss
	TrainAcc float64
	TestAcc  float64
	HasTest  bool // TestAcc is only meaningful when a test set was given
}

// SchedulerCallback is a callback that wraps a learning rate scheduler.
type SchedulerCallback struct {
	BaseCallback
	scheduler opt.Scheduler
}

func NewSchedulerCallback(scheduler opt.Scheduler) *SchedulerCallback {
	return &SchedulerCallback{scheduler: scheduler}
}

func (c *SchedulerCallback) OnEpochEnd(epoch int, stats EpochStats, n *Network) {
	c.scheduler.Step()
	c.scheduler.StepWithLoss(stats.Loss)
}

// BaseCallback provides default empty implementations for Callback.
type BaseCallback struct{}

func (c BaseCallback) OnTrainBegin(n *Network)                            {}
func (c BaseCallback) OnTrainEnd(n *Network)                              {}
func (c BaseCallback) OnEpochBegin(epoch int, n *Network)                 {}
func (c BaseCallback) OnEpochEnd(epoch int, stats EpochStats, n *Network) {}
func (c BaseCallback) OnBatchBegin(batch int, n *Network)                 {}
func (c BaseCallback) OnBatchEnd(batch int, loss float64, n *Network)     {}

// EarlyStopping stops training when the epoch loss has stopped improving.
type EarlyStopping struct {
	BaseCallback
	Patience  int
	Threshold float64
	Logger    *log.Logger

	bestLoss     float64
	numBadEpochs int
	Stopped      bool
}

func NewEarlyStopping(patience int, threshold float64) *EarlyStopping {
	return &EarlyStopping{
		Patience:  patience,
		Threshold: threshold,
		Logger:    log.Default(),
		bestLoss:  math.MaxFloat64,
	}
}

func (c *EarlyStopping) OnEpochEnd(epoch int, stats EpochStats, n *Network) {
	if stats.Loss < c.bestLoss-c.Threshold {
		c.bestLoss = stats.Loss
		c.numBadEpochs = 0
	} else {
		c.numBadEpochs++
	}

	if c.numBadEpochs >= c.Patience {
		c.Logger.Printf("early stopping at epoch %d: loss %.6f did not improve for %d epochs", epoch, stats.Loss, c.Patience)
		c.Stopped = true
	}
}

// ShouldStop reports whether patience ran out.
func (c *EarlyStopping) ShouldStop() bool { return c.Stopped }

// ModelCheckpoint saves the parameters after every epoch that improves on the
// best test accuracy seen so far, or on the best train accuracy when training
// runs without a test set.
type ModelCheckpoint struct {
	BaseCallback
	Filename string
	Logger   *log.Logger

	bestAcc float64
	saved   bool
}

func NewModelCheckpoint(filename string) *ModelCheckpoint {
	return &ModelCheckpoint{
		Filename: filename,
		Logger:   log.Default(),
	}
}

func (c *ModelCheckpoint) OnEpochEnd(epoch int, stats EpochStats, n *Network) {
	acc, metric := stats.TestAcc, "test"
	if !stats.HasTest {
		acc, metric = stats.TrainAcc, "train"
	}
	if c.saved && acc <= c.bestAcc {
		return
	}
	if err := n.SaveParams(c.Filename); err != nil {
		c.Logger.Printf("error saving checkpoint: %v", err)
		return
	}
	c.bestAcc, c.saved = acc, true
	c.Logger.Printf("checkpoint saved: %s acc %.4f is new best", metric, acc)
}

// Logger logs training progress.
type Logger struct {
	BaseCallback
	Interval int
	Out      *log.Logger
}

func (c Logger) OnEpochEnd(epoch int, stats EpochStats, n *Network) {
	if c.Interval > 0 && epoch%c.Interval == 0 {
		out := c.Out
		if out == nil {
			out = log.Default()
		}
		out.Printf("=== epoch %d, loss: %.6f, train acc: %.4f, test acc: %.4f ===", epoch, stats.Loss, stats.TrainAcc, stats.TestAcc)
	}
}
