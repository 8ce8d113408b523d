// Command deepconv trains and evaluates the deep convolutional MNIST classifier.
//
//	deepconv train   -train-images train-images-idx3-ubyte.gz -train-labels ... -test-images ... -test-labels ...
//	deepconv eval    -params deep_convnet_params.gob -test-images ... -test-labels ...
//	deepconv summary
//	deepconv export  -params deep_convnet_params.gob -out model.gguf
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/FlavioCFOliveira/deepconv/internal/dataset"
	"github.com/FlavioCFOliveira/deepconv/internal/net"
	"github.com/FlavioCFOliveira/deepconv/internal/opt"
)

const defaultParams = "deep_convnet_params.gob"

func main() {
	log.SetFlags(log.LstdFlags)
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "train":
		err = runTrain(os.Args[2:])
	case "eval":
		err = runEval(os.Args[2:])
	case "summary":
		err = runSummary(os.Args[2:])
	case "export":
		err = runExport(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: deepconv <train|eval|summary|export> [flags]")
}

// dataFlags are shared by every subcommand that reads images.
type dataFlags struct {
	config      string
	format      string
	images      string
	labels      string
	testImages  string
	testLabels  string
	limit       int
	testLimit   int
	oneHot      bool
	noNormalize bool
}

func (d *dataFlags) register(fs *flag.FlagSet, train bool) {
	fs.StringVar(&d.config, "config", "", "JSON network config (defaults to the MNIST architecture)")
	fs.StringVar(&d.format, "format", "idx", "dataset format: idx or csv")
	if train {
		fs.StringVar(&d.images, "train-images", "", "training images (IDX, optionally .gz) or CSV file")
		fs.StringVar(&d.labels, "train-labels", "", "training labels (IDX only)")
		fs.IntVar(&d.limit, "train-limit", 0, "use only the first N training samples")
	}
	fs.StringVar(&d.testImages, "test-images", "", "test images (IDX, optionally .gz) or CSV file")
	fs.StringVar(&d.testLabels, "test-labels", "", "test labels (IDX only)")
	fs.IntVar(&d.testLimit, "test-limit", 0, "use only the first N test samples")
	fs.BoolVar(&d.oneHot, "one-hot", false, "encode labels as one-hot rows")
	fs.BoolVar(&d.noNormalize, "no-normalize", false, "keep raw 0-255 pixel values")
}

func (d *dataFlags) networkConfig() (net.Config, error) {
	if d.config == "" {
		return net.DefaultConfig(), nil
	}
	return net.LoadConfig(d.config)
}

func (d *dataFlags) load(cfg net.Config, images, labels string, limit int) (*dataset.Dataset, error) {
	opts := dataset.Options{
		Normalize: !d.noNormalize,
		OneHot:    d.oneHot,
		Classes:   cfg.OutputSize,
		Limit:     limit,
	}
	switch strings.ToLower(d.format) {
	case "idx":
		if images == "" || labels == "" {
			return nil, fmt.Errorf("idx format needs both an images and a labels file")
		}
		return dataset.LoadIDX(images, labels, opts)
	case "csv":
		if images == "" {
			return nil, fmt.Errorf("csv format needs an images file")
		}
		return dataset.LoadCSV(images, cfg.InputDim[1], cfg.InputDim[2], false, opts)
	default:
		return nil, fmt.Errorf("unknown dataset format %q", d.format)
	}
}

func runTrain(args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	var data dataFlags
	data.register(fs, true)
	tc := net.DefaultTrainerConfig()
	fs.IntVar(&tc.Epochs, "epochs", tc.Epochs, "number of epochs")
	fs.IntVar(&tc.BatchSize, "batch", tc.BatchSize, "mini-batch size")
	fs.IntVar(&tc.EvaluateSamples, "eval-samples", tc.EvaluateSamples, "samples used for per-epoch accuracy (0 = all)")
	fs.Uint64Var(&tc.Seed, "shuffle-seed", tc.Seed, "mini-batch shuffle seed")
	optName := fs.String("optimizer", "adam", "optimizer: sgd, momentum or adam")
	lr := fs.Float64("lr", 0.001, "learning rate")
	stepSize := fs.Int("lr-step", 0, "decay the learning rate every N epochs (0 disables)")
	gamma := fs.Float64("lr-gamma", 0.5, "learning rate decay factor")
	patience := fs.Int("patience", 0, "stop after N epochs without loss improvement (0 disables)")
	out := fs.String("params", defaultParams, "where to save the trained parameters")
	checkpoint := fs.String("checkpoint", "", "save the best parameters by test accuracy to this file")
	history := fs.String("history", "", "write per-epoch statistics to this CSV file")
	fs.Parse(args)

	cfg, err := data.networkConfig()
	if err != nil {
		return err
	}
	train, err := data.load(cfg, data.images, data.labels, data.limit)
	if err != nil {
		return fmt.Errorf("loading training data: %w", err)
	}
	var test *dataset.Dataset
	if data.testImages != "" {
		if test, err = data.load(cfg, data.testImages, data.testLabels, data.testLimit); err != nil {
			return fmt.Errorf("loading test data: %w", err)
		}
	}
	log.Printf("loaded %d training samples", train.Len())

	network, err := net.New(cfg)
	if err != nil {
		return err
	}
	optimizer, err := opt.New(*optName, *lr)
	if err != nil {
		return err
	}

	callbacks := []net.Callback{net.Logger{Interval: 1}}
	if *stepSize > 0 {
		callbacks = append(callbacks, net.NewSchedulerCallback(opt.NewStepLR(optimizer, *stepSize, *gamma)))
	}
	if *patience > 0 {
		callbacks = append(callbacks, net.NewEarlyStopping(*patience, 1e-4))
	}
	if *checkpoint != "" {
		callbacks = append(callbacks, net.NewModelCheckpoint(*checkpoint))
	}
	if *history != "" {
		callbacks = append(callbacks, net.NewCSVLogger(*history, false))
	}

	trainer, err := net.NewTrainer(network, optimizer, tc, callbacks...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := trainer.Fit(ctx, train, test); err != nil {
		return err
	}

	if err := network.SaveParams(*out); err != nil {
		return err
	}
	log.Printf("saved network parameters to %s", *out)
	return nil
}

func runEval(args []string) error {
	fs := flag.NewFlagSet("eval", flag.ExitOnError)
	var data dataFlags
	data.register(fs, false)
	params := fs.String("params", defaultParams, "trained parameters to load")
	batch := fs.Int("batch", 100, "evaluation batch size")
	fs.Parse(args)

	cfg, err := data.networkConfig()
	if err != nil {
		return err
	}
	test, err := data.load(cfg, data.testImages, data.testLabels, data.testLimit)
	if err != nil {
		return fmt.Errorf("loading test data: %w", err)
	}
	network, err := net.New(cfg)
	if err != nil {
		return err
	}
	if err := network.LoadParams(*params); err != nil {
		return err
	}

	acc, err := network.Accuracy(test.Images, test.Labels, *batch)
	if err != nil {
		return err
	}
	fmt.Printf("test acc: %.4f (%d samples)\n", acc, test.Len())
	return nil
}

func runSummary(args []string) error {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	config := fs.String("config", "", "JSON network config")
	fs.Parse(args)

	cfg := net.DefaultConfig()
	if *config != "" {
		var err error
		if cfg, err = net.LoadConfig(*config); err != nil {
			return err
		}
	}
	network, err := net.New(cfg)
	if err != nil {
		return err
	}
	return network.Summary(os.Stdout)
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	config := fs.String("config", "", "JSON network config")
	params := fs.String("params", defaultParams, "trained parameters to load")
	out := fs.String("out", "deepconvnet.gguf", "GGUF output file")
	f16 := fs.Bool("f16", false, "store tensors as float16")
	fs.Parse(args)

	cfg := net.DefaultConfig()
	if *config != "" {
		var err error
		if cfg, err = net.LoadConfig(*config); err != nil {
			return err
		}
	}
	network, err := net.New(cfg)
	if err != nil {
		return err
	}
	if err := network.LoadParams(*params); err != nil {
		return err
	}
	typ := net.GGMLTypeF32
	if *f16 {
		typ = net.GGMLTypeF16
	}
	if err := network.SaveGGUF(*out, typ); err != nil {
		return err
	}
	log.Printf("exported %d tensors to %s", network.Store().Len(), *out)
	return nil
}
