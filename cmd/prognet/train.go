package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"prognet/dataset"
	"prognet/progressive"
	"prognet/utils"
)

var (
	trainLayerSizes   string
	trainWeightStd    string
	trainAlphaStd     string
	trainBiasConsts   string
	trainDropouts     string
	trainData         string
	trainFeatures     int
	trainTasks        int
	trainWeights      bool
	trainHeader       bool
	trainNormalize    bool
	trainBatchSize    int
	trainEpochs       int
	trainLearningRate float64
	trainMomentum     float64
	trainOptimizer    string
	trainCost         string
	trainSeed         int64
	trainModelDir     string
	trainPadBatches   bool
	trainLogEvery     int
	trainMaxToKeep    int
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a progressive network on a CSV dataset",
	Long: `Train a progressive network, one task at a time, on a CSV file laid out
as feature columns, then one label column per task, then (with --weights)
one weight column per task. Empty label cells are treated as missing.

Per-layer lists accept a single value, which is repeated for every layer.`,
	RunE: runTrain,
}

func init() {
	f := trainCmd.Flags()
	f.StringVar(&trainLayerSizes, "layer-sizes", "1000", "Hidden layer sizes, e.g. \"1000,500\"")
	f.StringVar(&trainWeightStd, "weight-init-stddevs", "0.02", "Weight init stddev per layer")
	f.StringVar(&trainAlphaStd, "alpha-init-stddevs", "0.02", "Adapter alpha init stddev per layer")
	f.StringVar(&trainBiasConsts, "bias-init-consts", "1.0", "Bias init constant per layer")
	f.StringVar(&trainDropouts, "dropouts", "0.5", "Dropout rate per layer")
	f.StringVar(&trainData, "data", "", "CSV dataset path")
	f.IntVar(&trainFeatures, "features", 0, "Number of feature columns")
	f.IntVar(&trainTasks, "tasks", 1, "Number of tasks")
	f.BoolVar(&trainWeights, "weights", false, "CSV carries one weight column per task")
	f.BoolVar(&trainHeader, "header", false, "Skip the first CSV record")
	f.BoolVar(&trainNormalize, "normalize", false, "Standardize feature columns; predict reapplies the same statistics")
	f.IntVar(&trainBatchSize, "batch-size", 50, "Batch size")
	f.IntVar(&trainEpochs, "epochs", 10, "Epochs per task")
	f.Float64Var(&trainLearningRate, "lr", 0.001, "Learning rate")
	f.Float64Var(&trainMomentum, "momentum", 0.9, "Momentum for momentum and rmsprop")
	f.StringVar(&trainOptimizer, "optimizer", "adam", "Optimizer: sgd, momentum, adam, adagrad, rmsprop")
	f.StringVar(&trainCost, "cost", "l2", "Cost: l2, l1, huber")
	f.Int64Var(&trainSeed, "seed", 0, "Random seed (0 picks one from the clock)")
	f.StringVar(&trainModelDir, "model-dir", "", "Checkpoint directory (default: a temporary directory)")
	f.BoolVar(&trainPadBatches, "pad-batches", false, "Pad the last batch of every epoch to full size")
	f.IntVar(&trainLogEvery, "log-every", 50, "Log every N batches")
	f.IntVar(&trainMaxToKeep, "max-to-keep", 5, "Checkpoints to keep")
}

func trainConfig() (*utils.Config, error) {
	sizes, err := utils.ParseInts(trainLayerSizes)
	if err != nil {
		return nil, fmt.Errorf("--layer-sizes: %w", err)
	}
	lists := map[string]string{
		"weight-init-stddevs": trainWeightStd,
		"alpha-init-stddevs":  trainAlphaStd,
		"bias-init-consts":    trainBiasConsts,
		"dropouts":            trainDropouts,
	}
	parsed := map[string][]float64{}
	for name, s := range lists {
		v, err := utils.ParseFloats(s)
		if err != nil {
			return nil, fmt.Errorf("--%s: %w", name, err)
		}
		parsed[name] = utils.Broadcast(v, len(sizes))
	}
	cfg := &utils.Config{
		LayerSizes:        sizes,
		WeightInitStddevs: parsed["weight-init-stddevs"],
		AlphaInitStddevs:  parsed["alpha-init-stddevs"],
		BiasInitConsts:    parsed["bias-init-consts"],
		Dropouts:          parsed["dropouts"],
		DataPath:          trainData,
		NFeatures:         trainFeatures,
		NTasks:            trainTasks,
		BatchSize:         trainBatchSize,
		Epochs:            trainEpochs,
		LearningRate:      trainLearningRate,
		Optimizer:         trainOptimizer,
		ModelDir:          trainModelDir,
	}
	if err := utils.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, err := trainConfig()
	if err != nil {
		return err
	}
	start := time.Now()
	ds, err := dataset.LoadCSVFile(cfg.DataPath, dataset.CSVLayout{
		NFeatures: cfg.NFeatures,
		NTasks:    cfg.NTasks,
		Weights:   trainWeights,
		Header:    trainHeader,
	})
	if err != nil {
		return err
	}
	utils.Logf("Loaded %d examples (%d features, %d tasks) from %s in %v", ds.Len(), ds.NFeatures(), ds.NTasks(), cfg.DataPath, time.Since(start))

	netCfg, err := progressive.NewNetworkConfig(cfg.LayerSizes, cfg.WeightInitStddevs, cfg.AlphaInitStddevs, cfg.BiasInitConsts, cfg.Dropouts)
	if err != nil {
		return err
	}
	hp := progressive.DefaultHyperparams()
	hp.BatchSize = cfg.BatchSize
	hp.LearningRate = cfg.LearningRate
	hp.Momentum = trainMomentum
	hp.Optimizer = cfg.Optimizer
	hp.Cost = trainCost
	hp.Seed = trainSeed
	hp.ModelDir = cfg.ModelDir

	model, err := progressive.NewRegressor(cfg.NTasks, cfg.NFeatures, netCfg, hp)
	if err != nil {
		return err
	}
	if trainNormalize {
		mean, std := dataset.NormalizeFeatures(ds.X())
		if err := model.SetFeatureScaling(mean, std); err != nil {
			return err
		}
	}
	if err := model.Build(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fc := progressive.DefaultFitConfig()
	fc.NbEpoch = cfg.Epochs
	fc.PadBatches = trainPadBatches
	fc.LogEveryNBatches = trainLogEvery
	fc.MaxCheckpointsToKeep = trainMaxToKeep
	report, err := model.Fit(ctx, ds, fc)
	if err != nil {
		return err
	}

	utils.Logf("Run %s: %d steps, model saved to %s", report.RunID, report.Steps, report.ModelDir)
	for _, e := range report.Checkpoints {
		utils.Logf("  checkpoint %d: %s", e.Tag, e.Path)
	}
	return nil
}
