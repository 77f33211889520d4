package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"prognet/core/ckkswrapper"
	"prognet/dataset"
	"prognet/progressive"
	"prognet/split"
	"prognet/utils"
)

var (
	predictModelDir  string
	predictData      string
	predictHeader    bool
	predictWeights   bool
	predictOut       string
	predictEncrypted bool
	predictServer    string
	predictLogN      int
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict every task for a CSV dataset with a trained model",
	Long: `Restore the latest checkpoint of --model-dir and write one CSV row of
task outputs per example.

With --encrypted the first layer runs on CKKS-encrypted features through
an in-process server; with --server it runs on a remote serve-he process.`,
	RunE: runPredict,
}

func init() {
	f := predictCmd.Flags()
	f.StringVar(&predictModelDir, "model-dir", "", "Trained model directory")
	f.StringVar(&predictData, "data", "", "CSV dataset path (same layout as for training)")
	f.BoolVar(&predictHeader, "header", false, "Skip the first CSV record")
	f.BoolVar(&predictWeights, "weights", false, "CSV carries one weight column per task")
	f.StringVar(&predictOut, "out", "", "Output CSV path (default: stdout)")
	f.BoolVar(&predictEncrypted, "encrypted", false, "Evaluate the first layer on encrypted features in-process")
	f.StringVar(&predictServer, "server", "", "Address of a serve-he process for the first layer")
	f.IntVar(&predictLogN, "logN", ckkswrapper.DefaultLogN, "Ring dimension log2")
	_ = predictCmd.MarkFlagRequired("model-dir")
	_ = predictCmd.MarkFlagRequired("data")
}

func runPredict(cmd *cobra.Command, args []string) error {
	if predictOut == "" {
		utils.Output = os.Stderr
	}
	model, err := progressive.LoadRegressor(predictModelDir)
	if err != nil {
		return err
	}
	ds, err := dataset.LoadCSVFile(predictData, dataset.CSVLayout{
		NFeatures: model.NFeatures(),
		NTasks:    model.NTasks(),
		Weights:   predictWeights,
		Header:    predictHeader,
	})
	if err != nil {
		return err
	}
	if sc := model.FeatureScaling(); sc != nil {
		if err := dataset.ApplyScaling(ds.X(), sc.Mean, sc.Std); err != nil {
			return err
		}
	}

	var pred *mat.Dense
	switch {
	case predictServer != "":
		pred, err = predictRemote(cmd.Context(), model, ds.X())
	case predictEncrypted:
		pred, err = predictLoopback(cmd.Context(), model, ds.X())
	default:
		pred, err = model.Predict(ds)
	}
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if predictOut != "" {
		f, err := os.Create(predictOut)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return writePredictions(w, pred)
}

func predictLoopback(ctx context.Context, model *progressive.Regressor, x *mat.Dense) (*mat.Dense, error) {
	var stats utils.TimingStats
	start := time.Now()
	he, err := ckkswrapper.NewHeContextWithLogN(predictLogN)
	if err != nil {
		return nil, err
	}
	stats.HEInitTime = time.Since(start)

	layers, err := split.FirstLayers(model)
	if err != nil {
		return nil, err
	}
	srv, err := split.NewServer(he.GenServerKit(), layers)
	if err != nil {
		return nil, err
	}
	conn := split.Loopback(ctx, srv)
	client := split.NewClient(he)
	pred, err := split.PredictEncrypted(ctx, client, conn.Protocol, model, x)
	if cerr := conn.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	stats.Add(&client.Stats)
	stats.Add(&srv.Stats)
	stats.TotalTime = time.Since(start)
	utils.PrintTimingStats(&stats, 1)
	return pred, nil
}

func predictRemote(ctx context.Context, model *progressive.Regressor, x *mat.Dense) (*mat.Dense, error) {
	var stats utils.TimingStats
	start := time.Now()
	he, err := ckkswrapper.NewHeContextWithLogN(predictLogN)
	if err != nil {
		return nil, err
	}
	stats.HEInitTime = time.Since(start)
	conn, err := net.Dial("tcp", predictServer)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", predictServer, err)
	}
	defer conn.Close()
	utils.Logf("Connected to %s", predictServer)

	p := split.NewProtocol(conn, conn)
	client := split.NewClient(he)
	pred, err := split.PredictEncrypted(ctx, client, p, model, x)
	if err != nil {
		return nil, err
	}
	if err := p.SendDone(); err != nil {
		return nil, err
	}
	stats.Add(&client.Stats)
	stats.TotalTime = time.Since(start)
	utils.PrintTimingStats(&stats, 1)
	return pred, nil
}

func writePredictions(w io.Writer, pred *mat.Dense) error {
	cw := csv.NewWriter(w)
	rows, cols := pred.Dims()
	record := make([]string, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			record[j] = strconv.FormatFloat(pred.At(i, j), 'g', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
