package dataset

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"prognet/tensor"
)

// CSVLayout describes the column order of a dataset file: nFeatures
// feature columns, then nTasks label columns, then (if Weights) nTasks
// weight columns.
type CSVLayout struct {
	NFeatures int
	NTasks    int
	Weights   bool
	// Header skips the first record.
	Header bool
}

func (l CSVLayout) width() int {
	w := l.NFeatures + l.NTasks
	if l.Weights {
		w += l.NTasks
	}
	return w
}

type errInvalidLine struct {
	lineNum  int
	splits   int
	expected int
}

func (e errInvalidLine) Error() string {
	return fmt.Sprintf("at line %d, expected %d values, got %d",
		e.lineNum, e.expected, e.splits)
}

// LoadCSVFile opens path and reads it with LoadCSV.
func LoadCSVFile(path string, layout CSVLayout) (*Memory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	return LoadCSV(f, layout)
}

// LoadCSV reads a dataset. An empty label cell is a missing label: the
// label is 0 and its weight is forced to 0.
func LoadCSV(reader io.Reader, layout CSVLayout) (*Memory, error) {
	if layout.NFeatures <= 0 || layout.NTasks <= 0 {
		return nil, fmt.Errorf("layout needs positive feature and task counts, got %d and %d", layout.NFeatures, layout.NTasks)
	}
	r := csv.NewReader(bufio.NewReader(reader))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var xs, ys, ws []float64
	lineNum := 0
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading dataset: %w", err)
		}
		lineNum++
		if layout.Header && lineNum == 1 {
			continue
		}
		if len(record) != layout.width() {
			return nil, errInvalidLine{lineNum: lineNum, splits: len(record), expected: layout.width()}
		}

		for i := 0; i < layout.NFeatures; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: parsing feature %d: %w", lineNum, i, err)
			}
			xs = append(xs, v)
		}
		missing := make([]bool, layout.NTasks)
		for t := 0; t < layout.NTasks; t++ {
			cell := strings.TrimSpace(record[layout.NFeatures+t])
			if cell == "" {
				missing[t] = true
				ys = append(ys, 0)
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: parsing label %d: %w", lineNum, t, err)
			}
			ys = append(ys, v)
		}
		for t := 0; t < layout.NTasks; t++ {
			w := 1.0
			if layout.Weights {
				v, err := strconv.ParseFloat(strings.TrimSpace(record[layout.NFeatures+layout.NTasks+t]), 64)
				if err != nil {
					return nil, fmt.Errorf("line %d: parsing weight %d: %w", lineNum, t, err)
				}
				w = v
			}
			if missing[t] {
				w = 0
			}
			ws = append(ws, w)
		}
	}

	n := len(xs) / layout.NFeatures
	if n == 0 {
		return nil, fmt.Errorf("dataset has no rows")
	}
	return NewMemory(
		mat.NewDense(n, layout.NFeatures, xs),
		mat.NewDense(n, layout.NTasks, ys),
		mat.NewDense(n, layout.NTasks, ws),
		nil,
	)
}

// NormalizeFeatures standardizes every feature column in place to zero
// mean and unit variance and returns the column means and deviations.
// Constant columns are only centred.
func NormalizeFeatures(x *mat.Dense) (mean, std []float64) {
	r, c := x.Dims()
	mean = make([]float64, c)
	std = make([]float64, c)
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, x)
		mean[j], std[j] = stat.PopMeanStdDev(col, nil)
	}
	standardize(x, mean, std)
	return mean, std
}

// ApplyScaling standardizes x in place with statistics returned by an
// earlier NormalizeFeatures call.
func ApplyScaling(x *mat.Dense, mean, std []float64) error {
	_, c := x.Dims()
	if len(mean) != c || len(std) != c {
		return &tensor.ShapeError{Op: "ApplyScaling", Want: []int{c}, Got: []int{len(mean), len(std)}}
	}
	standardize(x, mean, std)
	return nil
}

func standardize(x *mat.Dense, mean, std []float64) {
	r, c := x.Dims()
	for j := 0; j < c; j++ {
		scale := std[j]
		if scale == 0 {
			scale = 1
		}
		for i := 0; i < r; i++ {
			x.Set(i, j, (x.At(i, j)-mean[j])/scale)
		}
	}
}
