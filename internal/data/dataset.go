// Package data provides the training-data iterators workers consume. An
// iterator is shallow-copied per worker: copies share the backing samples
// but keep independent cursors.
package data

import (
	"encoding/csv"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
)

// Sample is one training example.
type Sample struct {
	Input  []float64
	Target []float64
}

// Iterator yields batches of samples for one pass over the data set.
type Iterator interface {
	// NextBatch returns up to size samples and false once the pass is done.
	NextBatch(size int) ([]Sample, bool)
	Reset()
	Len() int
	ShallowCopy() Iterator
}

// SliceIterator iterates an in-memory sample slice.
type SliceIterator struct {
	samples []Sample
	cursor  int
}

func NewSliceIterator(samples []Sample) (*SliceIterator, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("at least one sample is required")
	}
	return &SliceIterator{samples: samples}, nil
}

func (it *SliceIterator) NextBatch(size int) ([]Sample, bool) {
	if size <= 0 {
		size = 1
	}
	if it.cursor >= len(it.samples) {
		return nil, false
	}
	end := it.cursor + size
	if end > len(it.samples) {
		end = len(it.samples)
	}
	batch := it.samples[it.cursor:end]
	it.cursor = end
	return batch, true
}

func (it *SliceIterator) Reset() {
	it.cursor = 0
}

func (it *SliceIterator) Len() int {
	return len(it.samples)
}

// ShallowCopy shares the backing samples and starts a fresh cursor.
func (it *SliceIterator) ShallowCopy() Iterator {
	return &SliceIterator{samples: it.samples}
}

// Split returns the inputs and targets as parallel slices, for loss
// evaluation over a whole set.
func Split(samples []Sample) (inputs, targets [][]float64) {
	inputs = make([][]float64, 0, len(samples))
	targets = make([][]float64, 0, len(samples))
	for _, s := range samples {
		inputs = append(inputs, s.Input)
		targets = append(targets, s.Target)
	}
	return inputs, targets
}

// LoadCSV reads samples from a headerless CSV file where the first
// inputCols columns are inputs and the rest are targets.
func LoadCSV(path string, inputCols int) ([]Sample, error) {
	if inputCols <= 0 {
		return nil, fmt.Errorf("input columns must be > 0")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv %s: %w", path, err)
	}
	samples := make([]Sample, 0, len(rows))
	for i, row := range rows {
		if len(row) <= inputCols {
			return nil, fmt.Errorf("row %d of %s has %d columns, need more than %d", i+1, path, len(row), inputCols)
		}
		sample := Sample{
			Input:  make([]float64, 0, inputCols),
			Target: make([]float64, 0, len(row)-inputCols),
		}
		for j, cell := range row {
			value, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %d of %s: %w", i+1, j+1, path, err)
			}
			if j < inputCols {
				sample.Input = append(sample.Input, value)
			} else {
				sample.Target = append(sample.Target, value)
			}
		}
		samples = append(samples, sample)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples in %s", path)
	}
	return samples, nil
}

// Synthetic generates a seeded regression set over y = sin(x0) + 0.5*x1,
// handy for demos and tests.
func Synthetic(n int, seed int64) []Sample {
	rng := rand.New(rand.NewSource(seed))
	samples := make([]Sample, 0, n)
	for i := 0; i < n; i++ {
		x0 := rng.Float64()*4 - 2
		x1 := rng.Float64()*4 - 2
		samples = append(samples, Sample{
			Input:  []float64{x0, x1},
			Target: []float64{math.Sin(x0) + 0.5*x1},
		})
	}
	return samples
}
