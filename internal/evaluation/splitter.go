package evaluation

import (
	"math/rand"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"mlstages/internal/data"
)

type TrainTestSplitter struct {
	testSize   float64
	randomSeed int64
	shuffle    bool
}

func NewTrainTestSplitter(testSize float64, randomSeed int64, shuffle bool) *TrainTestSplitter {
	return &TrainTestSplitter{
		testSize:   testSize,
		randomSeed: randomSeed,
		shuffle:    shuffle,
	}
}

func DefaultTrainTestSplitter() *TrainTestSplitter {
	return NewTrainTestSplitter(0.2, 42, true)
}

// testCount is floor(n * testSize) computed exactly, so 0.29 of 100 rows is
// 29 rather than 28.
func (tts *TrainTestSplitter) testCount(n int) int {
	return int(decimal.NewFromInt(int64(n)).Mul(decimal.NewFromFloat(tts.testSize)).Floor().IntPart())
}

func (tts *TrainTestSplitter) validate(ds *data.Dataset) error {
	if ds.NumRows() == 0 {
		return errors.New("cannot split empty dataset")
	}
	if tts.testSize <= 0 || tts.testSize >= 1 {
		return errors.New("test size must be between 0 and 1")
	}
	return nil
}

// Split holds out the trailing testSize share of the (optionally shuffled) rows.
func (tts *TrainTestSplitter) Split(ds *data.Dataset) (train, test *data.Dataset, err error) {
	if err := tts.validate(ds); err != nil {
		return nil, nil, err
	}

	indices := sequence(ds.NumRows())
	if tts.shuffle {
		rng := rand.New(rand.NewSource(tts.randomSeed))
		rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	cut := len(indices) - tts.testCount(len(indices))
	return ds.Take(indices[:cut]), ds.Take(indices[cut:]), nil
}

// StratifiedSplit holds out testSize of every label value, at least one row
// per value. Rows with an absent label stay in the training side.
func (tts *TrainTestSplitter) StratifiedSplit(ds *data.Dataset, labelCol string) (train, test *data.Dataset, err error) {
	if err := tts.validate(ds); err != nil {
		return nil, nil, err
	}
	labels, err := ds.Column(labelCol)
	if err != nil {
		return nil, nil, err
	}

	var order []any
	byLabel := make(map[any][]int)
	var trainIdx, testIdx []int
	for i, v := range labels {
		if v == nil {
			trainIdx = append(trainIdx, i)
			continue
		}
		if _, ok := byLabel[v]; !ok {
			order = append(order, v)
		}
		byLabel[v] = append(byLabel[v], i)
	}

	rng := rand.New(rand.NewSource(tts.randomSeed))
	for _, v := range order {
		indices := byLabel[v]
		if tts.shuffle {
			rng.Shuffle(len(indices), func(i, j int) {
				indices[i], indices[j] = indices[j], indices[i]
			})
		}
		n := tts.testCount(len(indices))
		if n == 0 {
			n = 1
		}
		cut := len(indices) - n
		trainIdx = append(trainIdx, indices[:cut]...)
		testIdx = append(testIdx, indices[cut:]...)
	}

	if tts.shuffle {
		rng.Shuffle(len(trainIdx), func(i, j int) { trainIdx[i], trainIdx[j] = trainIdx[j], trainIdx[i] })
		rng.Shuffle(len(testIdx), func(i, j int) { testIdx[i], testIdx[j] = testIdx[j], testIdx[i] })
	}
	return ds.Take(trainIdx), ds.Take(testIdx), nil
}

type KFoldSplitter struct {
	nFolds     int
	shuffle    bool
	randomSeed int64
}

func NewKFoldSplitter(nFolds int, shuffle bool, randomSeed int64) *KFoldSplitter {
	return &KFoldSplitter{
		nFolds:     nFolds,
		shuffle:    shuffle,
		randomSeed: randomSeed,
	}
}

// Folds returns the test row indices of every fold. The last fold absorbs the
// remainder.
func (kfs *KFoldSplitter) Folds(n int) ([][]int, error) {
	if kfs.nFolds < 2 || kfs.nFolds > n {
		return nil, errors.Errorf("number of folds must be between 2 and %d, got %d", n, kfs.nFolds)
	}

	indices := sequence(n)
	if kfs.shuffle {
		rng := rand.New(rand.NewSource(kfs.randomSeed))
		rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	folds := make([][]int, kfs.nFolds)
	size := n / kfs.nFolds
	for f := range folds {
		start, end := f*size, (f+1)*size
		if f == kfs.nFolds-1 {
			end = n
		}
		folds[f] = append([]int(nil), indices[start:end]...)
	}
	return folds, nil
}

func sequence(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = i
	}
	return s
}

// complement returns the indices in [0, n) that are not in held.
func complement(n int, held []int) []int {
	out := make(map[int]bool, len(held))
	for _, i := range held {
		out[i] = true
	}
	rest := make([]int, 0, n-len(held))
	for i := 0; i < n; i++ {
		if !out[i] {
			rest = append(rest, i)
		}
	}
	return rest
}
