package models

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"mlstages/internal/data"
	"mlstages/internal/logging"
	"mlstages/internal/pipeline"
)

type RandomForest struct {
	BaseModel
	NTrees          int
	MaxDepth        int
	MinSamplesSplit int
	MaxWorkers      int
	Seed            int64
}

func NewRandomForest(nTrees, maxDepth, minSamplesSplit int) *RandomForest {
	if nTrees <= 0 {
		nTrees = 20
	}
	return &RandomForest{
		NTrees:          nTrees,
		MaxDepth:        maxDepth,
		MinSamplesSplit: minSamplesSplit,
		MaxWorkers:      4,
		BaseModel: newBaseModel("RandomForest", map[string]any{
			"n_trees":           nTrees,
			"max_depth":         maxDepth,
			"min_samples_split": minSamplesSplit,
		}),
	}
}

func (rf *RandomForest) Family() Family        { return RandomForestFamily }
func (rf *RandomForest) HasScoreColumns() bool { return false }

func (rf *RandomForest) Fit(ds *data.Dataset) (pipeline.Transformer, error) {
	ts, err := extractTraining(ds, rf.FeaturesCol, rf.LabelCol)
	if err != nil {
		return nil, err
	}

	maxFeatures := int(math.Sqrt(float64(ts.numFeat)))
	if maxFeatures < 1 {
		maxFeatures = 1
	}

	model := &RandomForestModel{
		FeaturesCol:    rf.FeaturesCol,
		NumClasses:     ts.numClasses,
		Trees:          make([]*TreeNode, rf.NTrees),
		FeatureIndices: make([][]int, rf.NTrees),
	}

	var wg sync.WaitGroup
	errs := make([]error, rf.NTrees)
	workers := rf.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > rf.NTrees {
		workers = rf.NTrees
	}
	jobs := make(chan int, rf.NTrees)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				model.Trees[i], model.FeatureIndices[i], errs[i] = rf.trainSingleTree(ts, maxFeatures, rf.Seed+int64(i))
			}
		}()
	}
	for i := 0; i < rf.NTrees; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("tree %d training failed: %w", i, err)
		}
	}

	logging.For("RandomForest").Debug().
		Int("trees", rf.NTrees).
		Int("max_features", maxFeatures).
		Msg("forest trained")
	return model, nil
}

func (rf *RandomForest) trainSingleTree(ts *trainingSet, maxFeatures int, seed int64) (*TreeNode, []int, error) {
	r := rand.New(rand.NewSource(seed))

	n := len(ts.X)
	boot := make([]int, n)
	for i := range boot {
		boot[i] = r.Intn(n)
	}
	features := selectRandomFeatures(ts.numFeat, maxFeatures, r)

	dt := NewDecisionTree(rf.MaxDepth, rf.MinSamplesSplit)
	root := dt.grower(ts.X).classify(ts.y, ts.numClasses).grow(boot, features)
	return root, features, nil
}

func selectRandomFeatures(nFeatures, maxFeatures int, r *rand.Rand) []int {
	features := allRows(nFeatures)
	for i := 0; i < maxFeatures && i < nFeatures; i++ {
		j := i + r.Intn(nFeatures-i)
		features[i], features[j] = features[j], features[i]
	}
	if maxFeatures > nFeatures {
		maxFeatures = nFeatures
	}
	return features[:maxFeatures]
}

// RandomForestModel predicts by majority vote of its trees.
type RandomForestModel struct {
	FeaturesCol    string
	NumClasses     int
	Trees          []*TreeNode
	FeatureIndices [][]int
}

func (m *RandomForestModel) HasScoreColumns() bool { return false }

func (m *RandomForestModel) Transform(ds *data.Dataset) (*data.Dataset, error) {
	return scoreDataset(ds, m.FeaturesCol, false, m)
}

func (m *RandomForestModel) scoreRow(x []float64) ([]float64, []float64, int, error) {
	votes := make([]float64, m.NumClasses)
	for _, tree := range m.Trees {
		votes[argmax(tree.leaf(x).Counts)]++
	}
	return votes, normalize(votes), argmax(votes), nil
}
