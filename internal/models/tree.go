package models

import (
	"sort"

	"mlstages/internal/data"
	"mlstages/internal/pipeline"
)

// TreeNode is shared by classification and regression trees. Classification
// leaves carry per-class sample counts, regression leaves a value.
type TreeNode struct {
	IsLeaf           bool
	Feature          int
	Threshold        float64
	Left             *TreeNode
	Right            *TreeNode
	Samples          int
	Impurity         float64
	ImpurityDecrease float64
	Counts           []float64
	Value            float64
}

func (n *TreeNode) leaf(x []float64) *TreeNode {
	for !n.IsLeaf {
		if x[n.Feature] < n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n
}

func (n *TreeNode) depth() int {
	if n == nil || n.IsLeaf {
		return 0
	}
	l, r := n.Left.depth(), n.Right.depth()
	if l > r {
		return l + 1
	}
	return r + 1
}

type DecisionTree struct {
	BaseModel
	MaxDepth            int
	MinSamplesSplit     int
	MinImpurityDecrease float64
}

func NewDecisionTree(maxDepth, minSamplesSplit int) *DecisionTree {
	if maxDepth <= 0 {
		maxDepth = 5
	}
	if minSamplesSplit <= 0 {
		minSamplesSplit = 2
	}
	return &DecisionTree{
		MaxDepth:            maxDepth,
		MinSamplesSplit:     minSamplesSplit,
		MinImpurityDecrease: 1e-7,
		BaseModel: newBaseModel("DecisionTree", map[string]any{
			"max_depth":         maxDepth,
			"min_samples_split": minSamplesSplit,
		}),
	}
}

func (dt *DecisionTree) Family() Family        { return DecisionTreeFamily }
func (dt *DecisionTree) HasScoreColumns() bool { return true }

func (dt *DecisionTree) Fit(ds *data.Dataset) (pipeline.Transformer, error) {
	ts, err := extractTraining(ds, dt.FeaturesCol, dt.LabelCol)
	if err != nil {
		return nil, err
	}
	return &DecisionTreeModel{
		FeaturesCol: dt.FeaturesCol,
		NumClasses:  ts.numClasses,
		Root:        dt.grower(ts.X).classify(ts.y, ts.numClasses).grow(allRows(len(ts.X)), nil),
	}, nil
}

func (dt *DecisionTree) grower(X [][]float64) *treeGrower {
	return &treeGrower{
		X:           X,
		maxDepth:    dt.MaxDepth,
		minSplit:    dt.MinSamplesSplit,
		minDecrease: dt.MinImpurityDecrease,
	}
}

type DecisionTreeModel struct {
	FeaturesCol string
	NumClasses  int
	Root        *TreeNode
}

func (m *DecisionTreeModel) HasScoreColumns() bool { return true }

func (m *DecisionTreeModel) Depth() int { return m.Root.depth() }

func (m *DecisionTreeModel) Transform(ds *data.Dataset) (*data.Dataset, error) {
	return scoreDataset(ds, m.FeaturesCol, true, m)
}

func (m *DecisionTreeModel) scoreRow(x []float64) ([]float64, []float64, int, error) {
	leaf := m.Root.leaf(x)
	raw := make([]float64, m.NumClasses)
	copy(raw, leaf.Counts)
	return raw, normalize(raw), argmax(raw), nil
}

func allRows(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// treeGrower builds CART trees over row indices of X. It minimizes Gini
// impurity when class labels are set and variance when a target is set.
type treeGrower struct {
	X           [][]float64
	maxDepth    int
	minSplit    int
	minDecrease float64

	y          []int
	numClasses int
	target     []float64
}

func (g *treeGrower) classify(y []int, numClasses int) *treeGrower {
	g.y = y
	g.numClasses = numClasses
	return g
}

func (g *treeGrower) regress(target []float64) *treeGrower {
	g.target = target
	return g
}

// grow builds the tree over rows idx. When features is nil every feature is a
// split candidate.
func (g *treeGrower) grow(idx []int, features []int) *TreeNode {
	if features == nil && len(g.X) > 0 {
		features = allRows(len(g.X[0]))
	}
	return g.build(idx, features, 0)
}

func (g *treeGrower) build(idx []int, features []int, depth int) *TreeNode {
	st := g.stats(idx)
	node := &TreeNode{Samples: len(idx), Impurity: st.impurity()}
	if g.target == nil {
		node.Counts = st.counts
	} else if st.n > 0 {
		node.Value = st.sum / st.n
	}

	if depth >= g.maxDepth || len(idx) < g.minSplit || node.Impurity <= g.minDecrease {
		node.IsLeaf = true
		return node
	}

	feature, threshold, decrease, ok := g.bestSplit(idx, features, st)
	if !ok || decrease < g.minDecrease {
		node.IsLeaf = true
		return node
	}

	var left, right []int
	for _, i := range idx {
		if g.X[i][feature] < threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	node.Feature = feature
	node.Threshold = threshold
	node.ImpurityDecrease = decrease
	node.Left = g.build(left, features, depth+1)
	node.Right = g.build(right, features, depth+1)
	return node
}

func (g *treeGrower) bestSplit(idx []int, features []int, parent nodeStats) (int, float64, float64, bool) {
	bestFeature, bestThreshold, bestDecrease := 0, 0.0, 0.0
	found := false
	n := float64(len(idx))
	parentImpurity := parent.impurity()
	sorted := make([]int, len(idx))

	for _, f := range features {
		copy(sorted, idx)
		sort.Slice(sorted, func(a, b int) bool { return g.X[sorted[a]][f] < g.X[sorted[b]][f] })
		if g.X[sorted[0]][f] == g.X[sorted[len(sorted)-1]][f] {
			continue
		}

		left := g.emptyStats()
		right := parent.clone()
		for k := 0; k < len(sorted)-1; k++ {
			i := sorted[k]
			g.move(&left, &right, i)
			v, next := g.X[i][f], g.X[sorted[k+1]][f]
			if v == next {
				continue
			}
			nl := float64(k + 1)
			decrease := parentImpurity - (nl/n)*left.impurity() - ((n-nl)/n)*right.impurity()
			if decrease > bestDecrease {
				bestFeature = f
				bestThreshold = (v + next) / 2
				bestDecrease = decrease
				found = true
			}
		}
	}
	return bestFeature, bestThreshold, bestDecrease, found
}

type nodeStats struct {
	counts []float64
	n      float64
	sum    float64
	sumSq  float64
}

func (g *treeGrower) emptyStats() nodeStats {
	if g.target == nil {
		return nodeStats{counts: make([]float64, g.numClasses)}
	}
	return nodeStats{}
}

func (g *treeGrower) stats(idx []int) nodeStats {
	st := g.emptyStats()
	for _, i := range idx {
		g.add(&st, i, 1)
	}
	return st
}

func (g *treeGrower) add(st *nodeStats, i int, w float64) {
	st.n += w
	if g.target == nil {
		st.counts[g.y[i]] += w
		return
	}
	t := g.target[i]
	st.sum += w * t
	st.sumSq += w * t * t
}

func (g *treeGrower) move(left, right *nodeStats, i int) {
	g.add(left, i, 1)
	g.add(right, i, -1)
}

func (s nodeStats) clone() nodeStats {
	c := s
	if s.counts != nil {
		c.counts = append([]float64(nil), s.counts...)
	}
	return c
}

// impurity is Gini for class counts and variance otherwise.
func (s nodeStats) impurity() float64 {
	if s.n <= 0 {
		return 0
	}
	if s.counts != nil {
		imp := 1.0
		for _, c := range s.counts {
			p := c / s.n
			imp -= p * p
		}
		return imp
	}
	mean := s.sum / s.n
	v := s.sumSq/s.n - mean*mean
	if v < 0 {
		return 0
	}
	return v
}
