package ml

import (
	"errors"
	"math"
	"math/rand"
	"sort"
)

// DecisionTree is a CART classifier stored as a flat node array. Child
// indices are absolute positions in Nodes; the root is Nodes[0].
type DecisionTree struct {
	Nodes      []TreeNode `json:"nodes"`
	NumClasses int        `json:"num_classes"`
}

type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	// Cover is the weighted number of training samples that reached the node.
	Cover float64 `json:"cover"`
	// Value is the normalised class distribution at the node.
	Value  []float64 `json:"value"`
	IsLeaf bool      `json:"is_leaf"`
}

// TreeParams controls growth. Zero values mean: unlimited depth, all
// features considered at each split, at least two samples to split.
type TreeParams struct {
	MaxDepth        int
	MaxFeatures     int
	MinSamplesSplit int
}

type treeBuilder struct {
	features [][]float64
	labels   []int
	weights  []float64
	params   TreeParams
	rng      *rand.Rand
}

// Train grows the tree on labels in [0, numClasses). weights may be nil.
func (dt *DecisionTree) Train(features [][]float64, labels []int, weights []float64, numClasses int, params TreeParams, rng *rand.Rand) error {
	if len(features) == 0 || len(labels) == 0 {
		return ErrEmptyDataset
	}
	if len(features) != len(labels) {
		return ErrSizeMismatch
	}
	if weights != nil && len(weights) != len(labels) {
		return errors.New("weights and labels size mismatch")
	}
	if numClasses < 1 {
		return errors.New("numClasses must be positive")
	}
	for _, label := range labels {
		if label < 0 || label >= numClasses {
			return errors.New("label out of range")
		}
	}
	if weights == nil {
		weights = make([]float64, len(labels))
		for i := range weights {
			weights[i] = 1
		}
	}
	if params.MinSamplesSplit < 2 {
		params.MinSamplesSplit = 2
	}
	featureCount := len(features[0])
	if params.MaxFeatures <= 0 || params.MaxFeatures > featureCount {
		params.MaxFeatures = featureCount
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(0))
	}

	idx := make([]int, 0, len(labels))
	for i, w := range weights {
		if w > 0 {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return errors.New("all sample weights are zero")
	}

	b := &treeBuilder{
		features: features,
		labels:   labels,
		weights:  weights,
		params:   params,
		rng:      rng,
	}
	dt.NumClasses = numClasses
	dt.Nodes = nil
	dt.buildNode(b, idx, 0)
	return nil
}

// PredictProba returns the class distribution of the leaf reached by x.
func (dt *DecisionTree) PredictProba(features []float64) ([]float64, error) {
	leaf, err := dt.leafIndex(features)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), dt.Nodes[leaf].Value...), nil
}

// Predict returns the majority class of the reached leaf and its share.
func (dt *DecisionTree) Predict(features []float64) (int, float64, error) {
	proba, err := dt.PredictProba(features)
	if err != nil {
		return 0, 0, err
	}
	label := argmax(proba)
	return label, proba[label], nil
}

// Depth returns the number of edges on the longest root-to-leaf path.
func (dt *DecisionTree) Depth() int {
	if len(dt.Nodes) == 0 {
		return 0
	}
	var walk func(idx int) int
	walk = func(idx int) int {
		node := dt.Nodes[idx]
		if node.IsLeaf {
			return 0
		}
		left := walk(node.LeftChild)
		right := walk(node.RightChild)
		if left > right {
			return left + 1
		}
		return right + 1
	}
	return walk(0)
}

func (dt *DecisionTree) leafIndex(features []float64) (int, error) {
	if len(dt.Nodes) == 0 {
		return 0, ErrNotTrained
	}
	idx := 0
	for steps := 0; steps <= len(dt.Nodes); steps++ {
		node := dt.Nodes[idx]
		if node.IsLeaf {
			return idx, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return 0, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.Nodes) {
			return 0, errors.New("invalid tree state")
		}
	}
	return 0, errors.New("invalid tree state")
}

func (dt *DecisionTree) buildNode(b *treeBuilder, idx []int, depth int) int {
	counts, total := b.classWeights(idx, dt.NumClasses)
	nodeIdx := len(dt.Nodes)
	dt.Nodes = append(dt.Nodes, TreeNode{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		Cover:      total,
		Value:      normalize(counts, total),
		IsLeaf:     true,
	})

	if b.params.MaxDepth > 0 && depth >= b.params.MaxDepth {
		return nodeIdx
	}
	if len(idx) < b.params.MinSamplesSplit || isPure(counts) {
		return nodeIdx
	}

	bestFeature, threshold, ok := b.findBestSplit(idx, counts, total)
	if !ok {
		return nodeIdx
	}
	left, right := b.partition(idx, bestFeature, threshold)
	if len(left) == 0 || len(right) == 0 {
		return nodeIdx
	}

	leftIdx := dt.buildNode(b, left, depth+1)
	rightIdx := dt.buildNode(b, right, depth+1)

	node := &dt.Nodes[nodeIdx]
	node.FeatureIdx = bestFeature
	node.Threshold = threshold
	node.LeftChild = leftIdx
	node.RightChild = rightIdx
	node.IsLeaf = false
	return nodeIdx
}

func (b *treeBuilder) classWeights(idx []int, numClasses int) ([]float64, float64) {
	counts := make([]float64, numClasses)
	total := 0.0
	for _, i := range idx {
		counts[b.labels[i]] += b.weights[i]
		total += b.weights[i]
	}
	return counts, total
}

// findBestSplit inspects MaxFeatures randomly chosen features and keeps
// looking past that budget until at least one valid split is found.
func (b *treeBuilder) findBestSplit(idx []int, counts []float64, total float64) (int, float64, bool) {
	featureCount := len(b.features[0])
	bestFeature := -1
	bestThreshold := 0.0
	bestImpurity := math.MaxFloat64

	sorted := make([]int, len(idx))
	left := make([]float64, len(counts))
	for visited, featureIdx := range b.rng.Perm(featureCount) {
		if visited >= b.params.MaxFeatures && bestFeature != -1 {
			break
		}

		copy(sorted, idx)
		sort.SliceStable(sorted, func(i, j int) bool {
			return b.features[sorted[i]][featureIdx] < b.features[sorted[j]][featureIdx]
		})

		for c := range left {
			left[c] = 0
		}
		leftWeight := 0.0
		for pos := 0; pos < len(sorted)-1; pos++ {
			sample := sorted[pos]
			left[b.labels[sample]] += b.weights[sample]
			leftWeight += b.weights[sample]

			current := b.features[sample][featureIdx]
			next := b.features[sorted[pos+1]][featureIdx]
			if next <= current {
				continue
			}
			rightWeight := total - leftWeight
			impurity := (leftWeight*giniOf(left, leftWeight) + rightWeight*giniRest(counts, left, rightWeight)) / total
			if impurity < bestImpurity {
				bestImpurity = impurity
				bestFeature = featureIdx
				bestThreshold = midpoint(current, next)
			}
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

func (b *treeBuilder) partition(idx []int, featureIdx int, threshold float64) ([]int, []int) {
	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if b.features[i][featureIdx] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}

func giniOf(counts []float64, total float64) float64 {
	if total <= 0 {
		return 0
	}
	impurity := 1.0
	for _, c := range counts {
		p := c / total
		impurity -= p * p
	}
	return impurity
}

func giniRest(all, left []float64, total float64) float64 {
	if total <= 0 {
		return 0
	}
	impurity := 1.0
	for c := range all {
		p := (all[c] - left[c]) / total
		impurity -= p * p
	}
	return impurity
}

func midpoint(a, b float64) float64 {
	mid := a + (b-a)/2
	// rounding can land on b, which would send b left
	if mid >= b {
		return a
	}
	return mid
}

func normalize(counts []float64, total float64) []float64 {
	out := make([]float64, len(counts))
	if total <= 0 {
		return out
	}
	for i, c := range counts {
		out[i] = c / total
	}
	return out
}

func isPure(counts []float64) bool {
	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}

func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
