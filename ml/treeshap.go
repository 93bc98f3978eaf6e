package ml

import (
	"errors"
	"fmt"
)

// TreeList lets a single tree be explained like a one-tree ensemble.
func (dt *DecisionTree) TreeList() []*DecisionTree {
	return []*DecisionTree{dt}
}

// TreeExplainer computes exact path-dependent SHAP values for tree
// ensembles (Lundberg et al., polynomial-time TreeSHAP). Attributions of a
// forest are the mean of its trees' attributions.
type TreeExplainer struct {
	trees      []*DecisionTree
	numClasses int
}

func NewTreeExplainer(model TreeEnsemble) (*TreeExplainer, error) {
	trees := model.TreeList()
	if len(trees) == 0 {
		return nil, ErrNotTrained
	}
	numClasses := trees[0].NumClasses
	for _, tree := range trees {
		if len(tree.Nodes) == 0 {
			return nil, ErrNotTrained
		}
		if tree.NumClasses != numClasses {
			return nil, errors.New("trees disagree on class count")
		}
	}
	return &TreeExplainer{trees: trees, numClasses: numClasses}, nil
}

func (e *TreeExplainer) Method() string { return MethodTree }

// Explain returns one attribution row per class.
func (e *TreeExplainer) Explain(features []float64) (*Attribution, error) {
	width := len(features)
	phi := make([][]float64, e.numClasses)
	for c := range phi {
		phi[c] = make([]float64, width)
	}
	expected := make([]float64, e.numClasses)

	for _, tree := range e.trees {
		if err := treeShap(tree, features, phi); err != nil {
			return nil, err
		}
		base := expectedValue(tree)
		for c := range expected {
			expected[c] += base[c]
		}
	}

	n := float64(len(e.trees))
	for c := range phi {
		for j := range phi[c] {
			phi[c][j] /= n
		}
		expected[c] /= n
	}
	return &Attribution{Values: phi, Expected: expected, Method: MethodTree}, nil
}

type pathElement struct {
	featureIdx   int
	zeroFraction float64
	oneFraction  float64
	weight       float64
}

type shapWalk struct {
	tree     *DecisionTree
	features []float64
	phi      [][]float64
}

func treeShap(tree *DecisionTree, features []float64, phi [][]float64) error {
	w := &shapWalk{tree: tree, features: features, phi: phi}
	return w.recurse(0, nil, 0, 1, 1, -1)
}

func (w *shapWalk) recurse(nodeIdx int, parentPath []pathElement, depth int, zeroFraction, oneFraction float64, featureIdx int) error {
	if nodeIdx < 0 || nodeIdx >= len(w.tree.Nodes) {
		return errors.New("invalid tree state")
	}
	path := make([]pathElement, depth+1)
	copy(path, parentPath[:depth])
	extendPath(path, depth, zeroFraction, oneFraction, featureIdx)

	node := w.tree.Nodes[nodeIdx]
	if node.IsLeaf {
		if len(node.Value) != len(w.phi) {
			return fmt.Errorf("leaf has %d outputs, want %d", len(node.Value), len(w.phi))
		}
		for i := 1; i <= depth; i++ {
			scale := unwoundPathSum(path, depth, i) * (path[i].oneFraction - path[i].zeroFraction)
			feature := path[i].featureIdx
			for c, v := range node.Value {
				w.phi[c][feature] += scale * v
			}
		}
		return nil
	}

	if node.FeatureIdx < 0 || node.FeatureIdx >= len(w.features) {
		return errors.New("feature index out of range")
	}
	if node.Cover <= 0 {
		return errors.New("node with zero cover")
	}
	hot, cold := node.LeftChild, node.RightChild
	if w.features[node.FeatureIdx] > node.Threshold {
		hot, cold = cold, hot
	}
	if hot < 0 || hot >= len(w.tree.Nodes) || cold < 0 || cold >= len(w.tree.Nodes) {
		return errors.New("invalid tree state")
	}
	hotZero := w.tree.Nodes[hot].Cover / node.Cover
	coldZero := w.tree.Nodes[cold].Cover / node.Cover

	incomingZero, incomingOne := 1.0, 1.0
	// a feature already on the path is unwound so it is counted once
	for i := 1; i <= depth; i++ {
		if path[i].featureIdx == node.FeatureIdx {
			incomingZero = path[i].zeroFraction
			incomingOne = path[i].oneFraction
			unwindPath(path, depth, i)
			depth--
			break
		}
	}

	if err := w.recurse(hot, path, depth+1, hotZero*incomingZero, incomingOne, node.FeatureIdx); err != nil {
		return err
	}
	return w.recurse(cold, path, depth+1, coldZero*incomingZero, 0, node.FeatureIdx)
}

func extendPath(path []pathElement, depth int, zeroFraction, oneFraction float64, featureIdx int) {
	path[depth] = pathElement{
		featureIdx:   featureIdx,
		zeroFraction: zeroFraction,
		oneFraction:  oneFraction,
	}
	if depth == 0 {
		path[depth].weight = 1
	}
	d := float64(depth + 1)
	for i := depth - 1; i >= 0; i-- {
		path[i+1].weight += oneFraction * path[i].weight * float64(i+1) / d
		path[i].weight = zeroFraction * path[i].weight * float64(depth-i) / d
	}
}

func unwindPath(path []pathElement, depth, pathIdx int) {
	one := path[pathIdx].oneFraction
	zero := path[pathIdx].zeroFraction
	next := path[depth].weight
	d := float64(depth + 1)
	for i := depth - 1; i >= 0; i-- {
		if one != 0 {
			tmp := path[i].weight
			path[i].weight = next * d / (float64(i+1) * one)
			next = tmp - path[i].weight*zero*float64(depth-i)/d
		} else {
			path[i].weight = path[i].weight * d / (zero * float64(depth-i))
		}
	}
	for i := pathIdx; i < depth; i++ {
		path[i].featureIdx = path[i+1].featureIdx
		path[i].zeroFraction = path[i+1].zeroFraction
		path[i].oneFraction = path[i+1].oneFraction
	}
}

func unwoundPathSum(path []pathElement, depth, pathIdx int) float64 {
	one := path[pathIdx].oneFraction
	zero := path[pathIdx].zeroFraction
	next := path[depth].weight
	d := float64(depth + 1)
	total := 0.0
	for i := depth - 1; i >= 0; i-- {
		if one != 0 {
			tmp := next * d / (float64(i+1) * one)
			total += tmp
			next = path[i].weight - tmp*zero*float64(depth-i)/d
		} else {
			total += path[i].weight / zero / (float64(depth-i) / d)
		}
	}
	return total
}

// expectedValue is the cover-weighted mean leaf distribution of a tree.
func expectedValue(tree *DecisionTree) []float64 {
	out := make([]float64, tree.NumClasses)
	root := tree.Nodes[0].Cover
	if root <= 0 {
		return out
	}
	for _, node := range tree.Nodes {
		if !node.IsLeaf {
			continue
		}
		for c, v := range node.Value {
			out[c] += v * node.Cover / root
		}
	}
	return out
}
