package ml

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
)

type ForestParams struct {
	NEstimators int
	MaxDepth    int
	Seed        int64
	// BalancedClassWeight reweights samples inversely to class frequency.
	BalancedClassWeight bool
}

func DefaultForestParams() ForestParams {
	return ForestParams{
		NEstimators: 200,
		Seed:        42,
	}
}

// RandomForest averages the leaf distributions of bootstrapped trees.
type RandomForest struct {
	Trees      []*DecisionTree `json:"trees"`
	NumClasses int             `json:"num_classes"`
}

// Fit trains the forest. Trees are built concurrently; each tree owns a
// random source derived from the seed, so the result does not depend on
// scheduling.
func (rf *RandomForest) Fit(ctx context.Context, features [][]float64, labels []int, numClasses int, params ForestParams) error {
	if len(features) == 0 || len(labels) == 0 {
		return ErrEmptyDataset
	}
	if len(features) != len(labels) {
		return ErrSizeMismatch
	}
	if params.NEstimators <= 0 {
		return errors.New("n_estimators must be positive")
	}

	classWeight := make([]float64, numClasses)
	for c := range classWeight {
		classWeight[c] = 1
	}
	if params.BalancedClassWeight {
		classWeight = balancedClassWeights(labels, numClasses)
	}

	featureCount := len(features[0])
	maxFeatures := int(math.Sqrt(float64(featureCount)))
	if maxFeatures < 1 {
		maxFeatures = 1
	}
	treeParams := TreeParams{
		MaxDepth:    params.MaxDepth,
		MaxFeatures: maxFeatures,
	}

	trees := make([]*DecisionTree, params.NEstimators)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i := range trees {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(params.Seed + int64(i)))
			weights := bootstrapWeights(rng, labels, classWeight)
			tree := &DecisionTree{}
			if err := tree.Train(features, labels, weights, numClasses, treeParams, rng); err != nil {
				return err
			}
			trees[i] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	rf.Trees = trees
	rf.NumClasses = numClasses
	return nil
}

func (rf *RandomForest) PredictProba(features []float64) ([]float64, error) {
	if len(rf.Trees) == 0 {
		return nil, ErrNotTrained
	}
	proba := make([]float64, rf.NumClasses)
	for _, tree := range rf.Trees {
		leaf, err := tree.PredictProba(features)
		if err != nil {
			return nil, err
		}
		if len(leaf) != rf.NumClasses {
			return nil, errors.New("tree class count mismatch")
		}
		for c, p := range leaf {
			proba[c] += p
		}
	}
	n := float64(len(rf.Trees))
	for c := range proba {
		proba[c] /= n
	}
	return proba, nil
}

func (rf *RandomForest) TreeList() []*DecisionTree {
	return rf.Trees
}

func bootstrapWeights(rng *rand.Rand, labels []int, classWeight []float64) []float64 {
	n := len(labels)
	weights := make([]float64, n)
	for i := 0; i < n; i++ {
		weights[rng.Intn(n)]++
	}
	for i, w := range weights {
		weights[i] = w * classWeight[labels[i]]
	}
	return weights
}

func balancedClassWeights(labels []int, numClasses int) []float64 {
	counts := make([]float64, numClasses)
	for _, label := range labels {
		counts[label]++
	}
	weights := make([]float64, numClasses)
	present := 0
	for _, c := range counts {
		if c > 0 {
			present++
		}
	}
	for c, count := range counts {
		if count == 0 {
			weights[c] = 1
			continue
		}
		weights[c] = float64(len(labels)) / (float64(present) * count)
	}
	return weights
}
