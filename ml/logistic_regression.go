package ml

import (
	"errors"
	"math"
)

type LogisticParams struct {
	Epochs       int
	LearningRate float64
	L2           float64
	// BalancedClassWeight reweights samples inversely to class frequency.
	BalancedClassWeight bool
}

func DefaultLogisticParams() LogisticParams {
	return LogisticParams{
		Epochs:       500,
		LearningRate: 0.1,
		L2:           1e-3,
	}
}

// LogisticRegression is a multinomial softmax classifier fitted by batch
// gradient descent. It has no tree structure, so it is explained with the
// sampling explainer.
type LogisticRegression struct {
	// Weights[c] holds the coefficients of class c; the last entry is the bias.
	Weights    [][]float64 `json:"weights"`
	NumClasses int         `json:"num_classes"`
}

func (lr *LogisticRegression) Fit(features [][]float64, labels []int, numClasses int, params LogisticParams) error {
	if len(features) == 0 || len(labels) == 0 {
		return ErrEmptyDataset
	}
	if len(features) != len(labels) {
		return ErrSizeMismatch
	}
	if params.Epochs <= 0 {
		params.Epochs = DefaultLogisticParams().Epochs
	}
	if params.LearningRate <= 0 {
		params.LearningRate = DefaultLogisticParams().LearningRate
	}

	classWeight := make([]float64, numClasses)
	for c := range classWeight {
		classWeight[c] = 1
	}
	if params.BalancedClassWeight {
		classWeight = balancedClassWeights(labels, numClasses)
	}

	width := len(features[0]) + 1
	weights := make([][]float64, numClasses)
	for c := range weights {
		weights[c] = make([]float64, width)
	}
	lr.Weights = weights
	lr.NumClasses = numClasses

	n := float64(len(features))
	grad := make([][]float64, numClasses)
	for c := range grad {
		grad[c] = make([]float64, width)
	}
	for epoch := 0; epoch < params.Epochs; epoch++ {
		for c := range grad {
			for j := range grad[c] {
				grad[c][j] = 0
			}
		}
		for i, row := range features {
			proba := lr.softmax(row)
			w := classWeight[labels[i]]
			for c := range proba {
				target := 0.0
				if labels[i] == c {
					target = 1
				}
				diff := w * (proba[c] - target)
				for j, v := range row {
					grad[c][j] += diff * v
				}
				grad[c][width-1] += diff
			}
		}
		for c := range weights {
			for j := range weights[c] {
				penalty := 0.0
				if j < width-1 {
					penalty = params.L2 * weights[c][j]
				}
				weights[c][j] -= params.LearningRate * (grad[c][j]/n + penalty)
			}
		}
	}
	return nil
}

func (lr *LogisticRegression) PredictProba(features []float64) ([]float64, error) {
	if len(lr.Weights) == 0 {
		return nil, ErrNotTrained
	}
	if len(features)+1 != len(lr.Weights[0]) {
		return nil, errors.New("feature count mismatch")
	}
	return lr.softmax(features), nil
}

func (lr *LogisticRegression) softmax(features []float64) []float64 {
	scores := make([]float64, len(lr.Weights))
	maxScore := math.Inf(-1)
	for c, w := range lr.Weights {
		s := w[len(w)-1]
		for j, v := range features {
			s += w[j] * v
		}
		scores[c] = s
		if s > maxScore {
			maxScore = s
		}
	}
	sum := 0.0
	for c := range scores {
		scores[c] = math.Exp(scores[c] - maxScore)
		sum += scores[c]
	}
	for c := range scores {
		scores[c] /= sum
	}
	return scores
}
