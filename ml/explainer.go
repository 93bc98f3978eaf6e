package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

const (
	MethodTree     = "tree"
	MethodSampling = "sampling"
)

const (
	DirectionIncreases = "↑ increases risk"
	DirectionDecreases = "↓ decreases risk"
)

// Attribution holds per-feature contributions, one row per model output.
type Attribution struct {
	Values   [][]float64
	Expected []float64
	Method   string
}

// Explainer attributes one scaled input row to its features.
type Explainer interface {
	Explain(features []float64) (*Attribution, error)
	Method() string
}

// SamplingExplainer estimates Shapley values by walking random feature
// permutations from a background row to the explained row. The model is
// only queried through PredictProba. The random source is reseeded on every
// call, so the same input always yields the same attribution.
type SamplingExplainer struct {
	model        Classifier
	background   [][]float64
	permutations int
	seed         int64
}

func NewSamplingExplainer(model Classifier, background [][]float64, permutations int, seed int64) (*SamplingExplainer, error) {
	if len(background) == 0 {
		return nil, errors.New("sampling explainer needs background data")
	}
	if permutations <= 0 {
		permutations = 64
	}
	return &SamplingExplainer{
		model:        model,
		background:   background,
		permutations: permutations,
		seed:         seed,
	}, nil
}

func (e *SamplingExplainer) Method() string { return MethodSampling }

func (e *SamplingExplainer) Explain(features []float64) (*Attribution, error) {
	width := len(features)
	target, err := e.model.PredictProba(features)
	if err != nil {
		return nil, err
	}
	outputs := len(target)

	phi := make([][]float64, outputs)
	for c := range phi {
		phi[c] = make([]float64, width)
	}
	expected := make([]float64, outputs)

	rng := rand.New(rand.NewSource(e.seed))
	current := make([]float64, width)
	for p := 0; p < e.permutations; p++ {
		base := e.background[rng.Intn(len(e.background))]
		if len(base) != width {
			return nil, errFeatureCount(len(base))
		}
		copy(current, base)
		prev, err := e.model.PredictProba(current)
		if err != nil {
			return nil, err
		}
		for c := range expected {
			expected[c] += prev[c]
		}
		for _, j := range rng.Perm(width) {
			current[j] = features[j]
			next, err := e.model.PredictProba(current)
			if err != nil {
				return nil, err
			}
			for c := range next {
				phi[c][j] += next[c] - prev[c]
			}
			prev = next
		}
	}

	n := float64(e.permutations)
	for c := range phi {
		for j := range phi[c] {
			phi[c][j] /= n
		}
		expected[c] /= n
	}
	return &Attribution{Values: phi, Expected: expected, Method: MethodSampling}, nil
}

// SelectAttribution reduces an attribution to one value per feature. A
// single-output attribution is used as is. With several outputs the row of
// the most probable class is taken; if that row does not exist, row 1 is
// used when there is more than one row, else row 0.
func SelectAttribution(attr *Attribution, probabilities []float64, featureCount int) ([]float64, error) {
	if attr == nil || len(attr.Values) == 0 {
		return nil, fmt.Errorf("%w: no attribution rows", ErrAttributionShape)
	}

	var row []float64
	switch {
	case len(attr.Values) == 1:
		row = attr.Values[0]
	default:
		idx := -1
		if len(probabilities) > 0 {
			idx = argmax(probabilities)
		}
		if idx < 0 || idx >= len(attr.Values) {
			idx = 1
		}
		row = attr.Values[idx]
	}

	if len(row) != featureCount {
		return nil, fmt.Errorf("%w: %d values for %d features", ErrAttributionShape, len(row), featureCount)
	}
	return append([]float64(nil), row...), nil
}

// Contribution is one ranked feature attribution.
type Contribution struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"value"`
}

// Direction labels a signed value. Only strictly positive values increase
// risk; an exact zero is reported as decreasing it.
func Direction(value float64) string {
	if value > 0 {
		return DirectionIncreases
	}
	return DirectionDecreases
}

func (c Contribution) IncreasesRisk() bool {
	return c.Value > 0
}

func (c Contribution) String() string {
	return fmt.Sprintf("%s (%.3f) → %s", c.Feature, c.Value, Direction(c.Value))
}

// RankContributions orders features by descending absolute value, keeping
// feature order among ties, and returns at most k of them.
func RankContributions(names []string, values []float64, k int) ([]Contribution, error) {
	if len(names) != len(values) {
		return nil, fmt.Errorf("%w: %d values for %d features", ErrAttributionShape, len(values), len(names))
	}
	ranked := make([]Contribution, len(names))
	for i, name := range names {
		ranked[i] = Contribution{Feature: name, Value: values[i]}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return math.Abs(ranked[i].Value) > math.Abs(ranked[j].Value)
	})
	if k >= 0 && k < len(ranked) {
		ranked = ranked[:k]
	}
	return ranked, nil
}

func FormatContributions(contributions []Contribution) []string {
	out := make([]string, len(contributions))
	for i, c := range contributions {
		out[i] = c.String()
	}
	return out
}
