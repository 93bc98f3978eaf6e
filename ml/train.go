package ml

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

type TrainOptions struct {
	Kind     string
	Forest   ForestParams
	Logistic LogisticParams
	// BackgroundSize caps the number of scaled training rows kept for the
	// sampling explainer.
	BackgroundSize int
	Explain        ExplainOptions
}

func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		Kind:           KindRandomForest,
		Forest:         DefaultForestParams(),
		Logistic:       DefaultLogisticParams(),
		BackgroundSize: 100,
		Explain:        DefaultExplainOptions(),
	}
}

// TrainPipeline fits a scaler on the raw rows, then the classifier on the
// scaled rows, and returns a prepared pipeline.
func TrainPipeline(ctx context.Context, name string, features [][]float64, labels []string, opts TrainOptions) (*Pipeline, error) {
	if len(features) == 0 || len(labels) == 0 {
		return nil, ErrEmptyDataset
	}
	if len(features) != len(labels) {
		return nil, ErrSizeMismatch
	}

	scaler := &StandardScaler{}
	if err := scaler.Fit(features); err != nil {
		return nil, err
	}
	scaled, err := scaler.TransformAll(features)
	if err != nil {
		return nil, err
	}
	classes, encoded := EncodeLabels(labels)

	p := &Pipeline{
		Name:         name,
		FeatureNames: FeatureNames(),
		Classes:      classes,
		Scaler:       scaler,
		Kind:         opts.Kind,
		Background:   sampleRows(scaled, opts.BackgroundSize, opts.Forest.Seed),
		TrainedAt:    time.Now().UTC(),
	}

	switch opts.Kind {
	case KindRandomForest, "":
		p.Kind = KindRandomForest
		forest := &RandomForest{}
		if err := forest.Fit(ctx, scaled, encoded, len(classes), opts.Forest); err != nil {
			return nil, fmt.Errorf("train %s: %w", name, err)
		}
		p.Forest = forest
	case KindLogistic:
		logistic := &LogisticRegression{}
		if err := logistic.Fit(scaled, encoded, len(classes), opts.Logistic); err != nil {
			return nil, fmt.Errorf("train %s: %w", name, err)
		}
		p.Logistic = logistic
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedModel, opts.Kind)
	}

	if err := p.Prepare(opts.Explain); err != nil {
		return nil, err
	}
	return p, nil
}

func sampleRows(rows [][]float64, size int, seed int64) [][]float64 {
	if size <= 0 {
		return nil
	}
	if len(rows) <= size {
		out := make([][]float64, len(rows))
		copy(out, rows)
		return out
	}
	rnd := rand.New(rand.NewSource(seed))
	perm := rnd.Perm(len(rows))[:size]
	out := make([][]float64, size)
	for i, idx := range perm {
		out[i] = rows[idx]
	}
	return out
}
