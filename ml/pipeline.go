package ml

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	KindRandomForest = "random_forest"
	KindLogistic     = "logistic_regression"
)

// ExplainOptions tunes the sampling explainer.
type ExplainOptions struct {
	Permutations int
	Seed         int64
}

func DefaultExplainOptions() ExplainOptions {
	return ExplainOptions{Permutations: 64, Seed: 42}
}

// Pipeline pairs a fitted scaler with a fitted classifier. It is the
// persisted model artifact and is immutable once prepared.
type Pipeline struct {
	Name         string              `json:"name"`
	FeatureNames []string            `json:"feature_names"`
	Classes      []string            `json:"classes"`
	Scaler       *StandardScaler     `json:"scaler"`
	Kind         string              `json:"kind"`
	Forest       *RandomForest       `json:"forest,omitempty"`
	Logistic     *LogisticRegression `json:"logistic,omitempty"`
	// Background holds scaled training rows used by the sampling explainer.
	Background [][]float64 `json:"background,omitempty"`
	TrainedAt  time.Time   `json:"trained_at"`

	classifier Classifier
	primary    Explainer
	fallback   Explainer
}

// Prepare resolves the classifier and picks the explainers. A forest is
// explained exactly, with the sampling explainer kept as a one-shot
// fallback; other classifiers are explained by sampling only. Any
// structural inconsistency in the artifact is an error.
func (p *Pipeline) Prepare(opts ExplainOptions) error {
	if p.Scaler == nil {
		return fmt.Errorf("pipeline %q: missing scaler", p.Name)
	}
	if len(p.FeatureNames) == 0 {
		p.FeatureNames = FeatureNames()
	}
	width := len(p.FeatureNames)
	if len(p.Scaler.Mean) != width || len(p.Scaler.Scale) != width {
		return fmt.Errorf("pipeline %q: scaler has %d features, want %d", p.Name, len(p.Scaler.Mean), width)
	}
	if len(p.Classes) == 0 {
		return fmt.Errorf("pipeline %q: no class labels", p.Name)
	}
	for i, row := range p.Background {
		if len(row) != width {
			return fmt.Errorf("pipeline %q: background row %d has %d features, want %d", p.Name, i, len(row), width)
		}
	}

	switch p.Kind {
	case KindRandomForest:
		if err := p.checkForest(); err != nil {
			return err
		}
		p.classifier = p.Forest
	case KindLogistic:
		if err := p.checkLogistic(); err != nil {
			return err
		}
		p.classifier = p.Logistic
	default:
		return fmt.Errorf("pipeline %q: %w: %s", p.Name, ErrUnsupportedModel, p.Kind)
	}

	var sampling Explainer
	if len(p.Background) > 0 {
		explainer, err := NewSamplingExplainer(p.classifier, p.Background, opts.Permutations, opts.Seed)
		if err != nil {
			return err
		}
		sampling = explainer
	}

	ensemble, ok := p.classifier.(TreeEnsemble)
	if !ok {
		if sampling == nil {
			return fmt.Errorf("pipeline %q: %s model has no background rows to explain against", p.Name, p.Kind)
		}
		p.primary, p.fallback = sampling, nil
		return nil
	}
	tree, err := NewTreeExplainer(ensemble)
	if err != nil {
		return fmt.Errorf("pipeline %q: tree explainer: %w", p.Name, err)
	}
	p.primary, p.fallback = tree, sampling
	return nil
}

func (p *Pipeline) checkForest() error {
	if p.Forest == nil {
		return fmt.Errorf("pipeline %q: missing forest", p.Name)
	}
	if p.Forest.NumClasses != len(p.Classes) {
		return fmt.Errorf("pipeline %q: forest has %d classes, want %d", p.Name, p.Forest.NumClasses, len(p.Classes))
	}
	if len(p.Forest.Trees) == 0 {
		return fmt.Errorf("pipeline %q: forest has no trees: %w", p.Name, ErrNotTrained)
	}
	for i, tree := range p.Forest.Trees {
		if tree == nil || len(tree.Nodes) == 0 {
			return fmt.Errorf("pipeline %q: tree %d is empty: %w", p.Name, i, ErrNotTrained)
		}
		if tree.NumClasses != len(p.Classes) {
			return fmt.Errorf("pipeline %q: tree %d has %d classes, want %d", p.Name, i, tree.NumClasses, len(p.Classes))
		}
		// children are stored after their parent
		for j, node := range tree.Nodes {
			if node.IsLeaf {
				if len(node.Value) != len(p.Classes) {
					return fmt.Errorf("pipeline %q: tree %d leaf %d has %d class values, want %d", p.Name, i, j, len(node.Value), len(p.Classes))
				}
				continue
			}
			if node.FeatureIdx < 0 || node.FeatureIdx >= len(p.FeatureNames) ||
				node.LeftChild <= j || node.LeftChild >= len(tree.Nodes) ||
				node.RightChild <= j || node.RightChild >= len(tree.Nodes) {
				return fmt.Errorf("pipeline %q: tree %d node %d is malformed", p.Name, i, j)
			}
		}
	}
	return nil
}

func (p *Pipeline) checkLogistic() error {
	if p.Logistic == nil {
		return fmt.Errorf("pipeline %q: missing logistic model", p.Name)
	}
	if p.Logistic.NumClasses != len(p.Classes) || len(p.Logistic.Weights) != len(p.Classes) {
		return fmt.Errorf("pipeline %q: logistic model has %d classes, want %d", p.Name, len(p.Logistic.Weights), len(p.Classes))
	}
	for c, w := range p.Logistic.Weights {
		// one coefficient per feature plus the bias
		if len(w) != len(p.FeatureNames)+1 {
			return fmt.Errorf("pipeline %q: class %d has %d weights, want %d", p.Name, c, len(w), len(p.FeatureNames)+1)
		}
	}
	return nil
}

// ExplainerMethod reports the primary attribution method.
func (p *Pipeline) ExplainerMethod() string {
	if p.primary == nil {
		return ""
	}
	return p.primary.Method()
}

// Predict scales the raw features and classifies them.
func (p *Pipeline) Predict(features []float64) (*Prediction, error) {
	scaled, err := p.scale(features)
	if err != nil {
		return nil, err
	}
	proba, err := p.classifier.PredictProba(scaled)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", p.Name, err)
	}
	if len(proba) != len(p.Classes) {
		return nil, fmt.Errorf("pipeline %q: %d probabilities for %d classes", p.Name, len(proba), len(p.Classes))
	}
	idx := argmax(proba)
	return &Prediction{
		Label:         p.Classes[idx],
		ClassIndex:    idx,
		Probabilities: proba,
	}, nil
}

// Explain attributes the scaled instance with the primary explainer and
// retries once with the fallback when the primary fails.
func (p *Pipeline) Explain(features []float64) (*Attribution, error) {
	scaled, err := p.scale(features)
	if err != nil {
		return nil, err
	}
	attr, err := p.primary.Explain(scaled)
	if err == nil {
		return attr, nil
	}
	if p.fallback == nil {
		return nil, fmt.Errorf("pipeline %q: %s explainer: %w", p.Name, p.primary.Method(), err)
	}
	attr, fallbackErr := p.fallback.Explain(scaled)
	if fallbackErr != nil {
		return nil, fmt.Errorf("pipeline %q: %s explainer: %v; %s explainer: %w", p.Name, p.primary.Method(), err, p.fallback.Method(), fallbackErr)
	}
	return attr, nil
}

func (p *Pipeline) scale(features []float64) ([]float64, error) {
	if p.classifier == nil {
		return nil, fmt.Errorf("pipeline %q: %w", p.Name, ErrNotTrained)
	}
	if len(features) != len(p.FeatureNames) {
		return nil, errFeatureCount(len(features))
	}
	return p.Scaler.Transform(features)
}

// Save writes the pipeline as zstd-compressed JSON.
func (p *Pipeline) Save(path string) error {
	if p.Scaler == nil || (p.Forest == nil && p.Logistic == nil) {
		return ErrNotTrained
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	encoder, err := zstd.NewWriter(file)
	if err != nil {
		file.Close()
		return err
	}
	if err := json.NewEncoder(encoder).Encode(p); err != nil {
		encoder.Close()
		file.Close()
		return err
	}
	if err := encoder.Close(); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	// rename so a watcher never sees a half-written artifact
	return os.Rename(tmp, path)
}
