package ml

// Classifier is the inference contract of every fitted model. Inputs are
// already scaled.
type Classifier interface {
	PredictProba(features []float64) ([]float64, error)
}

// TreeEnsemble is implemented by models whose structure can be walked by
// the exact tree explainer.
type TreeEnsemble interface {
	Classifier
	TreeList() []*DecisionTree
}

// Prediction is the output of one pipeline for one input row.
type Prediction struct {
	Label         string
	ClassIndex    int
	Probabilities []float64
}
