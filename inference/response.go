package inference

import (
	"math"
	"strconv"

	"healthai/ml"
)

const (
	positiveClass    = "1"
	maxHighRiskConds = 2
)

// ModelResult is what one pipeline produced for one request.
type ModelResult struct {
	Classes       []string
	Prediction    *ml.Prediction
	Contributions []ml.Contribution
	Method        string
}

// ModelBlock is the PascalCase block read by legacy consumers.
type ModelBlock struct {
	Prediction    any       `json:"Prediction"`
	Probabilities []float64 `json:"Probabilities"`
	TopFeatures   []string  `json:"Top_Features"`
}

type FeatureContribution struct {
	Feature   string  `json:"feature"`
	Value     float64 `json:"value"`
	Direction string  `json:"direction"`
	Text      string  `json:"text"`
}

type ModelExplanation struct {
	Prediction    any                   `json:"prediction"`
	Probabilities []float64             `json:"probabilities"`
	TopFeatures   []FeatureContribution `json:"top_features"`
	Method        string                `json:"method,omitempty"`
}

type Explanation struct {
	PatientID   string             `json:"patient_id,omitempty"`
	Features    ml.PatientFeatures `json:"features"`
	Readmission ModelExplanation   `json:"readmission"`
	Severity    ModelExplanation   `json:"severity"`
}

// Response is the /predict body.
type Response struct {
	RiskScore          float64     `json:"risk_score"`
	HighRiskConditions []string    `json:"high_risk_conditions"`
	Explanation        Explanation `json:"explanation"`
	Readmission        ModelBlock  `json:"Readmission"`
	Severity           ModelBlock  `json:"Severity"`
}

// Compose builds the response. It does not modify its inputs.
func Compose(req Request, readmission, severity *ModelResult) *Response {
	return &Response{
		RiskScore:          RiskScore(readmission.Classes, readmission.Prediction.Probabilities),
		HighRiskConditions: HighRiskConditions(readmission.Contributions),
		Explanation: Explanation{
			PatientID:   req.PatientID,
			Features:    req.Features,
			Readmission: explanationOf(readmission),
			Severity:    explanationOf(severity),
		},
		Readmission: blockOf(readmission),
		Severity:    blockOf(severity),
	}
}

// RiskScore is the probability of readmission class "1". Without that class
// it is the highest probability. The result is clamped to [0, 1].
func RiskScore(classes []string, probabilities []float64) float64 {
	if len(probabilities) == 0 {
		return 0
	}
	idx := -1
	for i, class := range classes {
		if class == positiveClass {
			idx = i
			break
		}
	}
	if idx < 0 || idx >= len(probabilities) {
		idx = argmax(probabilities)
	}
	if idx < 0 || idx >= len(probabilities) {
		idx = len(probabilities) - 1
	}
	return clamp01(probabilities[idx])
}

// HighRiskConditions returns, in ranked order, the names of the features
// pushing risk up.
func HighRiskConditions(contributions []ml.Contribution) []string {
	names := make([]string, 0, maxHighRiskConds)
	for _, c := range contributions {
		if len(names) == maxHighRiskConds {
			break
		}
		if c.IncreasesRisk() {
			names = append(names, c.Feature)
		}
	}
	return names
}

// LabelValue renders integral class labels as JSON numbers.
func LabelValue(label string) any {
	if n, err := strconv.Atoi(label); err == nil {
		return n
	}
	return label
}

func blockOf(r *ModelResult) ModelBlock {
	return ModelBlock{
		Prediction:    LabelValue(r.Prediction.Label),
		Probabilities: append([]float64(nil), r.Prediction.Probabilities...),
		TopFeatures:   ml.FormatContributions(r.Contributions),
	}
}

func explanationOf(r *ModelResult) ModelExplanation {
	top := make([]FeatureContribution, len(r.Contributions))
	for i, c := range r.Contributions {
		top[i] = FeatureContribution{
			Feature:   c.Feature,
			Value:     c.Value,
			Direction: ml.Direction(c.Value),
			Text:      c.String(),
		}
	}
	return ModelExplanation{
		Prediction:    LabelValue(r.Prediction.Label),
		Probabilities: append([]float64(nil), r.Prediction.Probabilities...),
		TopFeatures:   top,
		Method:        r.Method,
	}
}

func argmax(values []float64) int {
	best := -1
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if best < 0 || v > values[best] {
			best = i
		}
	}
	return best
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
