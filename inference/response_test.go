package inference

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthai/ml"
)

func TestRiskScore(t *testing.T) {
	tests := []struct {
		name          string
		classes       []string
		probabilities []float64
		want          float64
	}{
		{name: "positive class", classes: []string{"0", "1"}, probabilities: []float64{0.3, 0.7}, want: 0.7},
		{name: "positive class first", classes: []string{"1", "0"}, probabilities: []float64{0.2, 0.8}, want: 0.2},
		{name: "no positive class", classes: []string{"no", "yes"}, probabilities: []float64{0.35, 0.65}, want: 0.65},
		{name: "class list shorter", classes: nil, probabilities: []float64{0.9, 0.1}, want: 0.9},
		{name: "empty", classes: []string{"0", "1"}, probabilities: nil, want: 0},
		{name: "clamped high", classes: []string{"0", "1"}, probabilities: []float64{-0.1, 1.2}, want: 1},
		{name: "clamped low", classes: []string{"0", "1"}, probabilities: []float64{1.1, -0.1}, want: 0},
		{name: "all NaN", classes: []string{"a"}, probabilities: []float64{math.NaN()}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RiskScore(tt.classes, tt.probabilities))
		})
	}
}

func TestHighRiskConditions(t *testing.T) {
	got := HighRiskConditions([]ml.Contribution{
		{Feature: "Creatinine", Value: 0.2},
		{Feature: "Sodium", Value: -0.15},
		{Feature: "Urea", Value: 0.1},
		{Feature: "Age", Value: 0.05},
	})
	assert.Equal(t, []string{"Creatinine", "Urea"}, got)

	got = HighRiskConditions([]ml.Contribution{{Feature: "Age", Value: 0}})
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestLabelValue(t *testing.T) {
	assert.Equal(t, 1, LabelValue("1"))
	assert.Equal(t, 0, LabelValue("0"))
	assert.Equal(t, "High", LabelValue("High"))
	assert.Equal(t, "1.5", LabelValue("1.5"))
}

func TestComposeJSON(t *testing.T) {
	readmission := &ModelResult{
		Classes:    []string{"0", "1"},
		Prediction: &ml.Prediction{Label: "1", ClassIndex: 1, Probabilities: []float64{0.25, 0.75}},
		Contributions: []ml.Contribution{
			{Feature: "Creatinine", Value: 0.21},
			{Feature: "Sodium", Value: -0.04},
		},
		Method: ml.MethodTree,
	}
	severity := &ModelResult{
		Classes:       []string{"High", "Low", "Medium"},
		Prediction:    &ml.Prediction{Label: "Medium", ClassIndex: 2, Probabilities: []float64{0.2, 0.1, 0.7}},
		Contributions: []ml.Contribution{{Feature: "Urea", Value: 0.3}, {Feature: "Age", Value: 0}},
		Method:        ml.MethodSampling,
	}
	req := Request{PatientID: "p1", Features: ml.PatientFeatures{Age: 70}}

	data, err := json.Marshal(Compose(req, readmission, severity))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"risk_score": 0.75,
		"high_risk_conditions": ["Creatinine"],
		"explanation": {
			"patient_id": "p1",
			"features": {"Age": 70, "Sodium": 0, "Creatinine": 0, "Urea": 0},
			"readmission": {
				"prediction": 1,
				"probabilities": [0.25, 0.75],
				"top_features": [
					{"feature": "Creatinine", "value": 0.21, "direction": "↑ increases risk", "text": "Creatinine (0.210) → ↑ increases risk"},
					{"feature": "Sodium", "value": -0.04, "direction": "↓ decreases risk", "text": "Sodium (-0.040) → ↓ decreases risk"}
				],
				"method": "tree"
			},
			"severity": {
				"prediction": "Medium",
				"probabilities": [0.2, 0.1, 0.7],
				"top_features": [
					{"feature": "Urea", "value": 0.3, "direction": "↑ increases risk", "text": "Urea (0.300) → ↑ increases risk"},
					{"feature": "Age", "value": 0, "direction": "↓ decreases risk", "text": "Age (0.000) → ↓ decreases risk"}
				],
				"method": "sampling"
			}
		},
		"Readmission": {
			"Prediction": 1,
			"Probabilities": [0.25, 0.75],
			"Top_Features": ["Creatinine (0.210) → ↑ increases risk", "Sodium (-0.040) → ↓ decreases risk"]
		},
		"Severity": {
			"Prediction": "Medium",
			"Probabilities": [0.2, 0.1, 0.7],
			"Top_Features": ["Urea (0.300) → ↑ increases risk", "Age (0.000) → ↓ decreases risk"]
		}
	}`, string(data))
}

func TestComposeOmitsMissingPatientID(t *testing.T) {
	result := &ModelResult{Classes: []string{"0", "1"}, Prediction: &ml.Prediction{Label: "0", Probabilities: []float64{1, 0}}}
	data, err := json.Marshal(Compose(Request{}, result, result))
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))
	assert.NotContains(t, body["explanation"], "patient_id")
	assert.Equal(t, []any{}, body["high_risk_conditions"])
	assert.Equal(t, []any{}, body["Readmission"].(map[string]any)["Top_Features"])
}
