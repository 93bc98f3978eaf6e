package ml

import (
	"errors"
	"math"
)

// StandardScaler centres each feature on its training mean and divides by the
// population standard deviation.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func (s *StandardScaler) Fit(features [][]float64) error {
	if len(features) == 0 {
		return errors.New("features is empty")
	}
	width := len(features[0])
	mean := make([]float64, width)
	for _, row := range features {
		if len(row) != width {
			return errors.New("ragged feature matrix")
		}
		for j, v := range row {
			mean[j] += v
		}
	}
	n := float64(len(features))
	for j := range mean {
		mean[j] /= n
	}

	scale := make([]float64, width)
	for _, row := range features {
		for j, v := range row {
			diff := v - mean[j]
			scale[j] += diff * diff
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / n)
		// constant columns pass through unscaled
		if scale[j] == 0 {
			scale[j] = 1
		}
	}

	s.Mean = mean
	s.Scale = scale
	return nil
}

func (s *StandardScaler) Transform(values []float64) ([]float64, error) {
	if len(s.Mean) == 0 {
		return nil, errors.New("scaler not fitted")
	}
	if len(values) != len(s.Mean) {
		return nil, errFeatureCount(len(values))
	}
	result := make([]float64, len(values))
	for i, v := range values {
		result[i] = (v - s.Mean[i]) / s.Scale[i]
	}
	return result, nil
}

func (s *StandardScaler) TransformAll(features [][]float64) ([][]float64, error) {
	out := make([][]float64, len(features))
	for i, row := range features {
		scaled, err := s.Transform(row)
		if err != nil {
			return nil, err
		}
		out[i] = scaled
	}
	return out, nil
}
