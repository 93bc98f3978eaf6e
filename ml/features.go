package ml

// PatientFeatures is the fixed input of both models.
type PatientFeatures struct {
	Age        float64 `json:"Age"`
	Sodium     float64 `json:"Sodium"`
	Creatinine float64 `json:"Creatinine"`
	Urea       float64 `json:"Urea"`
}

// FeatureVector returns the features in model order.
func FeatureVector(feature PatientFeatures) []float64 {
	return []float64{
		feature.Age,
		feature.Sodium,
		feature.Creatinine,
		feature.Urea,
	}
}

func FeatureNames() []string {
	return []string{
		"Age",
		"Sodium",
		"Creatinine",
		"Urea",
	}
}

// FeaturesFromVector is the inverse of FeatureVector.
func FeaturesFromVector(values []float64) (PatientFeatures, error) {
	if len(values) != len(FeatureNames()) {
		return PatientFeatures{}, errFeatureCount(len(values))
	}
	return PatientFeatures{
		Age:        values[0],
		Sodium:     values[1],
		Creatinine: values[2],
		Urea:       values[3],
	}, nil
}
