package ml

import "math/rand"

// syntheticPatients returns feature rows with readmission and severity
// labels that depend on them deterministically.
func syntheticPatients(n int, seed int64) ([][]float64, []string, []string) {
	rnd := rand.New(rand.NewSource(seed))
	features := make([][]float64, n)
	readmission := make([]string, n)
	severity := make([]string, n)
	for i := 0; i < n; i++ {
		age := 20 + rnd.Float64()*70
		sodium := 125 + rnd.Float64()*25
		creatinine := 0.5 + rnd.Float64()*2.5
		urea := 10 + rnd.Float64()*70
		features[i] = []float64{age, sodium, creatinine, urea}

		readmission[i] = "0"
		if creatinine > 1.8 || age > 78 {
			readmission[i] = "1"
		}
		score := urea/20 + creatinine
		switch {
		case score < 2.5:
			severity[i] = "Low"
		case score < 4.5:
			severity[i] = "Medium"
		default:
			severity[i] = "High"
		}
	}
	return features, readmission, severity
}

func smallForestOptions() TrainOptions {
	opts := DefaultTrainOptions()
	opts.Forest.NEstimators = 15
	opts.BackgroundSize = 30
	opts.Explain.Permutations = 16
	return opts
}
