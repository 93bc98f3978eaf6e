package inference

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"healthai/ml"
)

func trainTestPipelines(t *testing.T) (readmission, severity *ml.Pipeline) {
	t.Helper()
	rnd := rand.New(rand.NewSource(7))
	n := 160
	features := make([][]float64, n)
	readmitted := make([]string, n)
	grade := make([]string, n)
	for i := range features {
		age := 20 + rnd.Float64()*70
		sodium := 125 + rnd.Float64()*25
		creatinine := 0.5 + rnd.Float64()*2.5
		urea := 10 + rnd.Float64()*70
		features[i] = []float64{age, sodium, creatinine, urea}
		readmitted[i] = "0"
		if creatinine > 1.8 || age > 78 {
			readmitted[i] = "1"
		}
		switch score := urea/20 + creatinine; {
		case score < 2.5:
			grade[i] = "Low"
		case score < 4.5:
			grade[i] = "Medium"
		default:
			grade[i] = "High"
		}
	}

	opts := ml.DefaultTrainOptions()
	opts.Forest.NEstimators = 10
	opts.BackgroundSize = 20
	opts.Explain.Permutations = 8

	var err error
	readmission, err = ml.TrainPipeline(context.Background(), ReadmissionModel, features, readmitted, opts)
	require.NoError(t, err)
	severity, err = ml.TrainPipeline(context.Background(), SeverityModel, features, grade, opts)
	require.NoError(t, err)
	return readmission, severity
}
