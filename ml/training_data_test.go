package ml

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = "\ufeffPatientID,Urea,Age,Sodium,Creatinine,Readmitted,Severity\n" +
	"p1,30,67,138,1.2,1.0,Medium\n" +
	"p2,12,45,141,0.8,0,Low\n" +
	"p3,75,81,129,2.9, 1 ,High\n"

func TestReadDataset(t *testing.T) {
	ds, err := ReadDataset(strings.NewReader(sampleCSV), "Readmitted", "Severity")
	require.NoError(t, err)

	require.Len(t, ds.Features, 3)
	assert.Equal(t, []float64{67, 138, 1.2, 30}, ds.Features[0])
	assert.Equal(t, []string{"1", "0", "1"}, ds.Targets["Readmitted"])
	assert.Equal(t, []string{"Medium", "Low", "High"}, ds.Targets["Severity"])
}

func TestLoadDataset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patients.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o600))

	ds, err := LoadDataset(path, "Severity")
	require.NoError(t, err)
	assert.Len(t, ds.Features, 3)
	assert.NotContains(t, ds.Targets, "Readmitted")

	_, err = LoadDataset(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestReadDatasetErrors(t *testing.T) {
	_, err := ReadDataset(strings.NewReader("Age,Sodium,Urea\n1,2,3\n"))
	assert.ErrorContains(t, err, `missing column "Creatinine"`)

	_, err = ReadDataset(strings.NewReader("Age,Sodium,Creatinine,Urea\n1,2,x,4\n"))
	assert.ErrorContains(t, err, "line 2")

	_, err = ReadDataset(strings.NewReader("Age,Sodium,Creatinine,Urea,Severity\n1,2,3,4,\n"), "Severity")
	assert.ErrorContains(t, err, "empty")

	_, err = ReadDataset(strings.NewReader("Age,Sodium,Creatinine,Urea\n"))
	assert.ErrorIs(t, err, ErrEmptyDataset)
}

func TestEncodeLabels(t *testing.T) {
	classes, encoded := EncodeLabels([]string{"10", "2", "2", "1"})
	assert.Equal(t, []string{"1", "2", "10"}, classes)
	assert.Equal(t, []int{2, 1, 1, 0}, encoded)

	classes, _ = EncodeLabels([]string{"Medium", "High", "Low"})
	assert.Equal(t, []string{"High", "Low", "Medium"}, classes)

	assert.Equal(t, "1", NormalizeLabel(" 1.0 "))
	assert.Equal(t, "0.5", NormalizeLabel("0.5"))
	assert.Equal(t, "High", NormalizeLabel("High"))
}

func TestStratifiedSplit(t *testing.T) {
	features, readmission, _ := syntheticPatients(200, 30)
	trainX, trainY, testX, testY := StratifiedSplit(features, readmission, 0.2, 42)

	assert.Len(t, trainX, len(trainY))
	assert.Len(t, testX, len(testY))
	assert.Equal(t, 200, len(trainX)+len(testX))
	assert.InDelta(t, 40, len(testX), 1)

	ratio := func(labels []string) float64 {
		n := 0
		for _, l := range labels {
			if l == "1" {
				n++
			}
		}
		return float64(n) / float64(len(labels))
	}
	assert.InDelta(t, ratio(readmission), ratio(testY), 0.05)

	_, _, againX, _ := StratifiedSplit(features, readmission, 0.2, 42)
	assert.Equal(t, testX, againX)
}
