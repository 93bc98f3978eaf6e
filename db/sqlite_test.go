package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "healthai.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPredictionsRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, patient := range []string{"p1", "p2", "p1"} {
		require.NoError(t, store.SavePrediction(ctx, Prediction{
			ID:                 "id-" + string(rune('a'+i)),
			PatientID:          patient,
			Features:           [4]float64{65, 135, 1.4, 40},
			Readmission:        "1",
			Severity:           "High",
			RiskScore:          0.8,
			HighRiskConditions: "Creatinine,Urea",
			ModelGeneration:    3,
			CreatedAt:          base.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := store.QueryPredictions(ctx, "p1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "id-c", got[0].ID)
	assert.Equal(t, "id-a", got[1].ID)
	assert.Equal(t, [4]float64{65, 135, 1.4, 40}, got[0].Features)
	assert.Equal(t, uint64(3), got[0].ModelGeneration)
	assert.True(t, base.Add(2*time.Minute).Equal(got[0].CreatedAt))

	all, err := store.QueryPredictions(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := store.QueryPredictions(ctx, "nobody", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSavePredictionRequiresID(t *testing.T) {
	store := openTestStore(t)
	assert.Error(t, store.SavePrediction(context.Background(), Prediction{}))
}

func TestTrainingLog(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveTrainingLog(ctx, TrainingLog{ModelName: "readmission", Classifier: "random_forest", Accuracy: 0.9, ROCAUC: 0.95, DataPoints: 80, TrainedAt: time.Now().UTC().Add(-time.Hour)}))
	require.NoError(t, store.SaveTrainingLog(ctx, TrainingLog{ModelName: "severity", Classifier: "random_forest", Accuracy: 0.8, DataPoints: 80}))

	logs, err := store.LoadTrainingLog(ctx)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "severity", logs[0].ModelName)
	assert.Equal(t, 0.95, logs[1].ROCAUC)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}
