package ml

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataCleanerDropsInvalidRows(t *testing.T) {
	ds := &Dataset{
		Features: [][]float64{
			{65, 135, 1.4, 40},
			{math.NaN(), 135, 1.4, 40},
			{70, 300, 1.2, 30},
			{50, 140, 0.9, 20},
			{45, 138, math.Inf(1), 25},
		},
		Targets: map[string][]string{
			"Readmission": {"1", "0", "1", "0", "1"},
			"Severity":    {"High", "Low", "Medium", "Low", "High"},
		},
	}

	cleaner := NewDataCleaner()
	cleaned, issues := cleaner.Clean(ds)

	assert.Equal(t, [][]float64{{65, 135, 1.4, 40}, {50, 140, 0.9, 20}}, cleaned.Features)
	assert.Equal(t, []string{"1", "0"}, cleaned.Targets["Readmission"])
	assert.Equal(t, []string{"High", "Low"}, cleaned.Targets["Severity"])

	require.Len(t, issues, 3)
	assert.Equal(t, QualityIssue{Rule: "finite_value", Line: 3, Message: "Age is NaN"}, issues[0])
	assert.Equal(t, "range_validation", issues[1].Rule)
	assert.Equal(t, 4, issues[1].Line)
	assert.Contains(t, issues[1].Message, "Sodium 300 out of range")
	assert.Equal(t, "line 6: finite_value: Creatinine is +Inf", issues[2].String())

	stats := cleaner.GetStats()
	assert.Equal(t, 5, stats.TotalProcessed)
	assert.Equal(t, 2, stats.Passed)
	assert.Equal(t, 3, stats.Rejected)
	assert.Zero(t, stats.Corrected)
	assert.Equal(t, "finite_value=2 range_validation=1", stats.Summary())

	// the input is left untouched
	assert.Len(t, ds.Features, 5)
}

func TestDuplicateDetectionRule(t *testing.T) {
	ds := &Dataset{
		Features: [][]float64{{65, 135, 1.4, 40}, {65, 135, 1.4, 40}, {66, 135, 1.4, 40}},
		Targets:  map[string][]string{"Severity": {"High", "Low", "High"}},
	}
	cleaner := NewDataCleaner(NewDuplicateDetectionRule())
	cleaned, issues := cleaner.Clean(ds)

	assert.Len(t, cleaned.Features, 2)
	assert.Equal(t, []string{"High", "High"}, cleaned.Targets["Severity"])
	require.Len(t, issues, 1)
	assert.Equal(t, 3, issues[0].Line)
}

type roundingRule struct{}

func (roundingRule) Name() string { return "rounding" }

func (roundingRule) Apply(row []float64) ([]float64, error) {
	out := make([]float64, len(row))
	for i, v := range row {
		out[i] = math.Round(v)
	}
	return out, nil
}

func TestDataCleanerCountsCorrections(t *testing.T) {
	ds := &Dataset{
		Features: [][]float64{{65.4, 135, 1, 40}, {50, 140, 1, 20}},
		Targets:  map[string][]string{},
	}
	cleaner := NewDataCleaner(roundingRule{})
	cleaned, issues := cleaner.Clean(ds)

	assert.Empty(t, issues)
	assert.Equal(t, []float64{65, 135, 1, 40}, cleaned.Features[0])
	assert.Equal(t, 65.4, ds.Features[0][0])
	assert.Equal(t, 1, cleaner.GetStats().Corrected)
}
