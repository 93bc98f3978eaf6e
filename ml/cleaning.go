package ml

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// CleaningRule checks one feature row in model order. Apply returns the row,
// possibly rewritten, or an error to reject it.
type CleaningRule interface {
	Apply(row []float64) ([]float64, error)
	Name() string
}

// QualityIssue is one rejected row. Line is the 1-based CSV line, counting
// the header.
type QualityIssue struct {
	Rule    string `json:"rule"`
	Line    int    `json:"line"`
	Message string `json:"message"`
}

func (q QualityIssue) String() string {
	return fmt.Sprintf("line %d: %s: %s", q.Line, q.Rule, q.Message)
}

// CleaningStats 清洗统计
type CleaningStats struct {
	TotalProcessed int            `json:"total_processed"`
	Passed         int            `json:"passed"`
	Rejected       int            `json:"rejected"`
	Corrected      int            `json:"corrected"`
	Issues         map[string]int `json:"issues"`
}

// Summary renders the per-rule rejection counts in rule name order.
func (s CleaningStats) Summary() string {
	names := make([]string, 0, len(s.Issues))
	for name := range s.Issues {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + "=" + strconv.Itoa(s.Issues[name])
	}
	return strings.Join(parts, " ")
}

// DataCleaner drops training rows that fail any rule. It is not safe for
// concurrent use.
type DataCleaner struct {
	rules []CleaningRule
	stats CleaningStats
}

// NewDataCleaner builds a cleaner with the given rules, or with the
// finite-value and range rules when none are given.
func NewDataCleaner(rules ...CleaningRule) *DataCleaner {
	if len(rules) == 0 {
		rules = []CleaningRule{FiniteValueRule{}, NewRangeValidationRule()}
	}
	return &DataCleaner{
		rules: rules,
		stats: CleaningStats{Issues: make(map[string]int)},
	}
}

// AddRule 添加清洗规则
func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
}

// Clean returns a copy of ds without the rejected rows. Label columns are
// filtered in step with the features.
func (dc *DataCleaner) Clean(ds *Dataset) (*Dataset, []QualityIssue) {
	cleaned := &Dataset{Targets: make(map[string][]string, len(ds.Targets))}
	var issues []QualityIssue

	for i, original := range ds.Features {
		dc.stats.TotalProcessed++
		row := append([]float64(nil), original...)
		var rowIssues []QualityIssue

		for _, rule := range dc.rules {
			next, err := rule.Apply(row)
			if err != nil {
				rowIssues = append(rowIssues, QualityIssue{Rule: rule.Name(), Line: i + 2, Message: err.Error()})
				dc.stats.Issues[rule.Name()]++
				break
			}
			if next != nil {
				row = next
			}
		}

		if len(rowIssues) > 0 {
			dc.stats.Rejected++
			issues = append(issues, rowIssues...)
			continue
		}
		if !equalRows(original, row) {
			dc.stats.Corrected++
		}
		dc.stats.Passed++
		cleaned.Features = append(cleaned.Features, row)
		for name, labels := range ds.Targets {
			cleaned.Targets[name] = append(cleaned.Targets[name], labels[i])
		}
	}
	return cleaned, issues
}

// GetStats 获取统计信息
func (dc *DataCleaner) GetStats() CleaningStats {
	stats := dc.stats
	stats.Issues = make(map[string]int, len(dc.stats.Issues))
	for k, v := range dc.stats.Issues {
		stats.Issues[k] = v
	}
	return stats
}

func equalRows(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ============ 清洗规则实现 ============

// FiniteValueRule rejects NaN and infinite values, which the CSV parser
// accepts as "NaN" and "Inf".
type FiniteValueRule struct{}

func (FiniteValueRule) Name() string { return "finite_value" }

func (FiniteValueRule) Apply(row []float64) ([]float64, error) {
	names := FeatureNames()
	for i, v := range row {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%s is %v", names[i], v)
		}
	}
	return row, nil
}

// Bound is an inclusive value range.
type Bound struct {
	Min float64
	Max float64
}

// RangeValidationRule rejects values outside plausible clinical ranges.
// Features without a bound are not checked.
type RangeValidationRule struct {
	Bounds map[string]Bound
}

func NewRangeValidationRule() *RangeValidationRule {
	return &RangeValidationRule{
		Bounds: map[string]Bound{
			"Age":        {Min: 0, Max: 120},
			"Sodium":     {Min: 90, Max: 200}, // mmol/L
			"Creatinine": {Min: 0, Max: 25},   // mg/dL
			"Urea":       {Min: 0, Max: 400},  // mg/dL
		},
	}
}

func (r *RangeValidationRule) Name() string { return "range_validation" }

func (r *RangeValidationRule) Apply(row []float64) ([]float64, error) {
	for i, name := range FeatureNames() {
		bound, ok := r.Bounds[name]
		if !ok || i >= len(row) {
			continue
		}
		if row[i] < bound.Min || row[i] > bound.Max {
			return nil, fmt.Errorf("%s %g out of range [%g, %g]", name, row[i], bound.Min, bound.Max)
		}
	}
	return row, nil
}

// DuplicateDetectionRule rejects a feature row seen before in the same
// cleaner.
type DuplicateDetectionRule struct {
	seen map[string]struct{}
}

func NewDuplicateDetectionRule() *DuplicateDetectionRule {
	return &DuplicateDetectionRule{seen: make(map[string]struct{})}
}

func (r *DuplicateDetectionRule) Name() string { return "duplicate_detection" }

func (r *DuplicateDetectionRule) Apply(row []float64) ([]float64, error) {
	key := fmt.Sprint(row)
	if _, exists := r.seen[key]; exists {
		return nil, fmt.Errorf("duplicate row %s", key)
	}
	r.seen[key] = struct{}{}
	return row, nil
}
