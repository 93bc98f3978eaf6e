package ml

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mattn/go-runewidth"
)

func Accuracy(actual, predicted []string) float64 {
	if len(actual) == 0 || len(actual) != len(predicted) {
		return 0
	}
	correct := 0
	for i := range actual {
		if actual[i] == predicted[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(actual))
}

// ROCAUC computes the area under the ROC curve from the scores of the
// positive class, counting ties as half.
func ROCAUC(actual []string, scores []float64, positive string) (float64, error) {
	if len(actual) != len(scores) {
		return 0, ErrSizeMismatch
	}
	type scored struct {
		score    float64
		positive bool
	}
	items := make([]scored, len(actual))
	var pos, neg int
	for i, label := range actual {
		items[i] = scored{score: scores[i], positive: label == positive}
		if items[i].positive {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return 0, errors.New("ROC AUC needs both classes in the test set")
	}
	sort.Slice(items, func(i, j int) bool { return items[i].score < items[j].score })

	// average ranks over tied scores
	rankSum := 0.0
	for i := 0; i < len(items); {
		j := i
		for j < len(items) && items[j].score == items[i].score {
			j++
		}
		rank := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			if items[k].positive {
				rankSum += rank
			}
		}
		i = j
	}
	p, n := float64(pos), float64(neg)
	return (rankSum - p*(p+1)/2) / (p * n), nil
}

// ConfusionMatrix counts rows by actual label and columns by predicted label.
func ConfusionMatrix(actual, predicted []string, labels []string) [][]int {
	index := make(map[string]int, len(labels))
	for i, label := range labels {
		index[label] = i
	}
	matrix := make([][]int, len(labels))
	for i := range matrix {
		matrix[i] = make([]int, len(labels))
	}
	for i := range actual {
		a, okA := index[actual[i]]
		p, okP := index[predicted[i]]
		if okA && okP {
			matrix[a][p]++
		}
	}
	return matrix
}

type ClassMetrics struct {
	Label     string
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

type ClassificationReport struct {
	Classes     []ClassMetrics
	Accuracy    float64
	MacroAvg    ClassMetrics
	WeightedAvg ClassMetrics
}

func NewClassificationReport(actual, predicted []string, labels []string) ClassificationReport {
	matrix := ConfusionMatrix(actual, predicted, labels)
	report := ClassificationReport{Accuracy: Accuracy(actual, predicted)}
	total := 0
	for i, label := range labels {
		tp := matrix[i][i]
		support, predictedCount := 0, 0
		for j := range labels {
			support += matrix[i][j]
			predictedCount += matrix[j][i]
		}
		m := ClassMetrics{Label: label, Support: support}
		if predictedCount > 0 {
			m.Precision = float64(tp) / float64(predictedCount)
		}
		if support > 0 {
			m.Recall = float64(tp) / float64(support)
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		report.Classes = append(report.Classes, m)
		total += support
	}

	report.MacroAvg = ClassMetrics{Label: "macro avg", Support: total}
	report.WeightedAvg = ClassMetrics{Label: "weighted avg", Support: total}
	if len(labels) == 0 || total == 0 {
		return report
	}
	for _, m := range report.Classes {
		report.MacroAvg.Precision += m.Precision / float64(len(labels))
		report.MacroAvg.Recall += m.Recall / float64(len(labels))
		report.MacroAvg.F1 += m.F1 / float64(len(labels))
		w := float64(m.Support) / float64(total)
		report.WeightedAvg.Precision += m.Precision * w
		report.WeightedAvg.Recall += m.Recall * w
		report.WeightedAvg.F1 += m.F1 * w
	}
	return report
}

// Format renders the report as an aligned text table.
func (r ClassificationReport) Format() string {
	width := runewidth.StringWidth("weighted avg")
	for _, m := range r.Classes {
		if w := runewidth.StringWidth(m.Label); w > width {
			width = w
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %10s %10s %10s %10s\n", runewidth.FillLeft("", width), "precision", "recall", "f1-score", "support")
	row := func(m ClassMetrics) {
		fmt.Fprintf(&b, "%s %10.2f %10.2f %10.2f %10d\n", runewidth.FillLeft(m.Label, width), m.Precision, m.Recall, m.F1, m.Support)
	}
	for _, m := range r.Classes {
		row(m)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %10s %10s %10.2f %10d\n", runewidth.FillLeft("accuracy", width), "", "", r.Accuracy, r.MacroAvg.Support)
	row(r.MacroAvg)
	row(r.WeightedAvg)
	return b.String()
}

// FormatMatrix renders a confusion matrix with its labels.
func FormatMatrix(matrix [][]int, labels []string) string {
	width := 0
	for _, label := range labels {
		if w := runewidth.StringWidth(label); w > width {
			width = w
		}
	}
	cell := width + 1
	if cell < 6 {
		cell = 6
	}
	for _, row := range matrix {
		for _, v := range row {
			if w := len(fmt.Sprint(v)) + 1; w > cell {
				cell = w
			}
		}
	}

	var b strings.Builder
	b.WriteString(runewidth.FillLeft("", width))
	for _, label := range labels {
		b.WriteString(runewidth.FillLeft(label, cell))
	}
	b.WriteString("\n")
	for i, row := range matrix {
		b.WriteString(runewidth.FillLeft(labels[i], width))
		for _, v := range row {
			b.WriteString(runewidth.FillLeft(fmt.Sprint(v), cell))
		}
		b.WriteString("\n")
	}
	return b.String()
}
