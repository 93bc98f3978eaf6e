package ml

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Dataset is the training table: the four features plus one label column
// per target.
type Dataset struct {
	Features [][]float64
	Targets  map[string][]string
}

// LoadDataset reads a CSV with a header row. Columns are located by name,
// so their order in the file does not matter. A UTF-8 byte order mark, as
// written by spreadsheet exports, is stripped.
func LoadDataset(path string, targets ...string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadDataset(file, targets...)
}

func ReadDataset(r io.Reader, targets ...string) (*Dataset, error) {
	reader := csv.NewReader(transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}

	names := FeatureNames()
	featureCols := make([]int, len(names))
	for i, name := range names {
		col, ok := columns[name]
		if !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
		featureCols[i] = col
	}
	targetCols := make(map[string]int, len(targets))
	for _, target := range targets {
		col, ok := columns[target]
		if !ok {
			return nil, fmt.Errorf("missing column %q", target)
		}
		targetCols[target] = col
	}

	ds := &Dataset{Targets: make(map[string][]string, len(targets))}
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row := make([]float64, len(names))
		for i, col := range featureCols {
			value, err := strconv.ParseFloat(strings.TrimSpace(record[col]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: column %q: %w", line, names[i], err)
			}
			row[i] = value
		}
		for target, col := range targetCols {
			label := NormalizeLabel(record[col])
			if label == "" {
				return nil, fmt.Errorf("line %d: empty %q label", line, target)
			}
			ds.Targets[target] = append(ds.Targets[target], label)
		}
		ds.Features = append(ds.Features, row)
	}
	if len(ds.Features) == 0 {
		return nil, ErrEmptyDataset
	}
	return ds, nil
}

// NormalizeLabel trims a label and rewrites integral numbers without a
// fractional part, so "1.0" and "1" name the same class.
func NormalizeLabel(raw string) string {
	label := strings.TrimSpace(raw)
	if value, err := strconv.ParseFloat(label, 64); err == nil && value == math.Trunc(value) && !math.IsInf(value, 0) {
		return strconv.FormatInt(int64(value), 10)
	}
	return label
}

// EncodeLabels maps labels to class indices. Classes are sorted numerically
// when every label is a number, otherwise lexically.
func EncodeLabels(labels []string) (classes []string, encoded []int) {
	seen := make(map[string]bool)
	for _, label := range labels {
		if !seen[label] {
			seen[label] = true
			classes = append(classes, label)
		}
	}
	numeric := true
	for _, class := range classes {
		if _, err := strconv.ParseFloat(class, 64); err != nil {
			numeric = false
			break
		}
	}
	sort.Slice(classes, func(i, j int) bool {
		if numeric {
			a, _ := strconv.ParseFloat(classes[i], 64)
			b, _ := strconv.ParseFloat(classes[j], 64)
			return a < b
		}
		return classes[i] < classes[j]
	})

	index := make(map[string]int, len(classes))
	for i, class := range classes {
		index[class] = i
	}
	encoded = make([]int, len(labels))
	for i, label := range labels {
		encoded[i] = index[label]
	}
	return classes, encoded
}

// StratifiedSplit shuffles each class separately with a fixed seed and moves
// round(testRatio * class size) of it to the test side. With a single class
// it degrades to a plain shuffled split.
func StratifiedSplit(features [][]float64, labels []string, testRatio float64, seed int64) (trainX [][]float64, trainY []string, testX [][]float64, testY []string) {
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.2
	}
	rnd := rand.New(rand.NewSource(seed))

	groups := make(map[string][]int)
	var order []string
	for i, label := range labels {
		if _, ok := groups[label]; !ok {
			order = append(order, label)
		}
		groups[label] = append(groups[label], i)
	}
	sort.Strings(order)

	var trainIdx, testIdx []int
	for _, label := range order {
		idx := groups[label]
		rnd.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		n := int(math.Round(float64(len(idx)) * testRatio))
		if len(order) > 1 && n == 0 && len(idx) > 1 {
			n = 1
		}
		testIdx = append(testIdx, idx[:n]...)
		trainIdx = append(trainIdx, idx[n:]...)
	}
	sort.Ints(trainIdx)
	sort.Ints(testIdx)
	rnd.Shuffle(len(testIdx), func(i, j int) { testIdx[i], testIdx[j] = testIdx[j], testIdx[i] })

	for _, i := range trainIdx {
		trainX = append(trainX, features[i])
		trainY = append(trainY, labels[i])
	}
	for _, i := range testIdx {
		testX = append(testX, features[i])
		testY = append(testY, labels[i])
	}
	return trainX, trainY, testX, testY
}
