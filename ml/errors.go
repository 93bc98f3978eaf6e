package ml

import (
	"errors"
	"fmt"
)

var (
	ErrNotTrained       = errors.New("model not trained")
	ErrEmptyDataset     = errors.New("features or labels empty")
	ErrSizeMismatch     = errors.New("features and labels size mismatch")
	ErrAttributionShape = errors.New("unexpected attribution shape")
	ErrUnsupportedModel = errors.New("unsupported model type")
)

func errFeatureCount(got int) error {
	return fmt.Errorf("expected %d features, got %d", len(FeatureNames()), got)
}
