package ml

import "testing"

func TestFeatureVectorOrder(t *testing.T) {
	f := PatientFeatures{Age: 65, Sodium: 135, Creatinine: 1.4, Urea: 40}
	vector := FeatureVector(f)
	if len(vector) != len(FeatureNames()) {
		t.Fatalf("unexpected vector length: %d", len(vector))
	}
	want := []float64{65, 135, 1.4, 40}
	for i := range want {
		if vector[i] != want[i] {
			t.Fatalf("feature %s: expected %f, got %f", FeatureNames()[i], want[i], vector[i])
		}
	}

	back, err := FeaturesFromVector(vector)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if back != f {
		t.Fatalf("expected %+v, got %+v", f, back)
	}
}

func TestFeaturesFromVectorLength(t *testing.T) {
	if _, err := FeaturesFromVector([]float64{1, 2, 3}); err == nil {
		t.Fatal("expected error for short vector")
	}
}
