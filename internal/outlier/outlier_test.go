package outlier

import (
	"testing"

	"github.com/hyphonical/scout/internal/embedding"
)

func TestComputeRejectsTooFewPoints(t *testing.T) {
	items := []Item{
		{Path: "a", Embedding: embedding.New([]float32{1, 0})},
		{Path: "b", Embedding: embedding.New([]float32{0, 1})},
	}
	if _, err := Compute(items, 3, 10); err == nil {
		t.Fatal("expected error when N < k+1")
	}
}

func TestComputeFlagsSyntheticOutlier(t *testing.T) {
	var items []Item
	// A tight cluster of near-identical points...
	for i := 0; i < 8; i++ {
		items = append(items, Item{Path: "cluster", Embedding: embedding.New([]float32{1, 0.001 * float32(i)})})
	}
	// ...plus one clear outlier.
	items = append(items, Item{Path: "outlier", Embedding: embedding.New([]float32{-1, 0.5})})

	results, err := Compute(items, 3, len(items))
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if results[0].Path != "outlier" {
		t.Errorf("expected the synthetic outlier to rank first, got %s (LOF=%f)", results[0].Path, results[0].LOF)
	}
	if results[0].LOF <= 1.0 {
		t.Errorf("expected outlier LOF > 1.0, got %f", results[0].LOF)
	}
}

func TestComputeRespectsLimit(t *testing.T) {
	var items []Item
	for i := 0; i < 10; i++ {
		items = append(items, Item{Path: "p", Embedding: embedding.New([]float32{float32(i), 1})})
	}
	results, err := Compute(items, 3, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
}
