package cluster

import (
	"testing"
	"time"

	"github.com/hyphonical/scout/internal/embedding"
)

func vec(vals ...float32) embedding.Embedding {
	return embedding.Raw(vals)
}

// twoBlobItems builds two well-separated Euclidean blobs so the simplified
// largest-gap densifier reliably finds two clusters and no noise.
func twoBlobItems() []Item {
	blobA := [][]float32{{0, 0}, {0.1, 0}, {0, 0.1}, {0.1, 0.1}}
	blobB := [][]float32{{10, 10}, {10.1, 10}, {10, 10.1}, {10.1, 10.1}}
	var items []Item
	for i, v := range blobA {
		items = append(items, Item{Hash: hashName("a", i), Embedding: vec(v[0], v[1])})
	}
	for i, v := range blobB {
		items = append(items, Item{Hash: hashName("b", i), Embedding: vec(v[0], v[1])})
	}
	return items
}

func hashName(prefix string, i int) string {
	return prefix + string(rune('0'+i))
}

func TestRunFindsTwoSeparatedClusters(t *testing.T) {
	items := twoBlobItems()
	params := Params{MinClusterSize: 2}
	db, err := Run(items, params, nil, NewDensifier(), time.Unix(0, 0))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(db.Clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d (noise=%v)", len(db.Clusters), db.Noise)
	}
	if len(db.Noise) != 0 {
		t.Errorf("expected no noise, got %v", db.Noise)
	}
	// Largest-size-first ordering: both blobs are the same size (4), so
	// either order is acceptable, but IDs must be 0 and 1.
	if db.Clusters[0].ID != 0 || db.Clusters[1].ID != 1 {
		t.Errorf("expected reassigned IDs 0,1, got %d,%d", db.Clusters[0].ID, db.Clusters[1].ID)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	items := twoBlobItems()
	params := Params{MinClusterSize: 2}
	db1, err := Run(items, params, nil, NewDensifier(), time.Unix(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	db2, err := Run(items, params, nil, NewDensifier(), time.Unix(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if db1.ContentHash != db2.ContentHash {
		t.Fatalf("expected identical content hash across runs, got %d vs %d", db1.ContentHash, db2.ContentHash)
	}
}

func TestRunRejectsEmptyInput(t *testing.T) {
	_, err := Run(nil, Params{MinClusterSize: 2}, nil, NewDensifier(), time.Unix(0, 0))
	if err == nil {
		t.Fatal("expected error clustering zero items")
	}
}

func TestRepresentativeAndCohesionSingleton(t *testing.T) {
	items := []Item{{Hash: "only", Embedding: embedding.New([]float32{1, 0})}}
	rep, cohesion := representativeAndCohesion(items, []int{0})
	if rep != "only" {
		t.Errorf("rep = %s, want 'only'", rep)
	}
	if cohesion != 1.0 {
		t.Errorf("singleton cohesion = %f, want 1.0", cohesion)
	}
}

func TestValidCacheMatch(t *testing.T) {
	items := twoBlobItems()
	params := Params{MinClusterSize: 2}
	db, err := Run(items, params, nil, NewDensifier(), time.Unix(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if !Valid(db, params, db.ContentHash) {
		t.Error("expected cached database to validate against its own content hash")
	}
}

func TestPCAReducerPreservesPointCount(t *testing.T) {
	x := [][]float32{{1, 2, 3, 4}, {5, 6, 7, 8}, {9, 10, 11, 12}}
	r := NewReducer()
	out, err := r.Reduce(x, 2, 2)
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(out))
	}
	for _, row := range out {
		if len(row) != 2 {
			t.Fatalf("expected 2 components, got %d", len(row))
		}
	}
}
