package embedding

import "testing"

func within(a, b, eps float32) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= eps
}

func TestNewNormalizes(t *testing.T) {
	e := New([]float32{3, 4, 0})
	want := []float32{0.6, 0.8, 0}
	for i, v := range e.Vec() {
		if !within(v, want[i], 1e-5) {
			t.Errorf("vec[%d] = %f, want %f", i, v, want[i])
		}
	}
}

func TestNewZeroVector(t *testing.T) {
	e := New([]float32{0, 0, 0})
	if !e.IsZero() {
		t.Errorf("expected zero vector, got %v", e.Vec())
	}
}

func TestSelfSimilarity(t *testing.T) {
	e := New([]float32{1, 2, 3, 4})
	sim := e.Similarity(e)
	if !within(sim, 1.0, 1e-5) {
		t.Errorf("self-similarity = %f, want ~1.0", sim)
	}
}

func TestBlendEndpoints(t *testing.T) {
	a := New([]float32{1, 0})
	b := New([]float32{0, 1})

	gotA := Blend(a, b, 1)
	for i, v := range gotA.Vec() {
		if !within(v, a.Vec()[i], 1e-5) {
			t.Errorf("blend(a,b,1)[%d] = %f, want %f", i, v, a.Vec()[i])
		}
	}

	gotB := Blend(a, b, 0)
	for i, v := range gotB.Vec() {
		if !within(v, b.Vec()[i], 1e-5) {
			t.Errorf("blend(a,b,0)[%d] = %f, want %f", i, v, b.Vec()[i])
		}
	}
}

func TestCentroid(t *testing.T) {
	a := New([]float32{1, 0})
	b := New([]float32{1, 0})
	c := Centroid([]Embedding{a, b})
	if !within(c.Similarity(a), 1.0, 1e-5) {
		t.Errorf("centroid of identical vectors should equal them, sim=%f", c.Similarity(a))
	}
}

func TestDistance(t *testing.T) {
	a := New([]float32{1, 0})
	b := New([]float32{0, 1})
	d := a.Distance(b)
	if !within(d, 1.0, 1e-5) {
		t.Errorf("orthogonal distance = %f, want 1.0", d)
	}
}
