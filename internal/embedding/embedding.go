// Package embedding implements the unit-normalized vector type shared by
// every encoder, sidecar, and ranking path in Scout. Cosine similarity is
// always a plain dot product because every Embedding in memory is
// guaranteed L2-normalized (or exactly zero).
package embedding

import "math"

// Embedding is an L2-normalized float32 vector.
type Embedding struct {
	vec []float32
}

// New L2-normalizes v and wraps it. A zero-norm input yields a zero vector
// rather than NaN.
func New(v []float32) Embedding {
	return Embedding{vec: normalize(v)}
}

// Raw wraps v without renormalizing — for vectors already known to be
// normalized, e.g. ones just deserialized from a sidecar.
func Raw(v []float32) Embedding {
	return Embedding{vec: v}
}

// Vec returns the underlying slice. Callers must not mutate it.
func (e Embedding) Vec() []float32 { return e.vec }

// Dim returns the vector's dimensionality.
func (e Embedding) Dim() int { return len(e.vec) }

// IsZero reports whether this is the zero vector (norm collapsed to 0 on
// construction).
func (e Embedding) IsZero() bool {
	for _, x := range e.vec {
		if x != 0 {
			return false
		}
	}
	return true
}

// Similarity returns the cosine similarity between two normalized
// embeddings, i.e. their dot product. Both operands must have equal
// dimension; mismatched dimensions yield 0.
func (e Embedding) Similarity(o Embedding) float32 {
	if len(e.vec) != len(o.vec) {
		return 0
	}
	var sum float32
	for i, x := range e.vec {
		sum += x * o.vec[i]
	}
	return sum
}

// Distance is cosine distance, 1 - Similarity, used by clustering and LOF.
func (e Embedding) Distance(o Embedding) float32 {
	return 1 - e.Similarity(o)
}

// Blend combines two embeddings as wA*a + (1-wA)*b, then renormalizes.
// wA=1 returns a (up to renormalization), wA=0 returns b.
func Blend(a, b Embedding, wA float32) Embedding {
	wB := 1 - wA
	n := len(a.vec)
	if len(b.vec) < n {
		n = len(b.vec)
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = a.vec[i]*wA + b.vec[i]*wB
	}
	return New(out)
}

// Centroid returns the mean of xs, renormalized. Returns the zero value for
// an empty input.
func Centroid(xs []Embedding) Embedding {
	if len(xs) == 0 {
		return Embedding{}
	}
	dim := xs[0].Dim()
	sum := make([]float32, dim)
	for _, x := range xs {
		for i, v := range x.vec {
			if i < dim {
				sum[i] += v
			}
		}
	}
	n := float32(len(xs))
	for i := range sum {
		sum[i] /= n
	}
	return New(sum)
}

func normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm < 1e-10 {
		copy(out, v)
		return out
	}
	inv := float32(1.0 / norm)
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}
